package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict: member already registered")
	ErrUnauthorized    = errors.New("upstream rejected credential")
	ErrInvalidEvent    = errors.New("invalid webhook event: object_type, aspect_type, object_id and owner_id are required")
	ErrInvalidMember   = errors.New("invalid member: athlete_id and access_token are required")
	ErrAlreadyQueued   = errors.New("item already has a pending entry; use update in place")
	ErrQueueClosed     = errors.New("delay queue is shut down")
	ErrLimiterClosed   = errors.New("rate limiter is closed")
	ErrLimiterReset    = errors.New("rate limiter was reset while the call was queued")
	ErrInvalidLimiter  = errors.New("rate limiter needs at least one window with a positive limit and duration")
	ErrVerifyTokenFail = errors.New("webhook verify token mismatch")
)
