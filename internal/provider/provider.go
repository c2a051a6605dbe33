package provider

import (
	"context"

	"github.com/notifyhub/activity-relay/internal/domain"
)

// ActivityFetcher loads the current detail record of an activity from the
// upstream API. Calls are expected to go through the rate limiter.
type ActivityFetcher interface {
	FetchActivity(ctx context.Context, itemID, token string) (*domain.Activity, error)
}

// Relay delivers a processed activity to the downstream chat platform.
// A failed relay is terminal for the item.
type Relay interface {
	Relay(ctx context.Context, msg domain.RelayMessage) error
}
