// Package eligibility decides whether a fetched activity may be relayed.
// Check is a pure function of the activity and the clock: no I/O.
package eligibility

import (
	"fmt"
	"time"

	"github.com/notifyhub/activity-relay/internal/domain"
)

// Options tune the filter. Zero values disable the corresponding rule,
// except AllowPrivate whose zero value rejects private activities.
type Options struct {
	AllowPrivate      bool
	MinDistanceMeters float64
	MinMovingTime     time.Duration
	MaxAge            time.Duration
}

// Checker is the predicate the dispatcher consults after fetching detail.
type Checker interface {
	Check(a *domain.Activity, now time.Time) (bool, string)
}

type Filter struct {
	opts Options
}

func New(opts Options) *Filter {
	return &Filter{opts: opts}
}

// Check reports whether a may be relayed; when it may not, reason names the rule.
func (f *Filter) Check(a *domain.Activity, now time.Time) (bool, string) {
	if a == nil {
		return false, "no activity detail"
	}
	if !f.opts.AllowPrivate && (a.Private || a.Visibility == "only_me") {
		return false, "activity is private"
	}
	if f.opts.MinDistanceMeters > 0 && a.Distance < f.opts.MinDistanceMeters {
		return false, fmt.Sprintf("distance %.0fm below minimum %.0fm", a.Distance, f.opts.MinDistanceMeters)
	}
	if f.opts.MinMovingTime > 0 && a.MovingDuration() < f.opts.MinMovingTime {
		return false, fmt.Sprintf("moving time %s below minimum %s", a.MovingDuration(), f.opts.MinMovingTime)
	}
	if f.opts.MaxAge > 0 && !a.StartDate.IsZero() && now.Sub(a.StartDate) > f.opts.MaxAge {
		return false, fmt.Sprintf("started %s ago, older than %s", now.Sub(a.StartDate).Round(time.Minute), f.opts.MaxAge)
	}
	return true, ""
}

var _ Checker = (*Filter)(nil)
