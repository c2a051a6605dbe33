package domain

import (
	"strconv"
	"time"
)

// ItemStatus tracks where a pending activity is in the delay queue.
type ItemStatus string

const (
	ItemQueued      ItemStatus = "queued"
	ItemDispatching ItemStatus = "dispatching"
)

// Payload is the last-known webhook metadata for an activity.
// Update events overwrite it in place; the dispatcher hands it to the relay.
type Payload struct {
	AspectType AspectType        `json:"aspect_type"`
	EventTime  time.Time         `json:"event_time"`
	Updates    map[string]string `json:"updates,omitempty"`
}

// QueueItem is one pending activity awaiting dispatch.
// At most one QueueItem exists per ItemID at any time.
type QueueItem struct {
	ItemID      string     `json:"item_id"`
	SubjectID   string     `json:"subject_id"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	Payload     Payload    `json:"payload"`
	Status      ItemStatus `json:"status"`
}

// Key returns the ledger key for this item.
func (i QueueItem) Key() DedupKey {
	return DedupKey{SubjectID: i.SubjectID, ItemID: i.ItemID}
}

// DedupKey identifies an activity that has already been relayed or terminally filtered.
type DedupKey struct {
	SubjectID string
	ItemID    string
}

func (k DedupKey) String() string { return k.SubjectID + ":" + k.ItemID }

// Activity is the freshly fetched detail record for an item.
// Only the fields the eligibility filter and the relay need are mapped.
type Activity struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	SportType   string    `json:"sport_type"`
	Distance    float64   `json:"distance"`
	MovingTime  int       `json:"moving_time"`
	ElapsedTime int       `json:"elapsed_time"`
	StartDate   time.Time `json:"start_date"`
	Private     bool      `json:"private"`
	Visibility  string    `json:"visibility"`
	Athlete     struct {
		ID int64 `json:"id"`
	} `json:"athlete"`
}

// ItemID returns the activity id in the opaque string form used by the queue.
func (a *Activity) ItemID() string { return strconv.FormatInt(a.ID, 10) }

// MovingDuration converts MovingTime (seconds) to a time.Duration.
func (a *Activity) MovingDuration() time.Duration {
	return time.Duration(a.MovingTime) * time.Second
}

// RelayMessage is what the dispatcher hands to the downstream chat relay.
type RelayMessage struct {
	Member   Member
	Activity Activity
	Payload  Payload
}
