package domain

import (
	"strconv"
	"time"
)

// ObjectType is the kind of upstream object a webhook event refers to.
type ObjectType string

const (
	ObjectActivity ObjectType = "activity"
	ObjectAthlete  ObjectType = "athlete"
)

// AspectType is the change that happened to the object.
type AspectType string

const (
	AspectCreate AspectType = "create"
	AspectUpdate AspectType = "update"
	AspectDelete AspectType = "delete"
)

// Action is the classifier's decision for an event.
type Action string

const (
	ActionEnqueue Action = "enqueue"
	ActionUpdate  Action = "update"
	ActionCancel  Action = "cancel"
	ActionIgnore  Action = "ignore"
)

// WebhookEvent is the inbound notification body posted by the upstream.
type WebhookEvent struct {
	ObjectType     ObjectType        `json:"object_type"`
	AspectType     AspectType        `json:"aspect_type"`
	ObjectID       int64             `json:"object_id"`
	OwnerID        int64             `json:"owner_id"`
	SubscriptionID int64             `json:"subscription_id"`
	EventTime      int64             `json:"event_time"`
	Updates        map[string]string `json:"updates,omitempty"`
}

// Validate checks the fields the pipeline relies on.
func (e *WebhookEvent) Validate() error {
	if e.ObjectType == "" || e.AspectType == "" {
		return ErrInvalidEvent
	}
	if e.ObjectID <= 0 || e.OwnerID <= 0 {
		return ErrInvalidEvent
	}
	return nil
}

func (e *WebhookEvent) ItemID() string    { return strconv.FormatInt(e.ObjectID, 10) }
func (e *WebhookEvent) SubjectID() string { return strconv.FormatInt(e.OwnerID, 10) }

// Payload converts the event into the metadata stored on the queue item.
func (e *WebhookEvent) Payload() Payload {
	p := Payload{AspectType: e.AspectType, Updates: e.Updates}
	if e.EventTime > 0 {
		p.EventTime = time.Unix(e.EventTime, 0).UTC()
	}
	return p
}
