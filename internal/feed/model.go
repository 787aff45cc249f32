// Package feed implements the fan-out pipeline: event consumers feed the
// membership table and the durable task queue, the processor drains the queue
// into per-user inbox entries, and the read service pages over those entries.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is a materialized inbox row, uniquely keyed by (message_id, user_id).
// TopicUserIDs is the set of memberships that caused the entry; redelivery
// merges into it, never duplicates.
type Entry struct {
	EntryID      uuid.UUID
	UserID       uuid.UUID
	MessageID    uuid.UUID
	TopicUserIDs []uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewEntry builds an entry with a fresh time-ordered id.
func NewEntry(userID, messageID uuid.UUID, topicUserIDs []uuid.UUID) Entry {
	now := time.Now().UTC()
	return Entry{
		EntryID:      uuid.Must(uuid.NewV7()),
		UserID:       userID,
		MessageID:    messageID,
		TopicUserIDs: topicUserIDs,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// TopicUser is a membership record linking a user to a topic. TopicUserID is
// time-ordered, so it doubles as the fan-out pagination cursor.
type TopicUser struct {
	TopicUserID uuid.UUID
	TopicID     uuid.UUID
	UserID      uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Task is a durable unit of pending fan-out work. A nil LockedAt means the
// task has never been claimed; completion is signalled by deletion.
type Task struct {
	TaskID    uuid.UUID
	Payload   Payload
	LockedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTask builds a task with a fresh time-ordered id and no lease.
func NewTask(payload Payload) Task {
	now := time.Now().UTC()
	return Task{
		TaskID:    uuid.Must(uuid.NewV7()),
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ErrUnknownTaskPayload reports a stored payload whose tag this binary does
// not know. Stored rows outlive deploys, so the tag set is open.
var ErrUnknownTaskPayload = errors.New("unknown task payload")

// Payload is the tagged variant stored in tasks.payload. Exactly one variant
// pointer is non-nil. The JSON form is externally tagged:
//
//	{"CreateMessageTopic": {"message_id": ..., "topic_id": ..., "last_topic_user_id": ...}}
type Payload struct {
	CreateMessageTopic *CreateMessageTopic
}

// CreateMessageTopic fans a single message out to a single topic's members.
// LastTopicUserID is the resume cursor: nil means start from the newest
// membership, otherwise continue strictly below it.
type CreateMessageTopic struct {
	MessageID       uuid.UUID  `json:"message_id"`
	TopicID         uuid.UUID  `json:"topic_id"`
	LastTopicUserID *uuid.UUID `json:"last_topic_user_id"`
}

// MarshalJSON encodes the payload with its variant name as the single key.
func (p Payload) MarshalJSON() ([]byte, error) {
	switch {
	case p.CreateMessageTopic != nil:
		return json.Marshal(map[string]*CreateMessageTopic{
			"CreateMessageTopic": p.CreateMessageTopic,
		})
	default:
		return nil, fmt.Errorf("%w: empty payload", ErrUnknownTaskPayload)
	}
}

// UnmarshalJSON decodes an externally tagged payload, rejecting unknown tags.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	if len(tagged) != 1 {
		return fmt.Errorf("%w: expected exactly one tag, got %d", ErrUnknownTaskPayload, len(tagged))
	}

	*p = Payload{}
	for tag, raw := range tagged {
		switch tag {
		case "CreateMessageTopic":
			var v CreateMessageTopic
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			p.CreateMessageTopic = &v
		default:
			return fmt.Errorf("%w: %q", ErrUnknownTaskPayload, tag)
		}
	}
	return nil
}
