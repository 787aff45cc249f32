package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hivemsg/feeds-api/internal/event"
)

// fanOutPageSize is how many memberships one fan-out cycle walks before the
// task's cursor is persisted.
const fanOutPageSize = 50

// Service carries the feed pipeline's business logic. All durable effects go
// through Store; the service itself holds no mutable state.
type Service struct {
	Store Store

	// UserPageLimit is the read-path page size (feeds.limits.user).
	UserPageLimit int
}

// NewService creates a Service.
func NewService(store Store, userPageLimit int) *Service {
	return &Service{Store: store, UserPageLimit: userPageLimit}
}

// EnqueueMessage records pending fan-out work for a published message: one
// task per destination topic, each fanning out independently.
func (s *Service) EnqueueMessage(ctx context.Context, messageID uuid.UUID, topicIDs []uuid.UUID) error {
	for _, topicID := range topicIDs {
		task := NewTask(Payload{CreateMessageTopic: &CreateMessageTopic{
			MessageID: messageID,
			TopicID:   topicID,
		}})
		if err := s.Store.CreateTask(ctx, task); err != nil {
			return fmt.Errorf("enqueue message %s topic %s: %w", messageID, topicID, err)
		}

		log.Debug().
			Str("task_id", task.TaskID.String()).
			Str("message_id", messageID.String()).
			Str("topic_id", topicID.String()).
			Msg("fan-out task enqueued")
	}
	return nil
}

// ApplyTopicUser mutates the membership table according to the event kind.
// Upserts ignore primary key conflicts and deletes tolerate missing rows, so
// redelivery in any order converges.
func (s *Service) ApplyTopicUser(ctx context.Context, tp event.Type, tu TopicUser) error {
	switch tp {
	case event.TypeCreated, event.TypeUpdated:
		return s.Store.UpsertTopicUser(ctx, tu)
	case event.TypeDeleted:
		return s.Store.DeleteTopicUser(ctx, tu.TopicUserID)
	default:
		return fmt.Errorf("apply topic user %s: %w: %q", tu.TopicUserID, event.ErrUnknownEventType, tp)
	}
}

// FanOutMessageTopic runs one fan-out cycle for (messageID, topicID): it
// walks a single page of the topic's memberships below the cursor and upserts
// one entry per member. It returns the smallest topic_user_id seen, the
// cursor for the next cycle, or nil when the page was empty and the walk is
// done.
//
// Entry upserts merge on (message_id, user_id), so re-running a page after a
// crash or lease expiry produces no duplicates.
func (s *Service) FanOutMessageTopic(ctx context.Context, messageID, topicID uuid.UUID, last *uuid.UUID) (*uuid.UUID, error) {
	page, err := s.Store.ListTopicMemberships(ctx, topicID, last, fanOutPageSize)
	if err != nil {
		return nil, fmt.Errorf("fan out message %s topic %s: %w", messageID, topicID, err)
	}
	if len(page) == 0 {
		return nil, nil
	}

	for _, m := range page {
		entry := NewEntry(m.UserID, messageID, []uuid.UUID{m.TopicUserID})
		if err := s.Store.UpsertEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("fan out message %s topic %s: %w", messageID, topicID, err)
		}
	}

	log.Debug().
		Str("message_id", messageID.String()).
		Str("topic_id", topicID.String()).
		Int("members", len(page)).
		Msg("fan-out page written")

	next := page[len(page)-1].TopicUserID
	return &next, nil
}

// UserEntriesPage is one page of a user's inbox, newest first. NextCursor is
// set iff another page exists; passing it back returns that page starting at
// the row it identifies.
type UserEntriesPage struct {
	Entries    []Entry
	NextCursor *uuid.UUID
}

// GetUserEntries reads one page of a user's inbox. It overfetches by one row:
// the extra row, if present, is popped off and surfaced as the next cursor,
// which is why the entry cursor compares with <= rather than <.
func (s *Service) GetUserEntries(ctx context.Context, userID uuid.UUID, cursor *uuid.UUID) (UserEntriesPage, error) {
	entries, err := s.Store.ListUserEntries(ctx, userID, cursor, s.UserPageLimit+1)
	if err != nil {
		return UserEntriesPage{}, fmt.Errorf("get entries for user %s: %w", userID, err)
	}

	page := UserEntriesPage{Entries: entries}
	if len(entries) > s.UserPageLimit {
		next := entries[s.UserPageLimit].EntryID
		page.Entries = entries[:s.UserPageLimit]
		page.NextCursor = &next
	}
	return page, nil
}

// NewTopicUserFromEvent converts a decoded bus event into a membership row
// stamped with the local receive time.
func NewTopicUserFromEvent(ev event.TopicUser) (TopicUser, error) {
	topicUserID, err := uuid.Parse(ev.TopicUserID)
	if err != nil {
		return TopicUser{}, fmt.Errorf("parse topic_user_id: %w", err)
	}
	topicID, err := uuid.Parse(ev.TopicID)
	if err != nil {
		return TopicUser{}, fmt.Errorf("parse topic_id: %w", err)
	}
	userID, err := uuid.Parse(ev.UserID)
	if err != nil {
		return TopicUser{}, fmt.Errorf("parse user_id: %w", err)
	}

	now := time.Now().UTC()
	return TopicUser{
		TopicUserID: topicUserID,
		TopicID:     topicID,
		UserID:      userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}
