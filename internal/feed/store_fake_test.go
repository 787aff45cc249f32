package feed

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fakeStore mirrors the Postgres repository semantics in memory so the
// service and processor can be exercised without a database. The claim path
// honors the visibility cutoff against an injectable clock.
type fakeStore struct {
	mu sync.Mutex

	tasks   map[uuid.UUID]Task
	members map[uuid.UUID]TopicUser
	entries map[entryKey]Entry

	visibility time.Duration
	now        func() time.Time

	// failUpsertEntry, when set, makes UpsertEntry fail once.
	failUpsertEntry error
}

type entryKey struct {
	messageID uuid.UUID
	userID    uuid.UUID
}

func newFakeStore(visibility time.Duration) *fakeStore {
	return &fakeStore{
		tasks:      make(map[uuid.UUID]Task),
		members:    make(map[uuid.UUID]TopicUser),
		entries:    make(map[entryKey]Entry),
		visibility: visibility,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func uuidLess(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

func (f *fakeStore) CreateTask(_ context.Context, task Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[task.TaskID]; ok {
		return fmt.Errorf("duplicate task id %s", task.TaskID)
	}
	f.tasks[task.TaskID] = task
	return nil
}

func (f *fakeStore) ClaimEarliestTasks(_ context.Context, limit int) ([]Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	cutoff := now.Add(-f.visibility)

	var visible []Task
	for _, t := range f.tasks {
		if t.LockedAt == nil || t.LockedAt.Before(cutoff) {
			visible = append(visible, t)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		return uuidLess(visible[i].TaskID, visible[j].TaskID)
	})
	if len(visible) > limit {
		visible = visible[:limit]
	}

	for i, t := range visible {
		lockedAt := now
		t.LockedAt = &lockedAt
		t.UpdatedAt = now
		f.tasks[t.TaskID] = t
		visible[i] = t
	}
	return visible, nil
}

func (f *fakeStore) AdvanceTask(_ context.Context, task Task, lastTopicUserID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, ok := f.tasks[task.TaskID]
	if !ok {
		return fmt.Errorf("advance missing task %s", task.TaskID)
	}
	if stored.Payload.CreateMessageTopic == nil {
		return ErrUnknownTaskPayload
	}
	cmt := *stored.Payload.CreateMessageTopic
	cmt.LastTopicUserID = &lastTopicUserID
	stored.Payload.CreateMessageTopic = &cmt
	stored.UpdatedAt = f.now()
	f.tasks[task.TaskID] = stored
	return nil
}

func (f *fakeStore) DeleteTask(_ context.Context, taskID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, taskID)
	return nil
}

func (f *fakeStore) UpsertTopicUser(_ context.Context, tu TopicUser) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.members[tu.TopicUserID]; ok {
		return nil
	}
	f.members[tu.TopicUserID] = tu
	return nil
}

func (f *fakeStore) DeleteTopicUser(_ context.Context, topicUserID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members, topicUserID)
	return nil
}

func (f *fakeStore) ListTopicMemberships(_ context.Context, topicID uuid.UUID, after *uuid.UUID, limit int) ([]TopicUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var page []TopicUser
	for _, tu := range f.members {
		if tu.TopicID != topicID {
			continue
		}
		if after != nil && !uuidLess(tu.TopicUserID, *after) {
			continue
		}
		page = append(page, tu)
	}
	sort.Slice(page, func(i, j int) bool {
		return uuidLess(page[j].TopicUserID, page[i].TopicUserID)
	})
	if len(page) > limit {
		page = page[:limit]
	}
	return page, nil
}

func (f *fakeStore) UpsertEntry(_ context.Context, entry Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failUpsertEntry != nil {
		err := f.failUpsertEntry
		f.failUpsertEntry = nil
		return err
	}

	key := entryKey{messageID: entry.MessageID, userID: entry.UserID}
	stored, ok := f.entries[key]
	if !ok {
		f.entries[key] = entry
		return nil
	}

	// Set-union, matching the SQL array merge.
	for _, id := range entry.TopicUserIDs {
		seen := false
		for _, have := range stored.TopicUserIDs {
			if have == id {
				seen = true
				break
			}
		}
		if !seen {
			stored.TopicUserIDs = append(stored.TopicUserIDs, id)
		}
	}
	stored.UpdatedAt = entry.UpdatedAt
	f.entries[key] = stored
	return nil
}

func (f *fakeStore) ListUserEntries(_ context.Context, userID uuid.UUID, cursor *uuid.UUID, limit int) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var entries []Entry
	for _, e := range f.entries {
		if e.UserID != userID {
			continue
		}
		if cursor != nil && uuidLess(*cursor, e.EntryID) {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return uuidLess(entries[j].EntryID, entries[i].EntryID)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (f *fakeStore) taskCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func (f *fakeStore) entryFor(messageID, userID uuid.UUID) (Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[entryKey{messageID: messageID, userID: userID}]
	return e, ok
}

func (f *fakeStore) memberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.members)
}
