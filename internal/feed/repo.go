package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the persistence surface the service and processor run against.
// *Repo is the Postgres implementation; tests substitute an in-memory fake.
type Store interface {
	CreateTask(ctx context.Context, task Task) error
	ClaimEarliestTasks(ctx context.Context, limit int) ([]Task, error)
	AdvanceTask(ctx context.Context, task Task, lastTopicUserID uuid.UUID) error
	DeleteTask(ctx context.Context, taskID uuid.UUID) error

	UpsertTopicUser(ctx context.Context, tu TopicUser) error
	DeleteTopicUser(ctx context.Context, topicUserID uuid.UUID) error
	ListTopicMemberships(ctx context.Context, topicID uuid.UUID, after *uuid.UUID, limit int) ([]TopicUser, error)

	UpsertEntry(ctx context.Context, entry Entry) error
	ListUserEntries(ctx context.Context, userID uuid.UUID, cursor *uuid.UUID, limit int) ([]Entry, error)
}

// Repo is the sole gateway to persistent state, backed by a pgx pool.
// VisibilityTimeout governs when a leased task becomes claimable again.
type Repo struct {
	DB                *pgxpool.Pool
	VisibilityTimeout time.Duration
}

// NewRepo creates a Repo over the shared pool.
func NewRepo(db *pgxpool.Pool, visibilityTimeout time.Duration) *Repo {
	return &Repo{DB: db, VisibilityTimeout: visibilityTimeout}
}

// CreateTask inserts a new task. A primary key collision is an error; callers
// never retry with the same id.
func (r *Repo) CreateTask(ctx context.Context, task Task) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO tasks (task_id, payload, locked_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, task.TaskID, task.Payload, task.LockedAt, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", task.TaskID, err)
	}
	return nil
}

// ClaimEarliestTasks atomically leases up to limit visible tasks, oldest
// first. A task is visible when it has never been locked or its lock is older
// than the visibility timeout. SKIP LOCKED keeps concurrent workers from
// blocking on each other's claims; they simply see disjoint sets.
func (r *Repo) ClaimEarliestTasks(ctx context.Context, limit int) ([]Task, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-r.VisibilityTimeout)

	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT task_id, payload, locked_at, created_at, updated_at
		FROM tasks
		WHERE locked_at IS NULL OR locked_at < $1
		ORDER BY task_id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("select earliest tasks: %w", err)
	}

	var tasks []Task
	var ids []uuid.UUID
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.TaskID, &t.Payload, &t.LockedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		tasks = append(tasks, t)
		ids = append(ids, t.TaskID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}

	if len(ids) > 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE tasks SET locked_at = $1, updated_at = $1 WHERE task_id = ANY($2)
		`, now, ids); err != nil {
			return nil, fmt.Errorf("lock claimed tasks: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	for i := range tasks {
		lockedAt := now
		tasks[i].LockedAt = &lockedAt
		tasks[i].UpdatedAt = now
	}
	return tasks, nil
}

// AdvanceTask records partial progress by rewriting the payload's resume
// cursor. The lease is left intact.
func (r *Repo) AdvanceTask(ctx context.Context, task Task, lastTopicUserID uuid.UUID) error {
	if task.Payload.CreateMessageTopic == nil {
		return fmt.Errorf("advance task %s: %w", task.TaskID, ErrUnknownTaskPayload)
	}

	payload := task.Payload
	cmt := *payload.CreateMessageTopic
	cmt.LastTopicUserID = &lastTopicUserID
	payload.CreateMessageTopic = &cmt

	_, err := r.DB.Exec(ctx, `
		UPDATE tasks SET payload = $2, updated_at = $3 WHERE task_id = $1
	`, task.TaskID, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("advance task %s: %w", task.TaskID, err)
	}
	return nil
}

// DeleteTask removes a completed task. Deletion is the completion signal.
func (r *Repo) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	if _, err := r.DB.Exec(ctx, `DELETE FROM tasks WHERE task_id = $1`, taskID); err != nil {
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}
	return nil
}

// UpsertTopicUser inserts a membership, ignoring redelivered duplicates.
func (r *Repo) UpsertTopicUser(ctx context.Context, tu TopicUser) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO topics_users (topic_user_id, topic_id, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (topic_user_id) DO NOTHING
	`, tu.TopicUserID, tu.TopicID, tu.UserID, tu.CreatedAt, tu.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert topic user %s: %w", tu.TopicUserID, err)
	}
	return nil
}

// DeleteTopicUser removes a membership by primary key. A missing row is fine;
// deletes are redelivered too.
func (r *Repo) DeleteTopicUser(ctx context.Context, topicUserID uuid.UUID) error {
	if _, err := r.DB.Exec(ctx, `DELETE FROM topics_users WHERE topic_user_id = $1`, topicUserID); err != nil {
		return fmt.Errorf("delete topic user %s: %w", topicUserID, err)
	}
	return nil
}

// ListTopicMemberships returns one page of a topic's memberships in
// descending topic_user_id order. A non-nil cursor restricts the page to ids
// strictly below it; monotone ids make the walk resumable without skips or
// revisits.
func (r *Repo) ListTopicMemberships(ctx context.Context, topicID uuid.UUID, after *uuid.UUID, limit int) ([]TopicUser, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT topic_user_id, topic_id, user_id, created_at, updated_at
		FROM topics_users
		WHERE topic_id = $1 AND ($2::uuid IS NULL OR topic_user_id < $2)
		ORDER BY topic_user_id DESC
		LIMIT $3
	`, topicID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list memberships for topic %s: %w", topicID, err)
	}
	defer rows.Close()

	var page []TopicUser
	for rows.Next() {
		var tu TopicUser
		if err := rows.Scan(&tu.TopicUserID, &tu.TopicID, &tu.UserID, &tu.CreatedAt, &tu.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan membership row: %w", err)
		}
		page = append(page, tu)
	}
	return page, rows.Err()
}

// UpsertEntry inserts an inbox entry. If the (message_id, user_id) row
// already exists, the incoming topic_user_ids are set-unioned into the stored
// array, which is what makes fan-out redelivery idempotent.
func (r *Repo) UpsertEntry(ctx context.Context, entry Entry) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO entries (entry_id, user_id, message_id, topic_user_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (message_id, user_id) DO UPDATE SET
			topic_user_ids = array(
				SELECT DISTINCT x
				FROM unnest(entries.topic_user_ids || excluded.topic_user_ids) x
			),
			updated_at = excluded.updated_at
	`, entry.EntryID, entry.UserID, entry.MessageID, entry.TopicUserIDs, entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert entry for message %s user %s: %w", entry.MessageID, entry.UserID, err)
	}
	return nil
}

// ListUserEntries returns a user's entries in descending entry_id order. The
// cursor is inclusive (<=) because the read service surfaces the first row of
// the next page as the cursor.
func (r *Repo) ListUserEntries(ctx context.Context, userID uuid.UUID, cursor *uuid.UUID, limit int) ([]Entry, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT entry_id, user_id, message_id, topic_user_ids, created_at, updated_at
		FROM entries
		WHERE user_id = $1 AND ($2::uuid IS NULL OR entry_id <= $2)
		ORDER BY entry_id DESC
		LIMIT $3
	`, userID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries for user %s: %w", userID, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.EntryID, &e.UserID, &e.MessageID, &e.TopicUserIDs, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
