package feed

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Processor periodically claims ready tasks and runs their fan-out. Multiple
// instances may run against the same table; the skip-locked claim keeps them
// off each other's tasks.
type Processor struct {
	store   Store
	service *Service
	log     zerolog.Logger

	batchSize int
	interval  time.Duration
}

// NewProcessor constructs a Processor.
func NewProcessor(store Store, service *Service, batchSize int, interval time.Duration, log zerolog.Logger) *Processor {
	return &Processor{
		store:     store,
		service:   service,
		log:       log,
		batchSize: batchSize,
		interval:  interval,
	}
}

// Run ticks until ctx is canceled. A tick that is still busy when the next
// one is due absorbs it: ticker delivery drops missed ticks, so there is
// never a backlog of pending ticks.
func (p *Processor) Run(ctx context.Context) error {
	p.log.Info().
		Int("batch_size", p.batchSize).
		Dur("interval", p.interval).
		Msg("task processor starting")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("task processor stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				p.log.Error().Err(err).Msg("task claim failed")
			}
		}
	}
}

// tick claims one batch and processes it sequentially. Claiming is the only
// transactional step; per-task failures are logged and the task is left
// leased, to be retried when its lease expires.
func (p *Processor) tick(ctx context.Context) error {
	tasks, err := p.store.ClaimEarliestTasks(ctx, p.batchSize)
	if err != nil {
		return err
	}

	for _, task := range tasks {
		if err := p.processTask(ctx, task); err != nil {
			p.log.Error().Err(err).
				Str("task_id", task.TaskID.String()).
				Msg("task processing failed, lease left to expire")
		}
	}
	return nil
}

func (p *Processor) processTask(ctx context.Context, task Task) error {
	cmt := task.Payload.CreateMessageTopic
	if cmt == nil {
		return ErrUnknownTaskPayload
	}

	next, err := p.service.FanOutMessageTopic(ctx, cmt.MessageID, cmt.TopicID, cmt.LastTopicUserID)
	if err != nil {
		return err
	}

	if next != nil {
		return p.store.AdvanceTask(ctx, task, *next)
	}

	p.log.Debug().
		Str("task_id", task.TaskID.String()).
		Str("message_id", cmt.MessageID.String()).
		Str("topic_id", cmt.TopicID.String()).
		Msg("fan-out complete, task retired")

	return p.store.DeleteTask(ctx, task.TaskID)
}
