package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/hivemsg/feeds-api/internal/bus"
	"github.com/hivemsg/feeds-api/internal/config"
	"github.com/hivemsg/feeds-api/internal/event"
)

// Consumer runs the two durable pull subscriptions feeding the pipeline.
// Handler failures are logged and the message is left unacked for the bus to
// redeliver; everything downstream is idempotent, so redelivery is safe.
type Consumer struct {
	bus     *bus.Bus
	service *Service
	log     zerolog.Logger
}

// NewConsumer constructs a Consumer.
func NewConsumer(b *bus.Bus, service *Service, log zerolog.Logger) *Consumer {
	return &Consumer{bus: b, service: service, log: log}
}

// RunMessages consumes message-published events and enqueues fan-out tasks.
func (c *Consumer) RunMessages(ctx context.Context, cfg config.ConsumerConfig) error {
	return c.run(ctx, cfg, func(ctx context.Context, msg jetstream.Msg) error {
		return c.HandleMessage(ctx, msg.Data())
	})
}

// RunTopicUsers consumes membership lifecycle events and mutates the
// topics_users table.
func (c *Consumer) RunTopicUsers(ctx context.Context, cfg config.ConsumerConfig) error {
	return c.run(ctx, cfg, func(ctx context.Context, msg jetstream.Msg) error {
		return c.HandleTopicUser(ctx, msg.Headers().Get(event.HeaderType), msg.Data())
	})
}

func (c *Consumer) run(ctx context.Context, cfg config.ConsumerConfig, handle func(context.Context, jetstream.Msg) error) error {
	cons, err := c.bus.JS.CreateOrUpdateConsumer(ctx, c.bus.Stream, jetstream.ConsumerConfig{
		Durable:        cfg.Consumer,
		FilterSubjects: cfg.Subjects,
		AckPolicy:      jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", cfg.Consumer, err)
	}

	it, err := cons.Messages(jetstream.PullMaxMessages(1))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", cfg.Consumer, err)
	}
	defer it.Stop()

	// Unblock Next when the group shuts down.
	stop := context.AfterFunc(ctx, it.Stop)
	defer stop()

	c.log.Info().
		Str("consumer", cfg.Consumer).
		Strs("subjects", cfg.Subjects).
		Msg("consumer started")

	for {
		msg, err := it.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				c.log.Info().Str("consumer", cfg.Consumer).Msg("consumer stopping")
				return ctx.Err()
			}
			return fmt.Errorf("receive on %s: %w", cfg.Consumer, err)
		}

		if err := handle(ctx, msg); err != nil {
			// No ack: the bus redelivers after its redelivery timeout.
			c.log.Error().Err(err).
				Str("consumer", cfg.Consumer).
				Str("subject", msg.Subject()).
				Msg("event handling failed, left for redelivery")
			continue
		}

		if err := msg.Ack(); err != nil {
			c.log.Error().Err(err).
				Str("consumer", cfg.Consumer).
				Str("subject", msg.Subject()).
				Msg("ack failed")
		}
	}
}

// HandleMessage decodes a message event and enqueues one fan-out task per
// destination topic.
func (c *Consumer) HandleMessage(ctx context.Context, data []byte) error {
	var ev event.Message
	if err := ev.Unmarshal(data); err != nil {
		return fmt.Errorf("decode message event: %w", err)
	}

	messageID, err := uuid.Parse(ev.MessageID)
	if err != nil {
		return fmt.Errorf("parse message_id: %w", err)
	}

	topicIDs := make([]uuid.UUID, 0, len(ev.TopicIDs))
	for _, raw := range ev.TopicIDs {
		topicID, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse topic_id: %w", err)
		}
		topicIDs = append(topicIDs, topicID)
	}

	return c.service.EnqueueMessage(ctx, messageID, topicIDs)
}

// HandleTopicUser decodes a membership event and applies it. The event kind
// is required in the ce_type header; its absence is a decode-class failure.
func (c *Consumer) HandleTopicUser(ctx context.Context, ceType string, data []byte) error {
	tp, err := event.ParseType(ceType)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", event.HeaderType, err)
	}

	var ev event.TopicUser
	if err := ev.Unmarshal(data); err != nil {
		return fmt.Errorf("decode topic-user event: %w", err)
	}

	tu, err := NewTopicUserFromEvent(ev)
	if err != nil {
		return fmt.Errorf("decode topic-user event: %w", err)
	}

	return c.service.ApplyTopicUser(ctx, tp, tu)
}
