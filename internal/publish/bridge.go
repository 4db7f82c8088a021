package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/catalog"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/logging"
)

// Outbox is the persistence surface the bridge needs.
type Outbox interface {
	EnqueueMessage(ctx context.Context, messageUUID, messageType, channel, payload string) (*catalog.OutboundMessage, error)
	DueMessages(ctx context.Context, now time.Time, limit int) ([]catalog.OutboundMessage, error)
	MarkMessagePublished(ctx context.Context, id int64, transportID string) error
	MarkMessageAcknowledged(ctx context.Context, id int64) error
	MarkMessageRetry(ctx context.Context, id int64, attemptErr string, nextAttempt time.Time) error
	MarkMessageFailed(ctx context.Context, id int64, attemptErr string) error
	ReplayMessage(ctx context.Context, id int64) error
}

// Stats summarizes one delivery cycle.
type Stats struct {
	Published    int
	Acknowledged int
	Retried      int
	Failed       int
}

// Bridge drains the outbox over a transport. Enqueue and delivery are
// decoupled: enqueue always succeeds locally even when the transport is
// down, and ProcessDue pushes whatever is ready.
type Bridge struct {
	outbox     Outbox
	transport  Transport
	policy     RetryPolicy
	maxRetries int
	now        func() time.Time
	logger     *slog.Logger
}

// NewBridge constructs a bridge. maxRetries is the number of failed publish
// attempts before a message is parked as failed.
func NewBridge(outbox Outbox, transport Transport, policy RetryPolicy, maxRetries int, logger *slog.Logger) *Bridge {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Bridge{
		outbox:     outbox,
		transport:  transport,
		policy:     policy,
		maxRetries: maxRetries,
		now:        time.Now,
		logger:     logging.WithComponent(logger, "publisher"),
	}
}

// Enqueue serializes the payload and stores a pending message. Nothing
// touches the transport here.
func (b *Bridge) Enqueue(ctx context.Context, messageType, channel string, payload any) (*catalog.OutboundMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	msg, err := b.outbox.EnqueueMessage(ctx, uuid.NewString(), messageType, channel, string(body))
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	b.logger.Debug("message enqueued",
		logging.String("message_uuid", msg.MessageUUID),
		logging.String("channel", channel),
		logging.String("message_type", messageType),
	)
	return msg, nil
}

// ProcessDue runs one delivery cycle: pending messages are published,
// published messages are checked for consumer acknowledgment, and failures
// are rescheduled with exponential backoff until retries run out.
func (b *Bridge) ProcessDue(ctx context.Context, limit int) (Stats, error) {
	var stats Stats
	messages, err := b.outbox.DueMessages(ctx, b.now(), limit)
	if err != nil {
		return stats, fmt.Errorf("load due messages: %w", err)
	}
	for i := range messages {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		msg := &messages[i]
		switch msg.Status {
		case catalog.MessagePending:
			b.deliver(ctx, msg, &stats)
		case catalog.MessagePublished:
			b.settle(ctx, msg, &stats)
		}
	}
	return stats, nil
}

func (b *Bridge) deliver(ctx context.Context, msg *catalog.OutboundMessage, stats *Stats) {
	transportID, err := b.transport.Publish(ctx, msg.Channel, msg.MessageUUID, msg.Payload)
	if err != nil {
		b.handleFailure(ctx, msg, err, stats)
		return
	}
	if err := b.outbox.MarkMessagePublished(ctx, msg.ID, transportID); err != nil {
		b.logger.Error("mark published failed",
			logging.String("message_uuid", msg.MessageUUID),
			logging.Error(err),
		)
		return
	}
	stats.Published++
	b.logger.Info("message published",
		logging.String("message_uuid", msg.MessageUUID),
		logging.String("channel", msg.Channel),
		logging.String("transport_id", transportID),
	)
}

func (b *Bridge) settle(ctx context.Context, msg *catalog.OutboundMessage, stats *Stats) {
	confirmed, err := b.transport.Confirmed(ctx, msg.MessageUUID)
	if err != nil {
		b.logger.Warn("ack check failed",
			logging.String("message_uuid", msg.MessageUUID),
			logging.Error(err),
		)
		return
	}
	if !confirmed {
		return
	}
	if err := b.outbox.MarkMessageAcknowledged(ctx, msg.ID); err != nil {
		b.logger.Error("mark acknowledged failed",
			logging.String("message_uuid", msg.MessageUUID),
			logging.Error(err),
		)
		return
	}
	stats.Acknowledged++
	b.logger.Info("message acknowledged",
		logging.String("message_uuid", msg.MessageUUID),
		logging.String("channel", msg.Channel),
	)
}

func (b *Bridge) handleFailure(ctx context.Context, msg *catalog.OutboundMessage, attemptErr error, stats *Stats) {
	attempts := msg.RetryCount + 1
	if attempts >= b.maxRetries {
		if err := b.outbox.MarkMessageFailed(ctx, msg.ID, attemptErr.Error()); err != nil {
			b.logger.Error("mark failed failed",
				logging.String("message_uuid", msg.MessageUUID),
				logging.Error(err),
			)
			return
		}
		stats.Failed++
		b.logger.Error("message parked after retries exhausted",
			logging.String("message_uuid", msg.MessageUUID),
			logging.String("channel", msg.Channel),
			logging.Int("attempts", attempts),
			logging.Error(attemptErr),
			logging.String(logging.FieldEventType, "publish_failed"),
		)
		return
	}
	next := b.now().Add(b.policy.Delay(attempts))
	if err := b.outbox.MarkMessageRetry(ctx, msg.ID, attemptErr.Error(), next); err != nil {
		b.logger.Error("mark retry failed",
			logging.String("message_uuid", msg.MessageUUID),
			logging.Error(err),
		)
		return
	}
	stats.Retried++
	b.logger.Warn("publish attempt failed, retry scheduled",
		logging.String("message_uuid", msg.MessageUUID),
		logging.String("channel", msg.Channel),
		logging.Int("attempt", attempts),
		logging.Error(attemptErr),
	)
}

// Replay resets a terminally failed message to pending.
func (b *Bridge) Replay(ctx context.Context, id int64) error {
	if err := b.outbox.ReplayMessage(ctx, id); err != nil {
		return fmt.Errorf("replay message %d: %w", id, err)
	}
	b.logger.Info("message replayed", logging.Int64("message_id", id))
	return nil
}
