package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luizgaroland/warhammer40kPapaMeta/internal/catalog"
	"github.com/luizgaroland/warhammer40kPapaMeta/internal/logging"
)

type fakeOutbox struct {
	nextID   int64
	messages map[int64]*catalog.OutboundMessage
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{messages: make(map[int64]*catalog.OutboundMessage)}
}

func (f *fakeOutbox) EnqueueMessage(_ context.Context, messageUUID, messageType, channel, payload string) (*catalog.OutboundMessage, error) {
	f.nextID++
	now := time.Now()
	msg := &catalog.OutboundMessage{
		ID:            f.nextID,
		MessageUUID:   messageUUID,
		MessageType:   messageType,
		Channel:       channel,
		Payload:       payload,
		Status:        catalog.MessagePending,
		NextAttemptAt: &now,
	}
	f.messages[msg.ID] = msg
	copied := *msg
	return &copied, nil
}

func (f *fakeOutbox) DueMessages(_ context.Context, now time.Time, limit int) ([]catalog.OutboundMessage, error) {
	var due []catalog.OutboundMessage
	for id := int64(1); id <= f.nextID && len(due) < limit; id++ {
		msg, ok := f.messages[id]
		if !ok {
			continue
		}
		switch msg.Status {
		case catalog.MessagePending:
			if msg.NextAttemptAt == nil || !msg.NextAttemptAt.After(now) {
				due = append(due, *msg)
			}
		case catalog.MessagePublished:
			due = append(due, *msg)
		}
	}
	return due, nil
}

func (f *fakeOutbox) MarkMessagePublished(_ context.Context, id int64, transportID string) error {
	msg := f.messages[id]
	msg.Status = catalog.MessagePublished
	msg.TransportID = transportID
	return nil
}

func (f *fakeOutbox) MarkMessageAcknowledged(_ context.Context, id int64) error {
	f.messages[id].Status = catalog.MessageAcknowledged
	return nil
}

func (f *fakeOutbox) MarkMessageRetry(_ context.Context, id int64, attemptErr string, nextAttempt time.Time) error {
	msg := f.messages[id]
	msg.Status = catalog.MessagePending
	msg.RetryCount++
	msg.LastError = attemptErr
	msg.NextAttemptAt = &nextAttempt
	return nil
}

func (f *fakeOutbox) MarkMessageFailed(_ context.Context, id int64, attemptErr string) error {
	msg := f.messages[id]
	msg.Status = catalog.MessageFailed
	msg.RetryCount++
	msg.LastError = attemptErr
	msg.NextAttemptAt = nil
	return nil
}

func (f *fakeOutbox) ReplayMessage(_ context.Context, id int64) error {
	msg, ok := f.messages[id]
	if !ok || msg.Status != catalog.MessageFailed {
		return catalog.ErrNotFound
	}
	now := time.Now()
	msg.Status = catalog.MessagePending
	msg.RetryCount = 0
	msg.LastError = ""
	msg.NextAttemptAt = &now
	return nil
}

type fakeTransport struct {
	publishErr error
	published  map[string]string
	acked      map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		published: make(map[string]string),
		acked:     make(map[string]bool),
	}
}

func (f *fakeTransport) Publish(_ context.Context, channel, messageUUID, payload string) (string, error) {
	if f.publishErr != nil {
		return "", f.publishErr
	}
	f.published[messageUUID] = channel
	return "stream-" + messageUUID, nil
}

func (f *fakeTransport) Confirmed(_ context.Context, messageUUID string) (bool, error) {
	return f.acked[messageUUID], nil
}

func (f *fakeTransport) Close() error { return nil }

func newTestBridge(outbox *fakeOutbox, transport *fakeTransport, maxRetries int) *Bridge {
	policy := RetryPolicy{Initial: time.Millisecond, Max: 10 * time.Millisecond, Multiplier: 2}
	return NewBridge(outbox, transport, policy, maxRetries, logging.NewNop())
}

func TestBridgeDeliversPendingThenAcknowledges(t *testing.T) {
	outbox := newFakeOutbox()
	transport := newFakeTransport()
	bridge := newTestBridge(outbox, transport, 3)
	ctx := context.Background()

	msg, err := bridge.Enqueue(ctx, "faction_update", "wahapedia:factions", map[string]any{"faction_id": 1})
	require.NoError(t, err)
	assert.Equal(t, catalog.MessagePending, msg.Status)

	stats, err := bridge.ProcessDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Published)
	assert.Equal(t, catalog.MessagePublished, outbox.messages[msg.ID].Status)
	assert.Equal(t, "stream-"+msg.MessageUUID, outbox.messages[msg.ID].TransportID)

	// Not acknowledged yet: second cycle leaves it published.
	stats, err = bridge.ProcessDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, stats.Acknowledged)
	assert.Equal(t, catalog.MessagePublished, outbox.messages[msg.ID].Status)

	transport.acked[msg.MessageUUID] = true
	stats, err = bridge.ProcessDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Acknowledged)
	assert.Equal(t, catalog.MessageAcknowledged, outbox.messages[msg.ID].Status)
}

func TestBridgeRetriesWithBackoffThenParks(t *testing.T) {
	outbox := newFakeOutbox()
	transport := newFakeTransport()
	transport.publishErr = errors.New("connection refused")
	bridge := newTestBridge(outbox, transport, 3)
	base := time.Unix(1_700_000_000, 0)
	bridge.now = func() time.Time { return base }
	ctx := context.Background()

	msg, err := bridge.Enqueue(ctx, "status", "wahapedia:status", map[string]any{"ok": false})
	require.NoError(t, err)
	earlier := base.Add(-time.Second)
	outbox.messages[msg.ID].NextAttemptAt = &earlier

	stats, err := bridge.ProcessDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried)
	stored := outbox.messages[msg.ID]
	assert.Equal(t, catalog.MessagePending, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, "connection refused", stored.LastError)
	require.NotNil(t, stored.NextAttemptAt)
	assert.True(t, stored.NextAttemptAt.After(base))

	// Not due until the backoff elapses.
	stats, err = bridge.ProcessDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, stats.Retried)

	bridge.now = func() time.Time { return base.Add(time.Minute) }
	stats, err = bridge.ProcessDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried)
	assert.Equal(t, 2, outbox.messages[msg.ID].RetryCount)

	bridge.now = func() time.Time { return base.Add(2 * time.Minute) }
	stats, err = bridge.ProcessDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, catalog.MessageFailed, outbox.messages[msg.ID].Status)
	assert.Nil(t, outbox.messages[msg.ID].NextAttemptAt)
}

func TestBridgeReplayResetsFailedMessage(t *testing.T) {
	outbox := newFakeOutbox()
	transport := newFakeTransport()
	transport.publishErr = errors.New("boom")
	bridge := newTestBridge(outbox, transport, 1)
	ctx := context.Background()

	msg, err := bridge.Enqueue(ctx, "unit_update", "wahapedia:units", map[string]any{"unit_id": 2})
	require.NoError(t, err)

	_, err = bridge.ProcessDue(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, catalog.MessageFailed, outbox.messages[msg.ID].Status)

	require.NoError(t, bridge.Replay(ctx, msg.ID))
	assert.Equal(t, catalog.MessagePending, outbox.messages[msg.ID].Status)
	assert.Zero(t, outbox.messages[msg.ID].RetryCount)

	// Replaying a message that is not failed is an error.
	assert.ErrorIs(t, bridge.Replay(ctx, msg.ID), catalog.ErrNotFound)

	transport.publishErr = nil
	stats, err := bridge.ProcessDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Published)
}

func TestRetryPolicyDelayGrowsAndCaps(t *testing.T) {
	policy := RetryPolicy{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, policy.Delay(1))
	assert.Equal(t, 2*time.Second, policy.Delay(2))
	assert.Equal(t, 4*time.Second, policy.Delay(3))
	assert.Equal(t, 10*time.Second, policy.Delay(10), "capped at max")
}

func TestRetryPolicyJitterStaysBounded(t *testing.T) {
	policy := RetryPolicy{Initial: time.Second, Max: time.Minute, Multiplier: 2, Jitter: 0.5}
	for i := 0; i < 100; i++ {
		delay := policy.Delay(2)
		assert.GreaterOrEqual(t, delay, time.Second)
		assert.LessOrEqual(t, delay, 3*time.Second)
	}
}
