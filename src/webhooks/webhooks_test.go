package webhooks

import (
	"carepay/src/lib"
	"carepay/src/models"
	"carepay/src/testutils"
	"carepay/src/types"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
)

const secret = "whsec_test"

func newLedger(t *testing.T) (*Ledger, *gorm.DB) {
	db := testutils.NewTestDB(t)
	key, err := lib.GenerateKey()
	require.NoError(t, err)
	cipher, err := lib.NewCipherFromHex(key)
	require.NoError(t, err)
	return NewLedger(db, cipher, 3, 5*time.Minute), db
}

func signed(t *testing.T, id, eventType string) ([]byte, string) {
	payload := []byte(fmt.Sprintf(`{"id":"%s","object":"event","type":"%s","data":{"object":{"id":"pi_1","object":"payment_intent"}}}`, id, eventType))
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret})
	return sp.Payload, sp.Header
}

func TestLogEventDeduplicates(t *testing.T) {
	l, db := newLedger(t)
	ctx := context.Background()

	rec, created, err := l.LogEvent(ctx, "evt_123", "payment_intent.succeeded", []byte(`{"id":"evt_123"}`))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, types.WEBHOOK_RECEIVED, rec.Status)
	assert.NotContains(t, rec.EncryptedPayload, "evt_123")

	again, created, err := l.LogEvent(ctx, "evt_123", "payment_intent.succeeded", []byte(`{"id":"evt_123"}`))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rec.ID, again.ID)

	var count int64
	db.Model(&models.WebhookEvent{}).Count(&count)
	assert.Equal(t, int64(1), count)

	body, err := l.Payload(again)
	require.NoError(t, err)
	assert.Equal(t, "evt_123", gjson.GetBytes(body, "id").String())
}

func TestTransitionsAreMonotonic(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	_, _, err := l.LogEvent(ctx, "evt_1", "charge.refunded", []byte(`{}`))
	require.NoError(t, err)

	assert.ErrorIs(t, l.MarkProcessed(ctx, "evt_1"), ErrInvalidTransition)
	require.NoError(t, l.MarkProcessing(ctx, "evt_1"))
	assert.ErrorIs(t, l.MarkProcessing(ctx, "evt_1"), ErrInvalidTransition)
	assert.ErrorIs(t, l.MarkSkipped(ctx, "evt_1", "late"), ErrInvalidTransition)
	require.NoError(t, l.MarkProcessed(ctx, "evt_1"))

	done, err := l.HasBeenProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, done)
	assert.ErrorIs(t, l.MarkFailed(ctx, "evt_1", errors.New("boom")), ErrInvalidTransition)
	assert.ErrorIs(t, l.MarkProcessing(ctx, "evt_1"), ErrInvalidTransition)

	_, _, err = l.LogEvent(ctx, "evt_2", "ping", []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, l.MarkSkipped(ctx, "evt_2", "irrelevant"))
	assert.ErrorIs(t, l.MarkProcessing(ctx, "evt_2"), ErrInvalidTransition)
	done, _ = l.HasBeenProcessed(ctx, "evt_2")
	assert.False(t, done)

	_, err = l.Get(ctx, "evt_missing")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestRetryCeiling(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	_, _, err := l.LogEvent(ctx, "evt_1", "charge.refunded", []byte(`{}`))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.MarkProcessing(ctx, "evt_1"))
		require.NoError(t, l.MarkFailed(ctx, "evt_1", fmt.Errorf("attempt %d", i)))
	}
	rec, err := l.Get(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, types.WEBHOOK_FAILED, rec.Status)
	assert.Equal(t, 3, rec.RetryCount)
	assert.Equal(t, "attempt 2", rec.ErrorMessage)

	assert.ErrorIs(t, l.MarkProcessing(ctx, "evt_1"), ErrInvalidTransition)
	retryable, err := l.Retryable(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, retryable)
	exhausted, err := l.Exhausted(ctx)
	require.NoError(t, err)
	assert.Len(t, exhausted, 1)
}

func TestReceiveRejectsBadSignature(t *testing.T) {
	l, db := newLedger(t)
	p := NewProcessor(l, secret)
	payload, _ := signed(t, "evt_123", "payment_intent.succeeded")

	_, err := p.Receive(context.Background(), payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	var count int64
	db.Model(&models.WebhookEvent{}).Count(&count)
	assert.Zero(t, count)
}

func TestReceiveProcessesOnce(t *testing.T) {
	l, db := newLedger(t)
	p := NewProcessor(l, secret)
	calls := 0
	p.Handle("payment_intent.succeeded", func(ctx context.Context, event stripe.Event) error {
		calls++
		assert.Equal(t, "pi_1", gjson.GetBytes(event.Data.Raw, "id").String())
		return nil
	})
	payload, header := signed(t, "evt_123", "payment_intent.succeeded")

	first, err := p.Receive(context.Background(), payload, header)
	require.NoError(t, err)
	assert.Equal(t, types.WEBHOOK_PROCESSED, first.Status)
	assert.False(t, first.Duplicate)

	second, err := p.Receive(context.Background(), payload, header)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, types.WEBHOOK_PROCESSED, second.Status)
	assert.Equal(t, 1, calls)

	var rows []models.WebhookEvent
	require.NoError(t, db.Where("event_id = ?", "evt_123").Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, types.WEBHOOK_PROCESSED, rows[0].Status)
	assert.NotNil(t, rows[0].ProcessedAt)
}

func TestConcurrentDeliveriesRunHandlerOnce(t *testing.T) {
	l, _ := newLedger(t)
	p := NewProcessor(l, secret)
	var mu sync.Mutex
	calls := 0
	p.Handle("payment_intent.succeeded", func(ctx context.Context, event stripe.Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil
	})
	payload, header := signed(t, "evt_123", "payment_intent.succeeded")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Receive(context.Background(), payload, header)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls)
}

func TestUnknownTypeIsSkipped(t *testing.T) {
	l, _ := newLedger(t)
	p := NewProcessor(l, secret)
	payload, header := signed(t, "evt_9", "customer.created")

	r, err := p.Receive(context.Background(), payload, header)
	require.NoError(t, err)
	assert.Equal(t, types.WEBHOOK_SKIPPED, r.Status)
	rec, _ := l.Get(context.Background(), "evt_9")
	assert.Contains(t, rec.ErrorMessage, "unhandled event type")
}

func TestRetrySweepRedispatches(t *testing.T) {
	l, _ := newLedger(t)
	p := NewProcessor(l, secret)
	fail := true
	p.Handle("charge.refunded", func(ctx context.Context, event stripe.Event) error {
		if fail {
			return errors.New("database unavailable")
		}
		return nil
	})
	payload, header := signed(t, "evt_r", "charge.refunded")

	r, err := p.Receive(context.Background(), payload, header)
	require.NoError(t, err)
	assert.Equal(t, types.WEBHOOK_FAILED, r.Status)

	res, err := p.RetrySweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
	assert.Equal(t, 1, res.Failed)

	fail = false
	res, err = p.RetrySweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	rec, _ := l.Get(context.Background(), "evt_r")
	assert.Equal(t, types.WEBHOOK_PROCESSED, rec.Status)
	assert.Equal(t, 2, rec.RetryCount)

	res, err = p.RetrySweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Retried)
}

func TestRetrySweepStopsAtCeiling(t *testing.T) {
	l, _ := newLedger(t)
	p := NewProcessor(l, secret)
	p.Handle("charge.refunded", func(ctx context.Context, event stripe.Event) error {
		return errors.New("still broken")
	})
	payload, header := signed(t, "evt_r", "charge.refunded")
	_, err := p.Receive(context.Background(), payload, header)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := p.RetrySweep(context.Background())
		require.NoError(t, err)
	}
	rec, _ := l.Get(context.Background(), "evt_r")
	assert.Equal(t, types.WEBHOOK_FAILED, rec.Status)
	assert.Equal(t, 3, rec.RetryCount)
	res, _ := p.RetrySweep(context.Background())
	assert.Equal(t, 1, res.Exhausted)
}

func TestRedeliveryDispatchesUnfinishedRecord(t *testing.T) {
	l, _ := newLedger(t)
	p := NewProcessor(l, secret)
	calls := 0
	p.Handle("payment_intent.succeeded", func(ctx context.Context, event stripe.Event) error {
		calls++
		return nil
	})
	payload, header := signed(t, "evt_123", "payment_intent.succeeded")
	// recorded, then the worker died before dispatch
	_, _, err := l.LogEvent(context.Background(), "evt_123", "payment_intent.succeeded", payload)
	require.NoError(t, err)

	r, err := p.Receive(context.Background(), payload, header)
	require.NoError(t, err)
	assert.True(t, r.Duplicate)
	assert.Equal(t, types.WEBHOOK_PROCESSED, r.Status)
	assert.Equal(t, 1, calls)

	r, err = p.Receive(context.Background(), payload, header)
	require.NoError(t, err)
	assert.Equal(t, types.WEBHOOK_PROCESSED, r.Status)
	assert.Equal(t, 1, calls)
}

func TestRetrySweepRecoversAbandonedRecords(t *testing.T) {
	l, _ := newLedger(t)
	p := NewProcessor(l, secret)
	calls := map[string]int{}
	p.Handle("payment_intent.succeeded", func(ctx context.Context, event stripe.Event) error {
		calls[event.ID]++
		return nil
	})
	ctx := context.Background()
	received, _ := signed(t, "evt_received", "payment_intent.succeeded")
	_, _, err := l.LogEvent(ctx, "evt_received", "payment_intent.succeeded", received)
	require.NoError(t, err)
	claimed, _ := signed(t, "evt_claimed", "payment_intent.succeeded")
	_, _, err = l.LogEvent(ctx, "evt_claimed", "payment_intent.succeeded", claimed)
	require.NoError(t, err)
	require.NoError(t, l.MarkProcessing(ctx, "evt_claimed"))

	// inside the lease both may still be owned by a live worker
	res, err := p.RetrySweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Retried)
	assert.ErrorIs(t, l.MarkProcessing(ctx, "evt_claimed"), ErrInvalidTransition)

	later := time.Now().UTC().Add(10 * time.Minute)
	l.now = func() time.Time { return later }
	res, err = p.RetrySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Retried)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, map[string]int{"evt_received": 1, "evt_claimed": 1}, calls)

	for _, id := range []string{"evt_received", "evt_claimed"} {
		rec, err := l.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.WEBHOOK_PROCESSED, rec.Status, id)
	}
	res, err = p.RetrySweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Retried)
}

func TestRetrySweepCountsUnreadablePayload(t *testing.T) {
	l, _ := newLedger(t)
	p := NewProcessor(l, secret)
	ctx := context.Background()
	_, _, err := l.LogEvent(ctx, "evt_bad", "charge.refunded", []byte("not json"))
	require.NoError(t, err)
	later := time.Now().UTC().Add(10 * time.Minute)
	l.now = func() time.Time { return later }

	res, err := p.RetrySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
	assert.Equal(t, 1, res.Failed)

	rec, err := l.Get(ctx, "evt_bad")
	require.NoError(t, err)
	assert.Equal(t, types.WEBHOOK_FAILED, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)
	assert.NotEmpty(t, rec.ErrorMessage)
}
