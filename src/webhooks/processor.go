package webhooks

import (
	"carepay/src/lib"
	"carepay/src/models"
	"carepay/src/types"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/stripe/stripe-go/v82"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Handler consumes one event type. A returned error marks the event failed
// and makes it eligible for the retry sweep.
type Handler func(ctx context.Context, event stripe.Event) error

// Receipt is what the webhook endpoint reports back for a delivery.
type Receipt struct {
	EventID   string              `json:"event_id"`
	EventType string              `json:"event_type"`
	Status    types.WebhookStatus `json:"status"`
	Duplicate bool                `json:"duplicate"`
}

type Processor struct {
	ledger *Ledger
	secret string

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewProcessor(ledger *Ledger, signingSecret string) *Processor {
	return &Processor{ledger: ledger, secret: signingSecret, handlers: map[string]Handler{}}
}

func (p *Processor) Handle(eventType string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[eventType] = h
}

func (p *Processor) handler(eventType string) (Handler, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handlers[eventType]
	return h, ok
}

func (p *Processor) Ledger() *Ledger {
	return p.ledger
}

// Receive verifies the signature, records the event and dispatches it. Nothing
// is stored for a delivery that fails verification. A repeated event id is
// acknowledged without side effects unless its record never finished, in which
// case the redelivery dispatches it.
func (p *Processor) Receive(ctx context.Context, payload []byte, signature string) (*Receipt, error) {
	event, err := lib.ConstructWebhookEvent(payload, signature, p.secret)
	if err != nil {
		log.Printf("[Webhooks] Signature verification failed: %s\n", err.Error())
		return nil, fmt.Errorf("%w: %s", ErrInvalidSignature, err.Error())
	}
	eventType := string(event.Type)
	rec, created, err := p.ledger.LogEvent(ctx, event.ID, eventType, payload)
	if err != nil {
		log.Printf("[Webhooks] Error logging event %s: %s\n", event.ID, err.Error())
		return nil, err
	}
	if !created {
		log.Printf("[Webhooks] Duplicate delivery of %s (%s)\n", event.ID, rec.Status)
		if rec.Status != types.WEBHOOK_RECEIVED && rec.Status != types.WEBHOOK_PROCESSING {
			return &Receipt{EventID: rec.EventID, EventType: rec.EventType, Status: rec.Status, Duplicate: true}, nil
		}
		status, err := p.dispatch(ctx, event)
		if err != nil {
			return nil, err
		}
		return &Receipt{EventID: rec.EventID, EventType: rec.EventType, Status: status, Duplicate: true}, nil
	}
	status, err := p.dispatch(ctx, event)
	if err != nil {
		return nil, err
	}
	return &Receipt{EventID: event.ID, EventType: eventType, Status: status}, nil
}

// dispatch runs the handler for a recorded event and reports the status the
// record ended in. Handler failures are stored, not returned.
func (p *Processor) dispatch(ctx context.Context, event stripe.Event) (types.WebhookStatus, error) {
	done, err := p.ledger.HasBeenProcessed(ctx, event.ID)
	if err != nil {
		return "", err
	}
	if done {
		return types.WEBHOOK_PROCESSED, nil
	}
	h, ok := p.handler(string(event.Type))
	if !ok {
		if err := p.ledger.MarkSkipped(ctx, event.ID, fmt.Sprintf("unhandled event type %s", event.Type)); err != nil && !errors.Is(err, ErrInvalidTransition) {
			return "", err
		}
		return types.WEBHOOK_SKIPPED, nil
	}
	if err := p.ledger.MarkProcessing(ctx, event.ID); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// another worker owns it or it is out of retries
			rec, gerr := p.ledger.Get(ctx, event.ID)
			if gerr != nil {
				return "", gerr
			}
			return rec.Status, nil
		}
		return "", err
	}
	if herr := h(ctx, event); herr != nil {
		log.Printf("[Webhooks] Handler for %s (%s) failed: %s\n", event.ID, event.Type, herr.Error())
		if err := p.ledger.MarkFailed(ctx, event.ID, herr); err != nil {
			return "", err
		}
		return types.WEBHOOK_FAILED, nil
	}
	if err := p.ledger.MarkProcessed(ctx, event.ID); err != nil {
		return "", err
	}
	log.Printf("[Webhooks] Processed %s (%s)\n", event.ID, event.Type)
	return types.WEBHOOK_PROCESSED, nil
}

// SweepResult counts what one retry sweep did.
type SweepResult struct {
	Retried   int `json:"retried"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
}

// RetrySweep re-dispatches failed events below the retry ceiling, and events
// abandoned in received or processing, from their stored payloads. The
// signature was verified at receipt.
func (p *Processor) RetrySweep(ctx context.Context) (*SweepResult, error) {
	recs, err := p.ledger.Retryable(ctx, 100)
	if err != nil {
		log.Printf("[Webhooks] Error listing retryable events: %s\n", err.Error())
		return nil, err
	}
	out := &SweepResult{}
	for i := range recs {
		rec := &recs[i]
		out.Retried++
		status, err := p.retry(ctx, rec)
		if err != nil {
			log.Printf("[Webhooks] Retry of %s failed: %s\n", rec.EventID, err.Error())
			out.Failed++
			continue
		}
		if status == types.WEBHOOK_PROCESSED {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	exhausted, err := p.ledger.Exhausted(ctx)
	if err == nil {
		out.Exhausted = len(exhausted)
	}
	if out.Retried > 0 {
		log.Printf("[Webhooks] Retry sweep: retried=%d succeeded=%d failed=%d exhausted=%d\n", out.Retried, out.Succeeded, out.Failed, out.Exhausted)
	}
	return out, nil
}

func (p *Processor) retry(ctx context.Context, rec *models.WebhookEvent) (types.WebhookStatus, error) {
	var event stripe.Event
	payload, err := p.ledger.Payload(rec)
	if err == nil {
		err = json.Unmarshal(payload, &event)
	}
	if err != nil {
		// count the attempt so an unreadable record reaches the ceiling
		if perr := p.ledger.MarkProcessing(ctx, rec.EventID); perr == nil {
			if ferr := p.ledger.MarkFailed(ctx, rec.EventID, err); ferr != nil {
				log.Printf("[Webhooks] Error marking %s failed: %s\n", rec.EventID, ferr.Error())
			}
		}
		return "", err
	}
	return p.dispatch(ctx, event)
}
