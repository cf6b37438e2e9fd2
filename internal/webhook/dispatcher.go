// Package webhook is the outbound delivery dispatcher (orig spec C11):
// enqueue, signed delivery, and the fixed retry backoff of orig spec
// §4.6. The HMAC signing shape (hex-encoded HMAC-SHA256 over the request)
// is grounded on the teacher's computeHMACSHA256/authenticateHMAC pair in
// internal/handler/middleware.go, adapted from inbound-verify to
// outbound-sign.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pathmark/pathmark/internal/model"
	"github.com/pathmark/pathmark/internal/store"
)

// backoff is the exact orig spec §4.6 schedule: index 0 is the delay
// after the first attempt, index 2 is the delay after the third; a
// fourth attempt always fails permanently.
var backoff = []time.Duration{1 * time.Minute, 5 * time.Minute, 15 * time.Minute}

const maxAttempts = 4
const batchSize = 10

// Dispatcher implements orig spec §4.6.
type Dispatcher struct {
	store  store.WebhookStore
	http   *http.Client
	logger *zap.SugaredLogger
	now    func() time.Time
}

func New(s store.WebhookStore, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		store:  s,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		now:    time.Now,
	}
}

// Enqueue inserts a pending delivery for every active webhook subscribed
// to eventType (orig spec §4.6).
func (d *Dispatcher) Enqueue(ctx context.Context, eventType string, payload any) error {
	hooks, err := d.store.ListActiveWebhooksForEvent(ctx, eventType)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	now := d.now()
	for _, h := range hooks {
		nextRetryAt := now
		del := &model.WebhookDelivery{
			WebhookID:   h.ID,
			EventType:   eventType,
			Payload:     body,
			Status:      model.DeliveryPending,
			NextRetryAt: &nextRetryAt,
			CreatedAt:   now,
		}
		if err := d.store.EnqueueDelivery(ctx, del); err != nil {
			return err
		}
	}
	return nil
}

// RunOnce is invoked by the scheduler every 60s: selects up to batchSize
// due deliveries and attempts each (orig spec §4.6).
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	due, err := d.store.ListDueDeliveries(ctx, d.now(), batchSize)
	if err != nil {
		return 0, err
	}
	for _, del := range due {
		d.attempt(ctx, del)
	}
	return len(due), nil
}

func (d *Dispatcher) attempt(ctx context.Context, del *model.WebhookDelivery) {
	hook, err := d.lookupWebhook(ctx, del)
	if err != nil {
		d.logger.Warnw("webhook lookup failed", "delivery_id", del.ID, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(del.Payload))
	if err != nil {
		d.fail(ctx, del, 0, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", sign(hook.Secret, del.Payload))
	req.Header.Set("X-Event-Type", del.EventType)

	resp, err := d.http.Do(req)
	if err != nil {
		d.fail(ctx, del, 0, err.Error())
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 == 2 {
		d.succeed(ctx, del, resp.StatusCode)
		return
	}
	d.fail(ctx, del, resp.StatusCode, "non-2xx response")
}

// lookupWebhook resolves the parent webhook for a delivery from the active
// webhooks subscribed to its event type. If the webhook is no longer
// active or subscribed, it returns a stub carrying only the ID; with no
// URL the POST then fails and is recorded as a failed attempt.
func (d *Dispatcher) lookupWebhook(ctx context.Context, del *model.WebhookDelivery) (*model.Webhook, error) {
	hooks, err := d.store.ListActiveWebhooksForEvent(ctx, del.EventType)
	if err != nil {
		return nil, err
	}
	for _, h := range hooks {
		if h.ID == del.WebhookID {
			return h, nil
		}
	}
	return &model.Webhook{ID: del.WebhookID}, nil
}

func (d *Dispatcher) succeed(ctx context.Context, del *model.WebhookDelivery, statusCode int) {
	now := d.now()
	del.Status = model.DeliverySuccess
	del.Attempts++
	del.LastAttemptAt = &now
	del.ResponseCode = &statusCode
	if err := d.store.RecordDeliveryOutcome(ctx, del); err != nil {
		d.logger.Warnw("record delivery outcome failed", "delivery_id", del.ID, "error", err)
	}
}

func (d *Dispatcher) fail(ctx context.Context, del *model.WebhookDelivery, statusCode int, reason string) {
	now := d.now()
	del.Attempts++
	del.LastAttemptAt = &now
	del.ErrorMessage = &reason
	if statusCode != 0 {
		del.ResponseCode = &statusCode
	}

	if del.Attempts >= maxAttempts {
		del.Status = model.DeliveryFailed
		del.NextRetryAt = nil
	} else {
		del.Status = model.DeliveryPending
		delay := backoff[del.Attempts-1]
		next := now.Add(delay)
		del.NextRetryAt = &next
	}

	if err := d.store.RecordDeliveryOutcome(ctx, del); err != nil {
		d.logger.Warnw("record delivery outcome failed", "delivery_id", del.ID, "error", err)
	}
}

// CleanupOld deletes deliveries older than 7 days (orig spec §4.6 daily
// task).
func (d *Dispatcher) CleanupOld(ctx context.Context) (int64, error) {
	cutoff := d.now().AddDate(0, 0, -7)
	n, err := d.store.DeleteDeliveriesOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	d.logger.Infow("webhook delivery cleanup", "deleted", n)
	return n, nil
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
