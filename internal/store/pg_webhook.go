package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/pathmark/pathmark/internal/model"
)

func (s *PgStore) ListActiveWebhooksForEvent(ctx context.Context, eventType string) ([]*model.Webhook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, secret, events, active FROM webhooks
		WHERE active = true AND $1 = ANY(events)`, eventType)
	if err != nil {
		return nil, fmt.Errorf("list active webhooks: %w", err)
	}
	defer rows.Close()

	var out []*model.Webhook
	for rows.Next() {
		var w model.Webhook
		if err := rows.Scan(&w.ID, &w.URL, &w.Secret, pq.Array(&w.Events), &w.Active); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

func (s *PgStore) EnqueueDelivery(ctx context.Context, d *model.WebhookDelivery) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO webhook_deliveries (webhook_id, event_type, payload, status, attempts, next_retry_at, created_at)
		VALUES ($1, $2, $3, 'pending', 0, now(), now())
		RETURNING id, created_at`,
		d.WebhookID, d.EventType, d.Payload,
	)
	if err := row.Scan(&d.ID, &d.CreatedAt); err != nil {
		return translateError(err, "webhook not found")
	}
	d.Status = model.DeliveryPending
	return nil
}

// ListDueDeliveries selects up to limit rows ready for attempt (orig spec
// §4.6: "a single-writer background loop"). It runs outside a transaction,
// so the FOR UPDATE SKIP LOCKED row locks end with the statement and do
// not keep a concurrent caller from selecting the same rows.
func (s *PgStore) ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]*model.WebhookDelivery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, webhook_id, event_type, payload, status, attempts, last_attempt_at, next_retry_at, response_code, error_message, created_at
		FROM webhook_deliveries
		WHERE status = 'pending' AND next_retry_at <= $1
		ORDER BY next_retry_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due deliveries: %w", err)
	}
	defer rows.Close()

	var out []*model.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDelivery(rows *sql.Rows) (*model.WebhookDelivery, error) {
	var d model.WebhookDelivery
	var status string
	if err := rows.Scan(&d.ID, &d.WebhookID, &d.EventType, &d.Payload, &status, &d.Attempts, &d.LastAttemptAt, &d.NextRetryAt, &d.ResponseCode, &d.ErrorMessage, &d.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan webhook delivery: %w", err)
	}
	d.Status = model.DeliveryStatus(status)
	return &d, nil
}

func (s *PgStore) RecordDeliveryOutcome(ctx context.Context, d *model.WebhookDelivery) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET status = $1, attempts = $2, last_attempt_at = $3, next_retry_at = $4, response_code = $5, error_message = $6
		WHERE id = $7`,
		string(d.Status), d.Attempts, d.LastAttemptAt, d.NextRetryAt, d.ResponseCode, d.ErrorMessage, d.ID)
	if err != nil {
		return translateError(err, "webhook delivery not found")
	}
	return nil
}

func (s *PgStore) DeleteDeliveriesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old deliveries: %w", err)
	}
	return res.RowsAffected()
}
