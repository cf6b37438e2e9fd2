package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pathmark/pathmark/internal/model"
)

func (s *PgStore) AppendAuditLog(ctx context.Context, e *model.AuditLog) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO audit_logs (organization_id, actor_type, actor_id, action, resource_type, resource_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING id, created_at`,
		e.OrganizationID, e.ActorType, e.ActorID, e.Action, e.ResourceType, e.ResourceID, jsonOf(e.Details),
	)
	if err := row.Scan(&e.ID, &e.CreatedAt); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

func (s *PgStore) QueryAuditLogs(ctx context.Context, q AuditQuery) ([]*model.AuditLog, error) {
	query := `SELECT id, organization_id, actor_type, actor_id, action, resource_type, resource_id, details, created_at FROM audit_logs WHERE true`
	args, n := []any{}, 1

	if q.OrganizationID != nil {
		query += fmt.Sprintf(" AND organization_id = $%d", n)
		args = append(args, *q.OrganizationID)
		n++
	}
	if q.ActorID != nil {
		query += fmt.Sprintf(" AND actor_id = $%d", n)
		args = append(args, *q.ActorID)
		n++
	}
	if q.ResourceType != nil {
		query += fmt.Sprintf(" AND resource_type = $%d", n)
		args = append(args, *q.ResourceType)
		n++
	}
	if q.From != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", n)
		args = append(args, *q.From)
		n++
	}
	if q.To != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", n)
		args = append(args, *q.To)
		n++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", n, n+1)
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var out []*model.AuditLog
	for rows.Next() {
		var e model.AuditLog
		var details []byte
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.ActorType, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		e.Details = mustUnmarshalMap(details)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *PgStore) CountAuditLogs(ctx context.Context, q AuditQuery) (int, error) {
	query := `SELECT count(*) FROM audit_logs WHERE true`
	args, n := []any{}, 1
	if q.OrganizationID != nil {
		query += fmt.Sprintf(" AND organization_id = $%d", n)
		args = append(args, *q.OrganizationID)
		n++
	}
	if q.ActorID != nil {
		query += fmt.Sprintf(" AND actor_id = $%d", n)
		args = append(args, *q.ActorID)
		n++
	}
	if q.ResourceType != nil {
		query += fmt.Sprintf(" AND resource_type = $%d", n)
		args = append(args, *q.ResourceType)
	}

	var count int
	row := s.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit logs: %w", err)
	}
	return count, nil
}

func (s *PgStore) CreateExportJob(ctx context.Context, j *model.AuditExportJob, q AuditQuery) error {
	queryJSON, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal export job query: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO audit_export_jobs (status, format, query_json, created_at)
		VALUES ('pending', $1, $2, now())
		RETURNING id, created_at`, j.Format, queryJSON)
	if err := row.Scan(&j.ID, &j.CreatedAt); err != nil {
		return fmt.Errorf("create export job: %w", err)
	}
	j.Status = model.ExportPending
	return nil
}

func (s *PgStore) GetExportJob(ctx context.Context, id string) (*model.AuditExportJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, format, download_url, expires_at, error, created_at
		FROM audit_export_jobs WHERE id = $1`, id)
	var j model.AuditExportJob
	var status string
	if err := row.Scan(&j.ID, &status, &j.Format, &j.DownloadURL, &j.ExpiresAt, &j.Error, &j.CreatedAt); err != nil {
		return nil, translateError(err, "export job not found")
	}
	j.Status = model.ExportStatus(status)
	return &j, nil
}

// ClaimPendingExportJobs marks up to limit pending jobs processing and
// returns them with their stored query, using SELECT ... FOR UPDATE SKIP
// LOCKED so concurrent scheduler replicas never claim the same job (orig
// spec §5 audit-export job poller).
func (s *PgStore) ClaimPendingExportJobs(ctx context.Context, limit int) ([]PendingExportJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE audit_export_jobs SET status = 'processing'
		WHERE id IN (
			SELECT id FROM audit_export_jobs
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, format, query_json`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending export jobs: %w", err)
	}
	defer rows.Close()

	var out []PendingExportJob
	for rows.Next() {
		var p PendingExportJob
		var queryJSON []byte
		if err := rows.Scan(&p.JobID, &p.Format, &queryJSON); err != nil {
			return nil, fmt.Errorf("scan pending export job: %w", err)
		}
		if err := json.Unmarshal(queryJSON, &p.Query); err != nil {
			return nil, fmt.Errorf("unmarshal export job query: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PgStore) CompleteExportJob(ctx context.Context, id, downloadURL string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE audit_export_jobs SET status = 'completed', download_url = $1, expires_at = $2 WHERE id = $3`,
		downloadURL, expiresAt, id)
	if err != nil {
		return translateError(err, "export job not found")
	}
	return nil
}

func (s *PgStore) FailExportJob(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE audit_export_jobs SET status = 'failed', error = $1 WHERE id = $2`, errMsg, id)
	if err != nil {
		return translateError(err, "export job not found")
	}
	return nil
}
