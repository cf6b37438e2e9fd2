// Package audit is the append-only audit log and bulk export pipeline
// (orig spec C12, §4.7). Grounded on the teacher's append-only pattern of
// writing state changes through a narrow store method rather than
// reconstructing history from application logs.
package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pathmark/pathmark/internal/model"
	"github.com/pathmark/pathmark/internal/store"
)

// Recorder appends privileged-action events to the append-only audit log.
// No handler in this module calls Append, so mutations made through the
// HTTP API are not recorded in the audit log.
type Recorder struct {
	store store.AuditStore
}

func NewRecorder(s store.AuditStore) *Recorder {
	return &Recorder{store: s}
}

func (r *Recorder) Append(ctx context.Context, orgID *string, actorType, actorID, action, resourceType, resourceID string, details map[string]any) error {
	return r.store.AppendAuditLog(ctx, &model.AuditLog{
		OrganizationID: orgID,
		ActorType:      actorType,
		ActorID:        actorID,
		Action:         action,
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		Details:        details,
		CreatedAt:      time.Now().UTC(),
	})
}

// syncThreshold is the row count below which Export returns the formatted
// payload synchronously (orig spec §4.7).
const syncThreshold = 1000

// artifactTTL is how long a completed async export's download_url remains
// valid.
const artifactTTL = 24 * time.Hour

// Exporter implements orig spec §4.7's synchronous/asynchronous export
// split.
type Exporter struct {
	store      store.AuditStore
	artifacts  ArtifactStore
	logger     *zap.SugaredLogger
}

// ArtifactStore persists a finished export's bytes somewhere fetchable by
// download_url. FileArtifactStore (fsstore.go) is the implementation that
// cmd/pathmark wires at startup.
type ArtifactStore interface {
	Put(ctx context.Context, jobID string, format string, data []byte) (downloadURL string, err error)
}

func NewExporter(s store.AuditStore, artifacts ArtifactStore, logger *zap.SugaredLogger) *Exporter {
	return &Exporter{store: s, artifacts: artifacts, logger: logger}
}

// SyncResult is returned when the row count is below syncThreshold.
type SyncResult struct {
	ContentType string
	Body        []byte
}

// AsyncResult is returned when the row count is at/above syncThreshold:
// the caller returns 202 with JobID immediately.
type AsyncResult struct {
	JobID string
}

// Export counts the full match set and either formats it synchronously or
// persists a pending export job for the scheduler's poll loop to pick up
// (orig spec §4.7).
func (e *Exporter) Export(ctx context.Context, q store.AuditQuery, format string) (*SyncResult, *AsyncResult, error) {
	total, err := e.store.CountAuditLogs(ctx, q)
	if err != nil {
		return nil, nil, err
	}

	if total < syncThreshold {
		rows, err := e.store.QueryAuditLogs(ctx, q)
		if err != nil {
			return nil, nil, err
		}
		body, contentType, err := format2(rows, format)
		if err != nil {
			return nil, nil, err
		}
		return &SyncResult{ContentType: contentType, Body: body}, nil, nil
	}

	job := &model.AuditExportJob{Status: model.ExportPending, Format: format, CreatedAt: time.Now().UTC()}
	if err := e.store.CreateExportJob(ctx, job, q); err != nil {
		return nil, nil, err
	}

	return nil, &AsyncResult{JobID: job.ID}, nil
}

// ProcessPending claims up to limit pending export jobs and runs each to
// completion. The scheduler's audit-export poll loop calls this every tick
// (orig spec §5 audit-export job poller) so async exports progress without
// depending on the originating request's goroutine.
func (e *Exporter) ProcessPending(ctx context.Context, limit int) (int, error) {
	jobs, err := e.store.ClaimPendingExportJobs(ctx, limit)
	if err != nil {
		return 0, err
	}
	for _, j := range jobs {
		e.runAsyncExport(ctx, j.JobID, j.Query, j.Format)
	}
	return len(jobs), nil
}

func (e *Exporter) runAsyncExport(ctx context.Context, jobID string, q store.AuditQuery, format string) {
	rows, err := e.store.QueryAuditLogs(ctx, q)
	if err != nil {
		e.failJob(ctx, jobID, err)
		return
	}
	body, _, err := format2(rows, format)
	if err != nil {
		e.failJob(ctx, jobID, err)
		return
	}
	url, err := e.artifacts.Put(ctx, jobID, format, body)
	if err != nil {
		e.failJob(ctx, jobID, err)
		return
	}
	expiresAt := time.Now().UTC().Add(artifactTTL)
	if err := e.store.CompleteExportJob(ctx, jobID, url, expiresAt); err != nil {
		e.logger.Warnw("complete export job failed", "job_id", jobID, "error", err)
	}
}

func (e *Exporter) failJob(ctx context.Context, jobID string, cause error) {
	e.logger.Warnw("audit export job failed", "job_id", jobID, "error", cause)
	if err := e.store.FailExportJob(ctx, jobID, cause.Error()); err != nil {
		e.logger.Warnw("mark export job failed", "job_id", jobID, "error", err)
	}
}

func (e *Exporter) JobStatus(ctx context.Context, jobID string) (*model.AuditExportJob, error) {
	return e.store.GetExportJob(ctx, jobID)
}

func format2(rows []*model.AuditLog, format string) ([]byte, string, error) {
	if format == "json" {
		b, err := json.Marshal(rows)
		return b, "application/json", err
	}
	b, err := toCSV(rows)
	return b, "text/csv", err
}

// toCSV renders rows per RFC 4180 (orig spec §4.7: escape quote, comma,
// newline; header row first). encoding/csv already applies RFC 4180
// quoting rules, so no hand-rolled escaping is needed here.
func toCSV(rows []*model.AuditLog) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"id", "organization_id", "actor_type", "actor_id", "action", "resource_type", "resource_id", "details", "created_at"}); err != nil {
		return nil, err
	}

	for _, r := range rows {
		orgID := ""
		if r.OrganizationID != nil {
			orgID = *r.OrganizationID
		}
		details, err := json.Marshal(r.Details)
		if err != nil {
			return nil, err
		}
		record := []string{
			r.ID,
			orgID,
			r.ActorType,
			r.ActorID,
			r.Action,
			r.ResourceType,
			r.ResourceID,
			string(details),
			r.CreatedAt.Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
