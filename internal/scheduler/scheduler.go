// Package scheduler runs the independent ticker-driven background loops
// (orig spec C10, §5 "Graceful shutdown"): location/movement retention,
// webhook retry, webhook delivery cleanup, rate-limiter sweep, and the
// audit-export job poller. Grounded on the teacher's stale-instance reaper
// goroutine in cmd/server/main.go — the same
// `for { select { case <-quit: ...; case <-ticker.C: ... } }` shape,
// generalized to five independent loops instead of one.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pathmark/pathmark/internal/audit"
	"github.com/pathmark/pathmark/internal/auth"
	"github.com/pathmark/pathmark/internal/location"
	"github.com/pathmark/pathmark/internal/webhook"
)

// Config tunes every loop's interval; zero values fall back to the orig
// spec §4.4/§4.6/§5 defaults.
type Config struct {
	RetentionInterval        time.Duration // default 1h
	RetentionDays            int           // default 90
	RetentionBatchSize       int           // default 10000
	WebhookRetryInterval     time.Duration // default 60s
	CleanupInterval          time.Duration // default 24h
	RateLimitSweepEvery      time.Duration // default 5m
	AuditExportPollInterval  time.Duration // default 30s
	AuditExportBatchSize     int           // default 5
	ShutdownTimeout          time.Duration // default 30s
}

func (c Config) withDefaults() Config {
	if c.RetentionInterval == 0 {
		c.RetentionInterval = time.Hour
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = 90
	}
	if c.RetentionBatchSize == 0 {
		c.RetentionBatchSize = 10000
	}
	if c.WebhookRetryInterval == 0 {
		c.WebhookRetryInterval = 60 * time.Second
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = 24 * time.Hour
	}
	if c.RateLimitSweepEvery == 0 {
		c.RateLimitSweepEvery = 5 * time.Minute
	}
	if c.AuditExportPollInterval == 0 {
		c.AuditExportPollInterval = 30 * time.Second
	}
	if c.AuditExportBatchSize == 0 {
		c.AuditExportBatchSize = 5
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	return c
}

// Scheduler owns the five background loops of orig spec C10.
type Scheduler struct {
	cfg        Config
	ingester   *location.Ingester
	dispatcher *webhook.Dispatcher
	authn      *auth.Authenticator
	exporter   *audit.Exporter
	logger     *zap.SugaredLogger

	quit chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config, ingester *location.Ingester, dispatcher *webhook.Dispatcher, authn *auth.Authenticator, exporter *audit.Exporter, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		cfg:        cfg.withDefaults(),
		ingester:   ingester,
		dispatcher: dispatcher,
		authn:      authn,
		exporter:   exporter,
		logger:     logger,
		quit:       make(chan struct{}),
	}
}

// Start launches every loop as an independent goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(5)
	go s.loop(s.cfg.RetentionInterval, s.runRetentionSweep)
	go s.loop(s.cfg.WebhookRetryInterval, s.runWebhookRetry)
	go s.loop(s.cfg.CleanupInterval, s.runWebhookCleanup)
	go s.loop(s.cfg.RateLimitSweepEvery, s.runRateLimitSweep)
	go s.loop(s.cfg.AuditExportPollInterval, s.runAuditExportPoll)
}

// Stop cancels all loops and waits up to the configured shutdown timeout
// for in-flight iterations to finish (orig spec §5 graceful shutdown).
func (s *Scheduler) Stop(ctx context.Context) {
	close(s.quit)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timeout := time.NewTimer(s.cfg.ShutdownTimeout)
	defer timeout.Stop()

	select {
	case <-done:
	case <-timeout.C:
		s.logger.Warn("scheduler shutdown timed out with loops still in flight")
	case <-ctx.Done():
	}
}

func (s *Scheduler) loop(interval time.Duration, run func(ctx context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			run(ctx)
			cancel()
		}
	}
}

func (s *Scheduler) runRetentionSweep(ctx context.Context) {
	n, err := s.ingester.RetentionSweep(ctx, s.cfg.RetentionDays, s.cfg.RetentionBatchSize)
	if err != nil {
		s.logger.Warnw("retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Infow("retention sweep", "deleted", n)
	}
}

func (s *Scheduler) runWebhookRetry(ctx context.Context) {
	n, err := s.dispatcher.RunOnce(ctx)
	if err != nil {
		s.logger.Warnw("webhook retry batch failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Infow("webhook retry batch", "attempted", n)
	}
}

func (s *Scheduler) runWebhookCleanup(ctx context.Context) {
	if _, err := s.dispatcher.CleanupOld(ctx); err != nil {
		s.logger.Warnw("webhook delivery cleanup failed", "error", err)
	}
}

func (s *Scheduler) runRateLimitSweep(ctx context.Context) {
	n := s.authn.SweepRateLimiter()
	if n > 0 {
		s.logger.Debugw("rate limiter sweep", "evicted", n)
	}
}

func (s *Scheduler) runAuditExportPoll(ctx context.Context) {
	n, err := s.exporter.ProcessPending(ctx, s.cfg.AuditExportBatchSize)
	if err != nil {
		s.logger.Warnw("audit export poll failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Infow("audit export poll", "claimed", n)
	}
}
