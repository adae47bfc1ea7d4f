package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osvaldoandrade/captureq/internal/backend"
	"github.com/osvaldoandrade/captureq/internal/backoff"
	"github.com/osvaldoandrade/captureq/internal/codec"
	"github.com/osvaldoandrade/captureq/internal/metrics"
	"github.com/osvaldoandrade/captureq/internal/ratelimit"
	"github.com/osvaldoandrade/captureq/internal/repository"
	"github.com/osvaldoandrade/captureq/pkg/domain"
)

const reconcileScope = "reconcile"

type ReconcileService interface {
	RunOnce(ctx context.Context) (ReconcileReport, error)
	Start(ctx context.Context)
}

type ReconcileReport struct {
	Scanned     int
	Candidates  int
	Resubmitted int
	// Aborted is set when a failed or throttled resubmission ended the pass early.
	Aborted bool
}

type ReconcileOptions struct {
	IntervalSeconds int
	ProbeRetries    int
	ProbeDelay      time.Duration
	BackoffPolicy   backoff.Policy
	RateLimit       ratelimit.Bucket
	// Sleep waits between status probes; it returns early with ctx's error.
	Sleep func(ctx context.Context, d time.Duration) error
}

type reconcileService struct {
	// held for a whole pass; the ticker and the admin route share one service
	running   sync.Mutex
	repo      repository.CaptureRepository
	submitter backend.Submitter
	limiter   ratelimit.Limiter
	opts      ReconcileOptions
	schedule  *backoff.Schedule
	logger    *slog.Logger
}

func NewReconcileService(repo repository.CaptureRepository, submitter backend.Submitter, limiter ratelimit.Limiter, opts ReconcileOptions, logger *slog.Logger) ReconcileService {
	if opts.IntervalSeconds <= 0 {
		opts.IntervalSeconds = 30
	}
	if opts.ProbeRetries <= 0 {
		opts.ProbeRetries = 3
	}
	if opts.ProbeDelay <= 0 {
		opts.ProbeDelay = 3 * time.Second
	}
	if opts.BackoffPolicy == "" {
		opts.BackoffPolicy = backoff.Fixed
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &reconcileService{
		repo:      repo,
		submitter: submitter,
		limiter:   limiter,
		opts:      opts,
		schedule:  backoff.NewSchedule(opts.BackoffPolicy, opts.ProbeDelay, 10*opts.ProbeDelay, time.Now().UnixNano()),
		logger:    logger.With("component", "reconciler"),
	}
}

func (s *reconcileService) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.opts.IntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rep, err := s.RunOnce(ctx)
			if errors.Is(err, domain.ErrReconcileBusy) {
				s.logger.Debug("reconcile pass skipped, one is already running")
				continue
			}
			if err != nil {
				s.logger.Warn("reconcile pass failed", "err", err)
				continue
			}
			if rep.Candidates > 0 {
				s.logger.Info("reconcile pass done", "scanned", rep.Scanned, "candidates", rep.Candidates,
					"resubmitted", rep.Resubmitted, "aborted", rep.Aborted)
			}
		}
	}
}

// RunOnce scans to_capture once, highest priority first, and resubmits the
// jobs the backend never received. The first failed resubmission ends the pass.
// It returns domain.ErrReconcileBusy while another pass is running.
func (s *reconcileService) RunOnce(ctx context.Context) (ReconcileReport, error) {
	var rep ReconcileReport
	if !s.running.TryLock() {
		return rep, domain.ErrReconcileBusy
	}
	defer s.running.Unlock()
	ids, err := s.repo.PendingIDs(ctx)
	if err != nil {
		return rep, err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Scanned++

		candidate, err := s.lost(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			// a backend that cannot answer status cannot take submissions either
			s.logger.Warn("status probe failed", "uuid", id, "err", err)
			rep.Aborted = true
			return rep, nil
		}
		if !candidate {
			continue
		}
		rep.Candidates++

		dec, err := s.limiter.Allow(ctx, reconcileScope, s.opts.RateLimit)
		if err != nil {
			return rep, err
		}
		if !dec.Allowed {
			metrics.RateLimitHitsTotal.WithLabelValues(reconcileScope).Inc()
			s.logger.Info("resubmission throttled", "uuid", id, "retryAfter", dec.RetryAfter)
			rep.Aborted = true
			return rep, nil
		}

		ok, err := s.resubmit(ctx, id)
		if err != nil {
			return rep, err
		}
		if !ok {
			rep.Aborted = true
			return rep, nil
		}
		rep.Resubmitted++
	}
	return rep, nil
}

// lost reports whether the backend never got the job: either the producer
// flagged it, or the backend keeps answering unknown after the probe retries.
func (s *reconcileService) lost(ctx context.Context, id string) (bool, error) {
	flagged, err := s.repo.IsNotQueued(ctx, id)
	if err != nil {
		return false, err
	}
	if flagged {
		return true, nil
	}

	status, err := s.probe(ctx, id)
	for attempt := 0; err == nil && status == domain.BackendUnknown && attempt < s.opts.ProbeRetries; attempt++ {
		if err := s.opts.Sleep(ctx, s.schedule.Delay(attempt)); err != nil {
			return false, err
		}
		status, err = s.probe(ctx, id)
		if err == nil && status != domain.BackendUnknown {
			s.logger.Info("capture was only temporarily unknown", "uuid", id, "status", status)
		}
	}
	if err != nil {
		return false, err
	}
	if status == domain.BackendUnknown {
		s.logger.Info("capture still unknown to the backend", "uuid", id)
		return true, nil
	}
	return false, nil
}

func (s *reconcileService) probe(ctx context.Context, id string) (domain.BackendStatus, error) {
	status, err := s.submitter.Status(ctx, id)
	if err != nil {
		metrics.ReconcileProbesTotal.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.ReconcileProbesTotal.WithLabelValues(string(status)).Inc()
	return status, nil
}

// resubmit returns false when the backend refused the job; only store
// failures come back as errors.
func (s *reconcileService) resubmit(ctx context.Context, id string) (bool, error) {
	fields, err := s.repo.Fields(ctx, id)
	if err != nil {
		return false, err
	}
	if len(fields) == 0 {
		// claimed and cleaned up by a consumer since the scan started
		metrics.ReconcileResubmissionsTotal.WithLabelValues("vanished").Inc()
		return true, nil
	}

	s.logger.Info("found a non-queued capture, retrying now", "uuid", id)
	got, err := s.submitter.Submit(ctx, codec.SubmitRequest(id, fields))
	if err != nil {
		metrics.ReconcileResubmissionsTotal.WithLabelValues("error").Inc()
		s.logger.Warn("still unable to enqueue capture", "uuid", id, "err", err)
		return false, nil
	}
	if got != id {
		s.logger.Warn("backend changed the capture uuid", "old", id, "new", got)
	}
	if err := s.repo.ClearNotQueued(ctx, id); err != nil {
		return false, err
	}
	metrics.ReconcileResubmissionsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("capture enqueued", "uuid", id)
	return true, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
