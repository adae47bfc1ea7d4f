package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/osvaldoandrade/captureq/internal/capture"
	"github.com/osvaldoandrade/captureq/internal/codec"
	"github.com/osvaldoandrade/captureq/internal/metrics"
	"github.com/osvaldoandrade/captureq/internal/repository"
	"github.com/osvaldoandrade/captureq/internal/tracing"
	"github.com/osvaldoandrade/captureq/pkg/domain"
)

type ConsumerService interface {
	// ProcessOne claims and handles a single job. processed is false when
	// to_capture was empty. Only shared-store failures are returned.
	ProcessOne(ctx context.Context) (processed bool, err error)
	RunUntilDrained(ctx context.Context) (int, error)
	Start(ctx context.Context)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, job *domain.CaptureJob) capture.Result
}

type Persister interface {
	Persist(ctx context.Context, job *domain.CaptureJob, b *domain.Bundle) (string, error)
}

type consumerService struct {
	repo       repository.CaptureRepository
	dispatcher Dispatcher
	persister  Persister
	codecOpts  codec.Options
	logger     *slog.Logger
	interval   time.Duration
	now        func() time.Time
}

func NewConsumerService(repo repository.CaptureRepository, dispatcher Dispatcher, persister Persister, codecOpts codec.Options, logger *slog.Logger, pollIntervalSeconds int) ConsumerService {
	if pollIntervalSeconds <= 0 {
		pollIntervalSeconds = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &consumerService{
		repo:       repo,
		dispatcher: dispatcher,
		persister:  persister,
		codecOpts:  codecOpts,
		logger:     logger.With("component", "consumer"),
		interval:   time.Duration(pollIntervalSeconds) * time.Second,
		now:        time.Now,
	}
}

func (s *consumerService) Start(ctx context.Context) {
	for {
		n, err := s.RunUntilDrained(ctx)
		if err != nil {
			s.logger.Error("consumer cycle aborted", "err", err)
		} else if n > 0 {
			s.logger.Info("queue drained", "processed", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.interval):
		}
	}
}

// RunUntilDrained processes jobs while to_capture exists. Cancellation is
// only observed between jobs.
func (s *consumerService) RunUntilDrained(ctx context.Context) (int, error) {
	n := 0
	for ctx.Err() == nil {
		pending, err := s.repo.HasPending(ctx)
		if err != nil {
			return n, err
		}
		if !pending {
			return n, nil
		}
		processed, err := s.ProcessOne(ctx)
		if err != nil {
			return n, err
		}
		if !processed {
			return n, nil
		}
		n++
	}
	return n, nil
}

func (s *consumerService) ProcessOne(ctx context.Context) (bool, error) {
	claim, ok, err := s.repo.Claim(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	claim.ClaimedAt = s.now()
	metrics.CapturesClaimedTotal.Inc()

	// a claimed job runs to cleanup even when shutdown starts meanwhile
	work := context.WithoutCancel(ctx)
	outcome, procErr := s.process(work, claim.UUID)
	if procErr != nil {
		// No terminal outcome was recorded: the record stays in ongoing for an
		// operator instead of being deleted without a trace.
		metrics.CapturesCompletedTotal.WithLabelValues("store_error").Inc()
		s.logger.Error("capture left in ongoing after store failure", "uuid", claim.UUID, "err", procErr)
		return true, procErr
	}

	released, err := s.repo.Cleanup(work, *claim)
	if err != nil {
		return true, err
	}
	if !released {
		s.logger.Warn("capture was already released", "uuid", claim.UUID)
	}
	metrics.CapturesCompletedTotal.WithLabelValues(outcome).Inc()
	s.logger.Debug("capture released", "uuid", claim.UUID, "bucket", claim.Bucket, "outcome", outcome,
		"elapsed", s.now().Sub(claim.ClaimedAt))
	return true, nil
}

// process returns the outcome label and, only for shared-store failures, an error.
func (s *consumerService) process(ctx context.Context, uuid string) (string, error) {
	fields, err := s.repo.Fields(ctx, uuid)
	if err != nil {
		return "store_error", err
	}

	job, err := codec.Decode(uuid, fields, s.codecOpts)
	if err != nil {
		s.logger.Warn("invalid capture", "uuid", uuid, "err", err)
		return string(capture.OutcomeInvalid), s.fail(ctx, uuid, fields[codec.FieldURL], err.Error())
	}

	ctx, span := tracing.StartCapture(ctx, uuid, job.TraceParent, job.TraceState)
	defer span.End()

	res := s.dispatcher.Dispatch(ctx, job)
	span.SetAttributes(attribute.String("capture.outcome", string(res.Outcome)))
	if res.Outcome != capture.OutcomeOK {
		span.SetStatus(codes.Error, string(res.Outcome))
		return string(res.Outcome), s.fail(ctx, uuid, job.Target(), res.Message())
	}

	dir, err := s.persister.Persist(ctx, job, res.Bundle)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist")
		if errors.Is(err, domain.ErrIncompleteCapture) {
			return "incomplete", s.fail(ctx, uuid, job.Target(), err.Error())
		}
		s.logger.Error("persist capture failed", "uuid", uuid, "dir", dir, "err", err)
		return "persist_error", s.fail(ctx, uuid, job.Target(),
			fmt.Sprintf("Something went terribly wrong when capturing %s.", res.URL))
	}
	s.logger.Info("capture stored", "uuid", uuid, "url", res.URL, "dir", dir)
	return string(capture.OutcomeOK), nil
}

func (s *consumerService) fail(ctx context.Context, uuid, target, msg string) error {
	s.logger.Warn("unable to capture", "uuid", uuid, "url", target, "reason", msg)
	return s.repo.RecordError(ctx, uuid, fmt.Sprintf("%s - %s - %s", msg, target, uuid))
}
