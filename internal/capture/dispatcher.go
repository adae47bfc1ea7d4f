// Package capture turns a decoded job into one rendering session on the
// browser backend.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/osvaldoandrade/captureq/internal/backend"
	"github.com/osvaldoandrade/captureq/internal/metrics"
	"github.com/osvaldoandrade/captureq/internal/ssrf"
	"github.com/osvaldoandrade/captureq/internal/tracing"
	"github.com/osvaldoandrade/captureq/pkg/domain"
)

type Outcome string

const (
	OutcomeOK             Outcome = "ok"
	OutcomeEmpty          Outcome = "empty"
	OutcomeInvalid        Outcome = "invalid"
	OutcomeDenied         Outcome = "denied"
	OutcomeParameterError Outcome = "parameter_error"
	OutcomeBackendFault   Outcome = "backend_fault"
)

// Result is the dispatch verdict. Failures are reported here, never as panics.
type Result struct {
	Outcome Outcome
	// URL is the normalized target the backend was asked for.
	URL    string
	Proxy  string
	Engine domain.Engine
	Bundle *domain.Bundle
	Err    error
}

// Message is the user-facing text stored with a failed capture.
func (r Result) Message() string {
	switch r.Outcome {
	case OutcomeOK:
		return ""
	case OutcomeInvalid, OutcomeDenied:
		return r.Err.Error()
	case OutcomeParameterError:
		return fmt.Sprintf("Invalid parameters for the capture of %s - %v", r.URL, r.Err)
	}
	return fmt.Sprintf("Something went terribly wrong when capturing %s.", r.URL)
}

type Guard interface {
	Check(ctx context.Context, target, proxy string) (ssrf.Decision, error)
}

type UserAgents interface {
	Default() string
}

type Dispatcher struct {
	backend backend.Backend
	guard   Guard
	agents  UserAgents
	logger  *slog.Logger
}

func NewDispatcher(b backend.Backend, guard Guard, agents UserAgents, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{backend: b, guard: guard, agents: agents, logger: logger.With("component", "dispatcher")}
}

func (d *Dispatcher) Dispatch(ctx context.Context, job *domain.CaptureJob) Result {
	var target string
	switch {
	case job.HasDocument():
		path, err := writeDocument(job)
		if err != nil {
			return Result{Outcome: OutcomeBackendFault, URL: job.DocumentName, Err: errors.Mark(err, domain.ErrBackendFault)}
		}
		defer func() {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				d.logger.Warn("remove document temp file failed", "path", path, "err", err)
			}
		}()
		target = "file://" + path
	case job.URL != "":
		target = Normalize(job.URL)
	default:
		return Result{Outcome: OutcomeInvalid, Err: domain.ErrNoTarget}
	}

	// The temp file written above is ours; only submitted URLs are checked.
	decision := ssrf.Decision{Proxy: job.Proxy}
	if !job.HasDocument() {
		var err error
		if decision, err = d.guard.Check(ctx, target, job.Proxy); err != nil {
			metrics.PolicyDenialsTotal.WithLabelValues(err.Error()).Inc()
			d.logger.Info("capture denied", "uuid", job.UUID, "url", target, "reason", err.Error())
			return Result{Outcome: OutcomeDenied, URL: target, Proxy: job.Proxy, Err: err}
		}
	}

	ua := job.UserAgent
	if ua == "" && d.agents != nil {
		ua = d.agents.Default()
	}
	engine := job.BrowserEngine
	if engine == "" {
		engine = EngineFor(ua)
	}

	res := Result{URL: target, Proxy: decision.Proxy, Engine: engine}
	ctx, span := tracing.Tracer().Start(ctx, "capture.dispatch", trace.WithAttributes(
		attribute.String("capture.uuid", job.UUID),
		attribute.String("capture.engine", string(engine)),
		attribute.Bool("capture.document", job.HasDocument()),
	))
	defer span.End()

	d.logger.Info("capturing", "uuid", job.UUID, "url", target, "engine", engine, "device", job.DeviceName)
	start := time.Now()
	bundle, err := d.render(ctx, job, target, engine, decision.Proxy, ua)
	switch {
	case err != nil && errors.Is(err, domain.ErrBackendParameters):
		res.Outcome, res.Err = OutcomeParameterError, err
	case err != nil:
		res.Outcome, res.Err = OutcomeBackendFault, errors.Mark(err, domain.ErrBackendFault)
	case bundle == nil:
		res.Outcome, res.Err = OutcomeEmpty, errors.Mark(errors.New("backend returned no bundle"), domain.ErrBackendFault)
	default:
		res.Outcome, res.Bundle = OutcomeOK, bundle
	}
	metrics.DispatchLatencySeconds.WithLabelValues(string(engine), string(res.Outcome)).Observe(time.Since(start).Seconds())

	span.SetAttributes(attribute.String("capture.outcome", string(res.Outcome)))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(res.Outcome))
		d.logger.Warn("capture failed", "uuid", job.UUID, "url", target, "outcome", res.Outcome, "err", res.Err)
	}
	return res
}

func (d *Dispatcher) render(ctx context.Context, job *domain.CaptureJob, target string, engine domain.Engine, proxy, ua string) (bundle *domain.Bundle, err error) {
	defer func() {
		if r := recover(); r != nil {
			bundle, err = nil, errors.Newf("backend panic: %v", r)
		}
	}()

	sess, err := d.backend.OpenSession(ctx, backend.SessionOptions{Engine: engine, Device: job.DeviceName, Proxy: proxy})
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			d.logger.Warn("close capture session failed", "uuid", job.UUID, "err", cerr)
		}
	}()

	if len(job.Headers) > 0 {
		if err := sess.SetHeaders(job.Headers); err != nil {
			return nil, err
		}
	}
	if len(job.Cookies) > 0 {
		cookies, err := backend.ParseCookies(job.Cookies)
		if err != nil {
			return nil, err
		}
		if err := sess.SetCookies(cookies); err != nil {
			return nil, err
		}
	}
	if job.Viewport != nil {
		if err := sess.SetViewport(*job.Viewport); err != nil {
			return nil, err
		}
	}
	// device profiles carry their own agent
	if job.DeviceName == "" && ua != "" {
		if err := sess.SetUserAgent(ua); err != nil {
			return nil, err
		}
	}
	return sess.Render(ctx, target, job.Referer)
}

func writeDocument(job *domain.CaptureJob) (string, error) {
	f, err := os.CreateTemp("", "capture-*-"+job.DocumentName)
	if err != nil {
		return "", errors.Wrap(err, "create document temp file")
	}
	if _, err := f.Write(job.Document); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", errors.Wrap(err, "write document temp file")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", errors.Wrap(err, "close document temp file")
	}
	return f.Name(), nil
}
