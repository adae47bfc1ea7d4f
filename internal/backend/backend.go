// Package backend defines the narrow contracts the orchestrator holds with the
// rendering backend: a scoped capture session and a submission API used when
// a job has to be handed over again.
package backend

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/osvaldoandrade/captureq/pkg/domain"
)

// ErrInvalidParameters is returned (wrapped) by adapters when the session
// configuration itself is rejected. Such captures are not retried.
var ErrInvalidParameters = errors.Mark(errors.New("invalid parameters for the capture"), domain.ErrBackendParameters)

// InvalidParameters wraps ErrInvalidParameters with detail.
func InvalidParameters(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidParameters, format, args...)
}

type SessionOptions struct {
	Engine domain.Engine
	Device string
	Proxy  string
}

type Backend interface {
	OpenSession(ctx context.Context, opts SessionOptions) (Session, error)
}

// Session is one rendering context. Callers must Close it on every path.
type Session interface {
	SetHeaders(headers map[string]string) error
	SetCookies(cookies []Cookie) error
	SetViewport(vp domain.Viewport) error
	SetUserAgent(ua string) error
	Render(ctx context.Context, url, referer string) (*domain.Bundle, error)
	Close() error
}

// SubmitRequest mirrors the backend's enqueue payload. Field values are
// passed through as stored by the producer.
type SubmitRequest struct {
	UUID                 string          `json:"uuid"`
	URL                  string          `json:"url,omitempty"`
	DocumentName         string          `json:"document_name,omitempty"`
	Document             []byte          `json:"document,omitempty"`
	Browser              string          `json:"browser,omitempty"`
	DeviceName           string          `json:"device_name,omitempty"`
	UserAgent            string          `json:"user_agent,omitempty"`
	Proxy                string          `json:"proxy,omitempty"`
	GeneralTimeoutInSec  int             `json:"general_timeout_in_sec,omitempty"`
	Cookies              string          `json:"cookies,omitempty"`
	Headers              string          `json:"headers,omitempty"`
	HTTPCredentials      json.RawMessage `json:"http_credentials,omitempty"`
	Viewport             json.RawMessage `json:"viewport,omitempty"`
	Referer              string          `json:"referer,omitempty"`
	RenderedHostnameOnly bool            `json:"rendered_hostname_only"`
	Priority             int             `json:"priority"`
}

type Submitter interface {
	// Submit hands a capture to the backend and returns the uuid it accepted.
	// The returned uuid may differ from req.UUID when the backend deduplicated.
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Status(ctx context.Context, uuid string) (domain.BackendStatus, error)
}
