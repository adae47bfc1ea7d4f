// Package remote talks to the rendering backend's HTTP submission API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/osvaldoandrade/captureq/internal/backend"
	"github.com/osvaldoandrade/captureq/internal/tracing"
	"github.com/osvaldoandrade/captureq/pkg/domain"
)

// Status codes the backend reports on /capture_status.
const (
	statusUnknown = -1
	statusQueued  = 0
	statusDone    = 1
	statusOngoing = 2
)

type Options struct {
	BaseURL string
	// AuthSecret signs a short-lived HS256 bearer token when set.
	AuthSecret        string
	RequestsPerSecond float64
	Timeout           time.Duration
	HTTPClient        *http.Client
}

type Client struct {
	base    *url.URL
	secret  []byte
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

var _ backend.Submitter = (*Client)(nil)

func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/") + "/")
	if err != nil || base.Host == "" {
		return nil, errors.Newf("invalid backend url %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Client{
		base:    base,
		secret:  []byte(opts.AuthSecret),
		http:    hc,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}, nil
}

func (c *Client) Submit(ctx context.Context, req backend.SubmitRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrap(err, "encode submit request")
	}
	var accepted string
	if err := c.do(ctx, http.MethodPost, "enqueue", body, &accepted); err != nil {
		return "", errors.Mark(errors.Wrapf(err, "submit %s", req.UUID), domain.ErrEnqueueLost)
	}
	if accepted == "" {
		return "", errors.Mark(errors.Newf("submit %s: backend returned no uuid", req.UUID), domain.ErrEnqueueLost)
	}
	return accepted, nil
}

func (c *Client) Status(ctx context.Context, uuid string) (domain.BackendStatus, error) {
	var code int
	if err := c.do(ctx, http.MethodGet, "capture_status/"+url.PathEscape(uuid), nil, &code); err != nil {
		return domain.BackendUnknown, errors.Wrapf(err, "status %s", uuid)
	}
	switch code {
	case statusQueued:
		return domain.BackendQueued, nil
	case statusOngoing:
		return domain.BackendInProgress, nil
	case statusDone:
		return domain.BackendDone, nil
	default:
		return domain.BackendUnknown, nil
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	u := c.base.ResolveReference(&url.URL{Path: path})
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	tracing.InjectHeaders(ctx, req.Header)
	if len(c.secret) > 0 {
		tok, err := c.token()
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Newf("%s %s: http %d: %s", method, u.Path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "%s %s: decode response", method, u.Path)
	}
	return nil
}

func (c *Client) token() (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Issuer:    "captureq",
		Subject:   "reconciler",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign backend token")
	}
	return s, nil
}
