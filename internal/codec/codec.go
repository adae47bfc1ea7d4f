// Package codec turns the flat Redis hash a producer writes for a capture into
// a typed domain.CaptureJob, and back into the backend's submission payload.
package codec

import (
	"encoding/json"
	"path"
	"strconv"
	"strings"

	"github.com/osvaldoandrade/captureq/internal/backend"
	"github.com/osvaldoandrade/captureq/pkg/domain"
)

// Hash field names written by producers.
const (
	FieldURL                  = "url"
	FieldDocument             = "document"
	FieldDocumentName         = "document_name"
	FieldListing              = "listing"
	FieldParent               = "parent"
	FieldUserAgent            = "user_agent"
	FieldReferer              = "referer"
	FieldHeaders              = "headers"
	FieldDNT                  = "dnt"
	FieldCookies              = "cookies"
	FieldProxy                = "proxy"
	FieldOS                   = "os"
	FieldBrowser              = "browser"
	FieldBrowserEngine        = "browser_engine"
	FieldDeviceName           = "device_name"
	FieldViewport             = "viewport"
	FieldNotQueued            = "not_queued"
	FieldPriority             = "priority"
	FieldGeneralTimeout       = "general_timeout_in_sec"
	FieldHTTPCredentials      = "http_credentials"
	FieldRenderedHostnameOnly = "rendered_hostname_only"
	FieldTraceParent          = "traceparent"
	FieldTraceState           = "tracestate"
)

type Options struct {
	// DefaultPublic is the listing policy applied when the job says nothing.
	DefaultPublic bool
}

// Decode validates a raw job record. It never panics on missing or malformed
// fields; failures are marked domain.ErrValidation.
func Decode(uuid string, fields map[string]string, opts Options) (*domain.CaptureJob, error) {
	job := &domain.CaptureJob{
		UUID:        uuid,
		Listing:     ParseListing(fields, opts.DefaultPublic),
		Parent:      fields[FieldParent],
		UserAgent:   fields[FieldUserAgent],
		Referer:     fields[FieldReferer],
		Proxy:       fields[FieldProxy],
		OS:          fields[FieldOS],
		Browser:     fields[FieldBrowser],
		DeviceName:  fields[FieldDeviceName],
		TraceParent: fields[FieldTraceParent],
		TraceState:  fields[FieldTraceState],
	}

	switch {
	case fields[FieldDocument] != "":
		job.Document = []byte(fields[FieldDocument])
		job.DocumentName = path.Base(strings.ReplaceAll(fields[FieldDocumentName], "\\", "/"))
		if job.DocumentName == "." || job.DocumentName == "/" {
			job.DocumentName = ""
		}
	case fields[FieldURL] != "":
		job.URL = fields[FieldURL]
	default:
		return nil, domain.ErrNoTarget
	}

	if e := fields[FieldBrowserEngine]; e != "" {
		job.BrowserEngine = domain.Engine(strings.ToLower(e))
	}

	headers := ParseHeaders(fields[FieldHeaders])
	if dnt := fields[FieldDNT]; dnt != "" {
		if headers == nil {
			headers = map[string]string{}
		}
		headers["DNT"] = dnt
	}
	job.Headers = headers

	if c := fields[FieldCookies]; c != "" {
		job.Cookies = []byte(c)
	}

	if v := strings.TrimSpace(fields[FieldViewport]); v != "" {
		var vp domain.Viewport
		if err := json.Unmarshal([]byte(v), &vp); err != nil {
			return nil, domain.Invalid("viewport is not valid JSON: %v", err)
		}
		if vp.Width <= 0 || vp.Height <= 0 {
			return nil, domain.Invalid("viewport must have a positive width and height, got %dx%d", vp.Width, vp.Height)
		}
		job.Viewport = &vp
	}
	return job, nil
}

// ParseListing applies the listing field on top of the configured default.
// A public default can only be restricted, a private one only permitted.
func ParseListing(fields map[string]string, defaultPublic bool) bool {
	v, ok := fields[FieldListing]
	v = strings.ToLower(strings.TrimSpace(v))
	if defaultPublic {
		return !(ok && (v == "false" || v == "0" || v == ""))
	}
	return ok && (v == "true" || v == "1")
}

// ParseHeaders reads free-text "Name: Value" lines. Lines without a colon or
// with an empty side are skipped.
func ParseHeaders(text string) map[string]string {
	if text == "" {
		return nil
	}
	out := map[string]string{}
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if name == "" || value == "" {
			continue
		}
		out[name] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// SubmitRequest rebuilds the backend payload from a stored job record, the
// way the producer would have sent it the first time.
func SubmitRequest(uuid string, fields map[string]string) backend.SubmitRequest {
	req := backend.SubmitRequest{
		UUID:                 uuid,
		URL:                  fields[FieldURL],
		DocumentName:         fields[FieldDocumentName],
		Browser:              fields[FieldBrowser],
		DeviceName:           fields[FieldDeviceName],
		UserAgent:            fields[FieldUserAgent],
		Proxy:                fields[FieldProxy],
		GeneralTimeoutInSec:  atoiDefault(fields[FieldGeneralTimeout], 0),
		Cookies:              fields[FieldCookies],
		Headers:              fields[FieldHeaders],
		Referer:              fields[FieldReferer],
		RenderedHostnameOnly: parseBoolDefault(fields[FieldRenderedHostnameOnly], true),
		Priority:             atoiDefault(fields[FieldPriority], 0),
	}
	if d := fields[FieldDocument]; d != "" {
		req.Document = []byte(d)
	}
	if v := fields[FieldViewport]; v != "" && json.Valid([]byte(v)) {
		req.Viewport = json.RawMessage(v)
	}
	if c := fields[FieldHTTPCredentials]; c != "" && json.Valid([]byte(c)) {
		req.HTTPCredentials = json.RawMessage(c)
	}
	return req
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

func parseBoolDefault(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return def
}
