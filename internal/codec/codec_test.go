package codec

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osvaldoandrade/captureq/pkg/domain"
)

func TestDecodeNoTarget(t *testing.T) {
	for _, fields := range []map[string]string{
		{},
		{"url": ""},
		{"document": "", "document_name": "x.html"},
		{"headers": "X-Test: 1", "listing": "true"},
	} {
		job, err := Decode("u1", fields, Options{DefaultPublic: true})
		require.Error(t, err)
		assert.Nil(t, job)
		assert.True(t, errors.Is(err, domain.ErrNoTarget))
		assert.True(t, errors.Is(err, domain.ErrValidation))
	}
}

func TestDecodeDocumentWinsOverURL(t *testing.T) {
	job, err := Decode("u1", map[string]string{
		"url":           "http://example.com",
		"document":      "<html></html>",
		"document_name": "../../etc/evil.html",
	}, Options{})
	require.NoError(t, err)
	assert.True(t, job.HasDocument())
	assert.Empty(t, job.URL)
	assert.Equal(t, "evil.html", job.DocumentName)
	assert.Equal(t, "evil.html", job.Target())
}

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]string
	}{
		{"empty", "", nil},
		{"single", "Accept-Language: fr", map[string]string{"Accept-Language": "fr"}},
		{"first colon only", "X-Url: http://a:80/b", map[string]string{"X-Url": "http://a:80/b"}},
		{"skips garbage", "no colon here\n: novalue\nX-Empty:\n\nX-Ok: 1", map[string]string{"X-Ok": "1"}},
		{"crlf", "A: 1\r\nB: 2\r\n", map[string]string{"A": "1", "B": "2"}},
		{"only garbage", "nothing\n:", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseHeaders(tt.in))
		})
	}
}

func TestDecodeDNTOverridesHeader(t *testing.T) {
	job, err := Decode("u1", map[string]string{
		"url":     "example.com",
		"headers": "DNT: 0\nX-A: b",
		"dnt":     "1",
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"DNT": "1", "X-A": "b"}, job.Headers)

	job, err = Decode("u2", map[string]string{"url": "example.com", "dnt": "1"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"DNT": "1"}, job.Headers)
}

func TestParseListing(t *testing.T) {
	tests := []struct {
		name          string
		fields        map[string]string
		defaultPublic bool
		want          bool
	}{
		{"public default, absent", map[string]string{}, true, true},
		{"public default, false", map[string]string{"listing": "False"}, true, false},
		{"public default, zero", map[string]string{"listing": "0"}, true, false},
		{"public default, empty", map[string]string{"listing": ""}, true, false},
		{"public default, junk", map[string]string{"listing": "nope"}, true, true},
		{"private default, absent", map[string]string{}, false, false},
		{"private default, TRUE", map[string]string{"listing": "TRUE"}, false, true},
		{"private default, one", map[string]string{"listing": "1"}, false, true},
		{"private default, junk", map[string]string{"listing": "yes"}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseListing(tt.fields, tt.defaultPublic))
		})
	}
}

func TestDecodeViewport(t *testing.T) {
	job, err := Decode("u1", map[string]string{"url": "a.com", "viewport": `{"width": 1024, "height": 768}`}, Options{})
	require.NoError(t, err)
	require.NotNil(t, job.Viewport)
	assert.Equal(t, domain.Viewport{Width: 1024, Height: 768}, *job.Viewport)

	_, err = Decode("u1", map[string]string{"url": "a.com", "viewport": `{width}`}, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = Decode("u1", map[string]string{"url": "a.com", "viewport": `{"width":0,"height":10}`}, Options{})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestDecodeRenderingHints(t *testing.T) {
	job, err := Decode("u1", map[string]string{
		"url":            "https://example.com",
		"user_agent":     "Mozilla/5.0",
		"referer":        "https://ref.example",
		"proxy":          "socks5://127.0.0.1:9050",
		"os":             "linux",
		"browser":        "firefox",
		"browser_engine": "Firefox",
		"device_name":    "iPhone 12",
		"parent":         "p1",
		"cookies":        `[{"name":"a","value":"b"}]`,
		"traceparent":    "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	}, Options{DefaultPublic: true})
	require.NoError(t, err)
	assert.Equal(t, domain.EngineFirefox, job.BrowserEngine)
	assert.Equal(t, "iPhone 12", job.DeviceName)
	assert.Equal(t, "p1", job.Parent)
	assert.Equal(t, `[{"name":"a","value":"b"}]`, string(job.Cookies))
	assert.True(t, job.Listing)
	assert.NotEmpty(t, job.TraceParent)
}

func TestSubmitRequest(t *testing.T) {
	req := SubmitRequest("u1", map[string]string{
		"url":                    "https://example.com",
		"priority":               "-3",
		"general_timeout_in_sec": "90",
		"viewport":               `{"width":1,"height":2}`,
		"http_credentials":       "not json",
		"headers":                "A: b",
		"not_queued":             "1",
	})
	assert.Equal(t, "u1", req.UUID)
	assert.Equal(t, -3, req.Priority)
	assert.Equal(t, 90, req.GeneralTimeoutInSec)
	assert.JSONEq(t, `{"width":1,"height":2}`, string(req.Viewport))
	assert.Nil(t, req.HTTPCredentials)
	assert.True(t, req.RenderedHostnameOnly)
	assert.Equal(t, "A: b", req.Headers)

	req = SubmitRequest("u2", map[string]string{"document": "x", "rendered_hostname_only": "0"})
	assert.Equal(t, []byte("x"), req.Document)
	assert.False(t, req.RenderedHostnameOnly)
	assert.Zero(t, req.Priority)
}
