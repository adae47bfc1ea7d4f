package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osvaldoandrade/captureq/internal/backend"
	"github.com/osvaldoandrade/captureq/pkg/domain"
)

func TestSubmitSendsPayloadAndBearer(t *testing.T) {
	var got backend.SubmitRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/enqueue", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(got.UUID)
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL + "/api", AuthSecret: "s3cret"})
	require.NoError(t, err)

	accepted, err := c.Submit(context.Background(), backend.SubmitRequest{UUID: "u1", URL: "http://a.com", Priority: 2})
	require.NoError(t, err)
	assert.Equal(t, "u1", accepted)
	assert.Equal(t, "http://a.com", got.URL)
	assert.Equal(t, 2, got.Priority)

	require.True(t, strings.HasPrefix(auth, "Bearer "))
	tok, err := jwt.Parse(strings.TrimPrefix(auth, "Bearer "), func(*jwt.Token) (any, error) { return []byte("s3cret"), nil },
		jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	iss, _ := tok.Claims.GetIssuer()
	assert.Equal(t, "captureq", iss)
}

func TestSubmitFailureIsEnqueueLost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Submit(context.Background(), backend.SubmitRequest{UUID: "u1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEnqueueLost))
	assert.Contains(t, err.Error(), "503")
}

func TestStatusMapping(t *testing.T) {
	codes := map[string]string{"a": "-1", "b": "0", "c": "1", "d": "2", "e": "7"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/capture_status/")
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(codes[id]))
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL, RequestsPerSecond: 1000})
	require.NoError(t, err)
	want := map[string]domain.BackendStatus{
		"a": domain.BackendUnknown,
		"b": domain.BackendQueued,
		"c": domain.BackendDone,
		"d": domain.BackendInProgress,
		"e": domain.BackendUnknown,
	}
	for id, st := range want {
		got, err := c.Status(context.Background(), id)
		require.NoError(t, err, id)
		assert.Equal(t, st, got, id)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(Options{BaseURL: "not a url"})
	assert.Error(t, err)
}
