package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/captureq/internal/codec"
	"github.com/osvaldoandrade/captureq/internal/middleware"
)

func TestEnqueueFieldsFromURL(t *testing.T) {
	f := enqueueFlags{url: "hxxp://example[.]com", priority: 3, notQueued: true, engine: "firefox"}
	fields, err := f.fields()
	if err != nil {
		t.Fatalf("fields: %v", err)
	}
	if fields[codec.FieldURL] != "hxxp://example[.]com" {
		t.Fatalf("url should be stored as typed, got %q", fields[codec.FieldURL])
	}
	if fields[codec.FieldPriority] != "3" || fields[codec.FieldNotQueued] != "1" || fields[codec.FieldBrowserEngine] != "firefox" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if _, ok := fields[codec.FieldListing]; ok {
		t.Fatalf("listing should be left to the server default")
	}
}

func TestEnqueueFieldsFromDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, []byte("<html></html>"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := enqueueFlags{document: path, url: "http://ignored.example", listing: false, listingSet: true}
	fields, err := f.fields()
	if err != nil {
		t.Fatalf("fields: %v", err)
	}
	if fields[codec.FieldDocument] != "<html></html>" || fields[codec.FieldDocumentName] != "page.html" {
		t.Fatalf("unexpected document fields %v", fields)
	}
	if _, ok := fields[codec.FieldURL]; ok {
		t.Fatalf("document wins over url")
	}
	if fields[codec.FieldListing] != "false" {
		t.Fatalf("expected explicit private listing, got %q", fields[codec.FieldListing])
	}
}

func TestEnqueueFieldsRequiresTarget(t *testing.T) {
	if _, err := (enqueueFlags{}).fields(); err == nil {
		t.Fatalf("expected error without url or document")
	}
}

type countingConsumer struct {
	left int
	err  error
}

func (c *countingConsumer) ProcessOne(context.Context) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	if c.left == 0 {
		return false, nil
	}
	c.left--
	return true, nil
}

func TestDrainQueueCountsUntilEmpty(t *testing.T) {
	ticks := 0
	n, err := drainQueue(context.Background(), &countingConsumer{left: 3}, func() { ticks++ })
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 3 || ticks != 3 {
		t.Fatalf("expected 3 processed and ticks, got %d/%d", n, ticks)
	}
}

func TestDrainQueueStopsOnStoreError(t *testing.T) {
	boom := errors.New("redis down")
	_, err := drainQueue(context.Background(), &countingConsumer{err: boom}, func() {})
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestDrainQueueHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := drainQueue(ctx, &countingConsumer{left: 5}, func() {})
	if n != 0 || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected immediate cancel, got %d %v", n, err)
	}
}

func TestMintedTokenPassesAdminCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", middleware.RequireAdmin("s3cret"), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c := &opsClient{baseURL: srv.URL, secret: "s3cret", httpClient: srv.Client()}
	status, _, err := c.request(http.MethodGet, "/admin", true)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if status != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", status)
	}

	c.secret = "wrong"
	status, _, _ = c.request(http.MethodGet, "/admin", true)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 with a foreign secret, got %d", status)
	}
}

func TestExplicitTokenWinsOverSecret(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	t.Cleanup(srv.Close)

	c := &opsClient{baseURL: srv.URL, token: "given", secret: "ignored", httpClient: srv.Client()}
	if _, _, err := c.request(http.MethodGet, "/", true); err != nil {
		t.Fatalf("request: %v", err)
	}
	if got != "Bearer given" {
		t.Fatalf("unexpected authorization %q", got)
	}
	if _, _, err := c.request(http.MethodGet, "/", false); err != nil {
		t.Fatalf("request: %v", err)
	}
	if got != "" {
		t.Fatalf("non-admin calls carry no token, got %q", got)
	}
}

func TestMintAdminTokenExpires(t *testing.T) {
	tok, err := mintAdminToken("s3cret", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if strings.Count(tok, ".") != 2 {
		t.Fatalf("expected a compact JWS, got %q", tok)
	}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", middleware.RequireAdmin("s3cret"), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expired token should be rejected, got %d", w.Code)
	}
}

func TestMaskToken(t *testing.T) {
	cases := map[string]string{
		"":                 "<unset>",
		"short":            "****",
		"0123456789abcdef": "0123...cdef",
	}
	for in, want := range cases {
		if got := maskToken(in); got != want {
			t.Fatalf("maskToken(%q) = %q, want %q", in, got, want)
		}
	}
}
