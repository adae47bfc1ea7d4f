package tracing

import (
	"context"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

const parent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{}, nil)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestContextWithRemoteParent(t *testing.T) {
	ctx := ContextWithRemoteParent(context.Background(), parent, "vendor=1")
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsRemote() || sc.TraceID().String() != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("unexpected span context %+v", sc)
	}
	if sc.TraceState().Get("vendor") != "1" {
		t.Fatalf("tracestate lost: %v", sc.TraceState())
	}

	plain := context.Background()
	if got := ContextWithRemoteParent(plain, " ", "vendor=1"); got != plain {
		t.Fatalf("empty traceparent should return ctx unchanged")
	}
}

func TestInjectHeadersRoundTrip(t *testing.T) {
	ctx := ContextWithRemoteParent(context.Background(), parent, "")
	h := http.Header{}
	InjectHeaders(ctx, h)
	if h.Get("traceparent") != parent {
		t.Fatalf("traceparent = %q", h.Get("traceparent"))
	}
	InjectHeaders(ctx, nil)
}

func TestSanitizeEndpoint(t *testing.T) {
	tests := map[string]string{
		"http://collector:4317":   "collector:4317",
		"https://collector:4317/": "collector:4317",
		"collector:4317/":         "collector:4317",
		" localhost:4317 ":        "localhost:4317",
	}
	for in, want := range tests {
		if got := sanitizeEndpoint(in); got != want {
			t.Errorf("sanitizeEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}
