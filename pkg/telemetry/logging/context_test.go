package logging

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	ctx = WithRequestID(ctx, "req-123")
	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID() = %q, want %q", got, "req-123")
	}

	ctx = WithSessionID(ctx, "sess-abc")
	if got := GetSessionID(ctx); got != "sess-abc" {
		t.Errorf("GetSessionID() = %q, want %q", got, "sess-abc")
	}

	ctx = WithClientIP(ctx, "198.51.100.4")
	if got := GetClientIP(ctx); got != "198.51.100.4" {
		t.Errorf("GetClientIP() = %q, want %q", got, "198.51.100.4")
	}

	ctx = WithOrigin(ctx, "shop.example.com")
	if got := GetOrigin(ctx); got != "shop.example.com" {
		t.Errorf("GetOrigin() = %q, want %q", got, "shop.example.com")
	}
}

func TestContextKeys_Missing(t *testing.T) {
	ctx := context.Background()
	if GetRequestID(ctx) != "" || GetSessionID(ctx) != "" || GetClientIP(ctx) != "" {
		t.Error("expected empty values on a bare context")
	}
}

func TestContextAttrs_TraceIDs(t *testing.T) {
	tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(WithRequestID(context.Background(), "r"), sc)

	got := map[string]string{}
	for _, a := range contextAttrs(ctx, func(string) bool { return false }) {
		got[a.Key] = a.Value.String()
	}

	if got["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace_id = %q", got["trace_id"])
	}
	if got["span_id"] != "00f067aa0ba902b7" {
		t.Errorf("span_id = %q", got["span_id"])
	}
	if got["request_id"] != "r" {
		t.Errorf("request_id = %q", got["request_id"])
	}
}
