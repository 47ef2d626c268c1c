package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"mailcrypt-service/config"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"Warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLogLevel(in), "input %q", in)
	}
}

func TestNewLogger_AddsTraceFields(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{LogLevel: "INFO", OtelEnabled: true, GoogleCloudProject: "proj", OtelServiceName: "svc"}
	logger := NewLogger(&buf, cfg)

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.InfoContext(ctx, "hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "svc", entry["service"])
	assert.Equal(t, traceID.String(), entry["trace"])
	assert.Equal(t, spanID.String(), entry["spanId"])
	assert.Equal(t, true, entry["traceSampled"])
	assert.Equal(t, "projects/proj/traces/"+traceID.String(), entry["logging.googleapis.com/trace"])
}

func TestNewLogger_NoSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, &config.Config{LogLevel: "DEBUG", OtelEnabled: true})

	logger.DebugContext(context.Background(), "plain")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "trace")
	assert.Equal(t, "plain", entry["msg"])
}
