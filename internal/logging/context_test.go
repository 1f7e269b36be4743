package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGetLoggingFieldsFromContext(t *testing.T) {
	assert.Empty(t, GetLoggingFieldsFromContext(context.Background()))

	ctx := WithTraceID(context.Background(), "abc123")
	ctx = WithLoggingFields(ctx, "10.0.0.1", "")
	ctx = WithLoggingFields(ctx, "", "RTX-4090")

	fields := GetLoggingFieldsFromContext(ctx)
	assert.Equal(t, []zap.Field{
		zap.String("trace_id", "abc123"),
		zap.String("client_id", "10.0.0.1"),
		zap.String("sku", "RTX-4090"),
	}, fields)
}

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	ctx := WithLoggingFields(WithTraceID(context.Background(), "t-1"), "c-1", "A1")
	FromContext(ctx, nil).Info("scan started")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, map[string]interface{}{
			"trace_id":  "t-1",
			"client_id": "c-1",
			"sku":       "A1",
		}, entries[0].ContextMap())
	}
}

func TestFromContextKeepsBaseFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core).With(zap.String("vendor", "Scan"))

	FromContext(WithTraceID(context.Background(), "t-2"), base).Info("extraction completed")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, map[string]interface{}{
			"vendor":   "Scan",
			"trace_id": "t-2",
		}, entries[0].ContextMap())
	}
}
