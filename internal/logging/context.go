// internal/logging/context.go
package logging

import (
	"context"

	"go.uber.org/zap"

	"github.com/juancollazo-ch/sku-price-scanner/internal/contextkeys"
)

// GetLoggingFieldsFromContext extrae trace_id, client_id y sku del contexto
// y los devuelve como un slice de zap.Field.
func GetLoggingFieldsFromContext(ctx context.Context) []zap.Field {
	fields := []zap.Field{}
	if tid, ok := ctx.Value(contextkeys.TraceIDKey).(string); ok && tid != "" {
		fields = append(fields, zap.String("trace_id", tid))
	}
	if cid, ok := ctx.Value(contextkeys.ClientIDKey).(string); ok && cid != "" {
		fields = append(fields, zap.String("client_id", cid))
	}
	if sku, ok := ctx.Value(contextkeys.SKUKey).(string); ok && sku != "" {
		fields = append(fields, zap.String("sku", sku))
	}
	return fields
}

// WithTraceID añade el trace id al contexto si no está vacío.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, contextkeys.TraceIDKey, traceID)
}

// WithLoggingFields añade client_id y sku al contexto si están presentes.
func WithLoggingFields(ctx context.Context, clientID, sku string) context.Context {
	if clientID != "" {
		ctx = context.WithValue(ctx, contextkeys.ClientIDKey, clientID)
	}
	if sku != "" {
		ctx = context.WithValue(ctx, contextkeys.SKUKey, sku)
	}
	return ctx
}

// FromContext devuelve base (o el logger global si es nil) con los campos
// del contexto.
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = zap.L()
	}
	return base.With(GetLoggingFieldsFromContext(ctx)...)
}
