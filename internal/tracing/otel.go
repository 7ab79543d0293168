package tracing

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	providerOnce sync.Once
	providerMu   sync.RWMutex
	provider     *sdktrace.TracerProvider
	providerErr  error
)

// InitOpenTelemetry initializes a process-wide OpenTelemetry tracer provider.
// It is safe to call multiple times.
func InitOpenTelemetry(serviceName string) error {
	providerOnce.Do(func() {
		res, err := resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
			),
		)
		if err != nil {
			providerErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1))),
			sdktrace.WithResource(res),
		)

		providerMu.Lock()
		provider = tp
		providerMu.Unlock()

		otel.SetTracerProvider(tp)
	})

	return providerErr
}

// ShutdownOpenTelemetry flushes and shuts down the global tracer provider.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.RLock()
	tp := provider
	providerMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span, tagging it with any turn identifiers already in
// the context.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	if org := GetOrganizationID(ctx); org != "" {
		attrs = append(attrs, attribute.String("organization_id", org))
	}
	if sid := GetSessionID(ctx); sid != "" {
		attrs = append(attrs, attribute.String("session_id", sid))
	}

	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// LoggerFromContext returns the fallback logger enriched with the turn
// identifiers carried by the context.
func LoggerFromContext(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	logCtx := fallback.With()

	if v := GetRequestID(ctx); v != "" {
		logCtx = logCtx.Str("request_id", v)
	}
	if v := GetOrganizationID(ctx); v != "" {
		logCtx = logCtx.Str("organization_id", v)
	}
	if v := GetAgentID(ctx); v != "" {
		logCtx = logCtx.Str("agent_id", v)
	}
	if v := GetConversationID(ctx); v != "" {
		logCtx = logCtx.Str("conversation_id", v)
	}
	if v := GetSessionID(ctx); v != "" {
		logCtx = logCtx.Str("session_id", v)
	}

	return logCtx.Logger()
}
