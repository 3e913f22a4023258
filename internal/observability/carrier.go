package observability

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
)

// HeaderCarrier adapts AMQP message headers to a TextMapCarrier. Only
// string values are read; other header types are ignored.
type HeaderCarrier map[string]any

var _ propagation.TextMapCarrier = HeaderCarrier(nil)

// Get returns the string value stored under key.
func (h HeaderCarrier) Get(key string) string {
	s, _ := h[key].(string)
	return s
}

// Set stores value under key.
func (h HeaderCarrier) Set(key, value string) { h[key] = value }

// Keys lists the header names.
func (h HeaderCarrier) Keys() []string {
	out := make([]string, 0, len(h))
	for k := range h {
		out = append(out, k)
	}
	return out
}

// InjectHeaders writes the span context of ctx into headers.
func InjectHeaders(ctx context.Context, headers map[string]any) {
	Propagator.Inject(ctx, HeaderCarrier(headers))
}

// ExtractHeaders returns ctx carrying the remote span context found in
// headers, if any.
func ExtractHeaders(ctx context.Context, headers map[string]any) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return Propagator.Extract(ctx, HeaderCarrier(headers))
}
