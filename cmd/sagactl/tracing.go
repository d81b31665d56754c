package main

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/fortressi/sagaflow/cmd/sagactl"

// newTracer returns a tracer that writes finished spans to w as JSON, or a
// no-op tracer when w is nil. The returned shutdown flushes pending spans.
func newTracer(w io.Writer) (trace.Tracer, func(context.Context) error, error) {
	if w == nil {
		return noop.NewTracerProvider().Tracer(tracerName), func(context.Context) error { return nil }, nil
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("create span exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	return tp.Tracer(tracerName), tp.Shutdown, nil
}
