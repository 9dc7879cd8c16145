package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"
)

const tracerName = "fortress"

// Tracer wraps the OpenTelemetry tracer for hardening runs. A nil *Tracer is
// a valid no-op receiver.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a tracer from cfg. Returns nil when tracing is disabled.
func NewTracer(ctx context.Context, cfg TracingConfig, serviceVersion string) (*Tracer, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(tracerName),
		semconv.ServiceVersionKey.String(serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("creating trace resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "", "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	batcherOpts := []sdktrace.BatchSpanProcessorOption{}
	if cfg.ExportTimeout > 0 {
		batcherOpts = append(batcherOpts, sdktrace.WithExportTimeout(cfg.ExportTimeout))
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, batcherOpts...),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(tracerName),
	}, nil
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// HostSpan is the span covering one host's full hardening run.
type HostSpan struct {
	span trace.Span
}

// StartHostSpan opens a span for one host run.
func (t *Tracer) StartHostSpan(ctx context.Context, runID, host string) (context.Context, HostSpan) {
	if t == nil {
		return ctx, HostSpan{}
	}
	ctx, span := t.tracer.Start(ctx, "harden_host",
		trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.String("host", host),
		),
	)
	return ctx, HostSpan{span: span}
}

// PhaseSpan is the child span covering one phase within a host run.
type PhaseSpan struct {
	span trace.Span
}

// StartPhaseSpan opens a child span for one phase. The parent host span is
// picked up from ctx.
func (t *Tracer) StartPhaseSpan(ctx context.Context, phase string) (context.Context, PhaseSpan) {
	if t == nil {
		return ctx, PhaseSpan{}
	}
	ctx, span := t.tracer.Start(ctx, "phase",
		trace.WithAttributes(attribute.String("phase", phase)),
	)
	return ctx, PhaseSpan{span: span}
}

// End closes the span with the phase outcome.
func (s PhaseSpan) End(halted bool) {
	if s.span == nil {
		return
	}
	if halted {
		s.span.SetStatus(codes.Error, "halted")
	} else {
		s.span.SetStatus(codes.Ok, "completed")
	}
	s.span.End()
}

// End closes the span with the run outcome.
func (s HostSpan) End(completed bool) {
	if s.span == nil {
		return
	}
	if completed {
		s.span.SetStatus(codes.Ok, "hardened")
	} else {
		s.span.SetStatus(codes.Error, "halted")
	}
	s.span.End()
}
