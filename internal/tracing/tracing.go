/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package tracing wires an OTLP gRPC exporter, active only behind
// --enable-tracing, and gives the RPC dispatcher one span per method with
// the request's metadata map used as the trace carrier.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/containers/conmonrs/internal/rpc"

// Provider owns the process-wide tracer and exporter lifecycle.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// New dials endpoint over gRPC and installs a batch span processor. The
// caller must call Shutdown on exit to flush pending spans.
func New(ctx context.Context, endpoint string) (*Provider, error) {
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("tracing: build exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return &Provider{tp: tp, tracer: tp.Tracer(instrumentationName)}, nil
}

// Noop returns a Provider whose spans are discarded. cmd/conmonrs does not
// use it: without --enable-tracing it passes a nil *Provider, which the
// supervisor checks for.
func Noop() *Provider {
	tp := sdktrace.NewTracerProvider()
	return &Provider{tp: tp, tracer: tp.Tracer(instrumentationName)}
}

// StartRPCSpan opens a span named after op, extracting any trace context
// carried in meta (per spec §4.8's metadata map) as the parent.
func (p *Provider) StartRPCSpan(ctx context.Context, op string, meta map[string]string) (context.Context, trace.Span) {
	carrier := propagation.MapCarrier(meta)
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)
	ctx, span := p.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("conmonrs.op", op)))
	return ctx, span
}

// InjectMeta writes ctx's active span context into meta so a client-issued
// request (pkg/client) propagates its trace into the monitor.
func InjectMeta(ctx context.Context, meta map[string]string) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(meta))
}

// Shutdown flushes and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}
