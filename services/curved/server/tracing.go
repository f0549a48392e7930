package server

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"launchpad/native/curve"
)

const instrumentationName = "launchpad/curved"

// engineTelemetry wraps engine calls in spans and counts committed volume
// on the OTLP meter alongside the prometheus collectors.
type engineTelemetry struct {
	tracer trace.Tracer
	volume metric.Int64Counter
	trades metric.Int64Counter
}

func newEngineTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) *engineTelemetry {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	volume, err := meter.Int64Counter("curved.trade.volume",
		metric.WithDescription("Input units of committed trades"))
	if err != nil {
		volume, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("curved.trade.volume")
	}
	trades, err := meter.Int64Counter("curved.trades",
		metric.WithDescription("Committed trades"))
	if err != nil {
		trades, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("curved.trades")
	}
	return &engineTelemetry{tracer: tp.Tracer(instrumentationName), volume: volume, trades: trades}
}

func (t *engineTelemetry) start(ctx context.Context, op string, asset common.Address) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "curve."+op, trace.WithAttributes(attribute.String("asset", asset.Hex())))
}

// finish closes span, marking it failed when err is set. Rejections carry
// their kind so traces can be filtered by rule.
func (t *engineTelemetry) finish(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.Bool("curve.rejected", curve.IsRejection(err)))
}

func (t *engineTelemetry) recordTrade(ctx context.Context, span trace.Span, result *curve.TradeResult) {
	attrs := []attribute.KeyValue{
		attribute.String("side", string(result.Side)),
		attribute.String("asset", result.Curve.Asset.Hex()),
	}
	span.SetAttributes(
		attribute.Int64("curve.nonce", int64(result.Curve.Nonce)),
		attribute.Bool("curve.graduated", result.Graduated),
	)
	t.trades.Add(ctx, 1, metric.WithAttributes(attrs...))
	if result.Input <= 1<<63-1 {
		t.volume.Add(ctx, int64(result.Input), metric.WithAttributes(attrs...))
	}
}
