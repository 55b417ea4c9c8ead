// Package telemetry wires structured logging and metrics through
// OpenTelemetry with stdout exporters. The returned slog.Logger is the
// process-wide logging handle; telemetry failures never affect the data
// path.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const instrumentationName = "taskpulse"

// Setup configures the global logger and meter providers and returns the
// service logger plus a shutdown function that flushes both pipelines.
func Setup(ctx context.Context) (*slog.Logger, func(context.Context) error, error) {
	logExp, err := stdoutlog.New()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout log exporter: %w", err)
	}
	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
	)
	global.SetLoggerProvider(loggerProvider)

	metricExp, err := stdoutmetric.New()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout metric exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp,
			sdkmetric.WithInterval(time.Minute))),
	)
	otel.SetMeterProvider(meterProvider)

	shutdown := func(ctx context.Context) error {
		merr := meterProvider.Shutdown(ctx)
		if lerr := loggerProvider.Shutdown(ctx); lerr != nil {
			return lerr
		}
		return merr
	}
	return otelslog.NewLogger(instrumentationName,
		otelslog.WithLoggerProvider(loggerProvider)), shutdown, nil
}
