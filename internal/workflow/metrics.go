package workflow

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/modflowai/mfai-query/internal/workflow"

var (
	runCounter      metric.Int64Counter
	runDuration     metric.Float64Histogram
	stageDuration   metric.Float64Histogram
	stageRetries    metric.Int64Counter
	degradedCounter metric.Int64Counter
	abortedCounter  metric.Int64Counter
)

func init() {
	initMetrics()
}

// initMetrics initializes OpenTelemetry instruments for the workflow.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	runCounter, err = meter.Int64Counter(
		"mfai_query.workflow.runs",
		metric.WithDescription("Total number of workflow runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create run counter: %v", err))
	}

	runDuration, err = meter.Float64Histogram(
		"mfai_query.workflow.run.duration",
		metric.WithDescription("Duration of workflow runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create run duration histogram: %v", err))
	}

	stageDuration, err = meter.Float64Histogram(
		"mfai_query.workflow.stage.duration",
		metric.WithDescription("Duration of individual stage executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create stage duration histogram: %v", err))
	}

	stageRetries, err = meter.Int64Counter(
		"mfai_query.workflow.stage.retries",
		metric.WithDescription("Number of stage retry attempts"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create stage retry counter: %v", err))
	}

	degradedCounter, err = meter.Int64Counter(
		"mfai_query.workflow.runs.degraded",
		metric.WithDescription("Number of runs completed on at least one stage fallback"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create degraded counter: %v", err))
	}

	abortedCounter, err = meter.Int64Counter(
		"mfai_query.workflow.runs.aborted",
		metric.WithDescription("Number of runs aborted before completion"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create aborted counter: %v", err))
	}
}

func recordRun(ctx context.Context, result *Result) {
	attrs := metric.WithAttributes(
		attribute.Bool("success", result.Success),
		attribute.Bool("degraded", result.Degraded),
	)
	runCounter.Add(ctx, 1, attrs)
	runDuration.Record(ctx, result.Duration.Seconds(), attrs)
	if result.Degraded {
		degradedCounter.Add(ctx, 1)
	}
	if !result.Success {
		abortedCounter.Add(ctx, 1)
	}
}

func recordStage(ctx context.Context, stage string, duration time.Duration, success bool) {
	stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.Bool("success", success),
	))
}

func recordRetry(ctx context.Context, stage string) {
	stageRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}
