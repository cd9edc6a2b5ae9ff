package livesync

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/beacon-gps/trackview/internal/livesync"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type metrics struct {
	polls    metric.Int64Counter
	failures metric.Int64Counter
	merged   metric.Int64Counter
	duration metric.Float64Histogram
}

// newMetrics uses the global OTel meter (no-op if not configured).
func newMetrics() (*metrics, error) {
	m := meter()
	out := &metrics{}

	var err error

	out.polls, err = m.Int64Counter(
		"livesync.polls",
		metric.WithDescription("Incremental polls completed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating polls counter: %w", err)
	}

	out.failures, err = m.Int64Counter(
		"livesync.poll.failures",
		metric.WithDescription("Polls and loads that failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failures counter: %w", err)
	}

	out.merged, err = m.Int64Counter(
		"livesync.points.merged",
		metric.WithDescription("Points appended to tracks"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating merged counter: %w", err)
	}

	out.duration, err = m.Float64Histogram(
		"livesync.poll.duration",
		metric.WithDescription("Fetch duration of polls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return out, nil
}
