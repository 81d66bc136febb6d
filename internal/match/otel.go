package match

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/ctfmode/extension/internal/match"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type metrics struct {
	flagActions metric.Int64Counter
	victories   metric.Int64Counter
}

// newMetrics uses the global OTel meter (no-op if not configured).
func newMetrics() (*metrics, error) {
	m := meter()
	var (
		out metrics
		err error
	)

	out.flagActions, err = m.Int64Counter(
		"ctf.flag.actions",
		metric.WithDescription("Flag transitions by flag team and action"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating flag action counter: %w", err)
	}

	out.victories, err = m.Int64Counter(
		"ctf.victories",
		metric.WithDescription("Rounds won on captures, by team"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating victory counter: %w", err)
	}
	return &out, nil
}
