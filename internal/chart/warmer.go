package chart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/weather-station-service/internal/observability"
)

// Ensurer is implemented by Cache.
type Ensurer interface {
	Ensure(ctx context.Context, station string) (string, error)
}

// Warmer pre-renders charts for a list of stations.
type Warmer struct {
	charts      Ensurer
	logger      *zap.Logger
	concurrency int
}

// NewWarmer creates a Warmer that renders at most concurrency charts at once
// (unbounded when <= 0). logger may be nil.
func NewWarmer(charts Ensurer, logger *zap.Logger, concurrency int) *Warmer {
	return &Warmer{charts: charts, logger: logger, concurrency: concurrency}
}

// Warm ensures a chart exists for each station. Every station is attempted;
// failures are joined into the returned error.
func (w *Warmer) Warm(ctx context.Context, stations []string) error {
	start := time.Now()
	observability.ChartWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming charts", zap.Int("stations", len(stations)))
	}

	errs := make([]error, len(stations))
	var g errgroup.Group
	if w.concurrency > 0 {
		g.SetLimit(w.concurrency)
	}
	for i, station := range stations {
		i, station := i, station
		g.Go(func() error {
			if _, err := w.charts.Ensure(ctx, station); err != nil {
				errs[i] = fmt.Errorf("warm %s: %w", station, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	if w.logger != nil {
		w.logger.Info("chart warming complete",
			zap.Int("stations", len(stations)),
			zap.Bool("failed", err != nil),
			zap.Float64("duration_seconds", time.Since(start).Seconds()))
	}
	if err != nil {
		observability.ChartWarmingErrorsTotal.Inc()
		return fmt.Errorf("chart warming: %w", err)
	}
	return nil
}
