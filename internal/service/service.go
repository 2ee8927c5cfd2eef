package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/weather-station-service/internal/cache"
	"github.com/kjstillabower/weather-station-service/internal/chart"
	"github.com/kjstillabower/weather-station-service/internal/models"
	"github.com/kjstillabower/weather-station-service/internal/observability"
	"github.com/kjstillabower/weather-station-service/internal/repository"
	"github.com/kjstillabower/weather-station-service/internal/validation"
)

const (
	stationsKey = "stations"

	// defaultFanout bounds concurrent capability lookups while listing stations.
	defaultFanout = 8
)

// QueryService answers station and temperature queries using cache-aside over
// the repository. Results are immutable for the cache TTL.
type QueryService struct {
	repo   repository.StationRepository
	cache  cache.Cache
	ttl    time.Duration
	charts chart.Ensurer
	fanout int
}

// NewQueryService creates a QueryService. A nil cache disables result caching;
// a nil charts disables the legacy chart route.
func NewQueryService(repo repository.StationRepository, c cache.Cache, ttl time.Duration, charts chart.Ensurer) *QueryService {
	if c == nil {
		c = cache.NoopCache{}
	}
	return &QueryService{
		repo:   repo,
		cache:  c,
		ttl:    ttl,
		charts: charts,
		fanout: defaultFanout,
	}
}

// ListStations returns every station of both station tables with has_min and
// has_max derived from the temperature series. The result is never nil.
func (s *QueryService) ListStations(ctx context.Context) ([]models.Station, error) {
	var cached []models.Station
	if s.getCached(ctx, "stations", stationsKey, &cached) {
		return cached, nil
	}

	stations, err := s.repo.ListStations(ctx)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanout)
	for i := range stations {
		st := &stations[i]
		g.Go(func() error {
			hasMin, err := s.repo.HasRecords(gctx, models.SeriesMin, models.MinSeriesID(st.Num))
			if err != nil {
				return err
			}
			hasMax, err := s.repo.HasRecords(gctx, models.SeriesMax, st.Num)
			if err != nil {
				return err
			}
			st.HasMin, st.HasMax = hasMin, hasMax
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("station capabilities: %w", err)
	}
	if stations == nil {
		stations = []models.Station{}
	}

	s.setCached(ctx, stationsKey, stations)
	return stations, nil
}

// Temperatures returns the max series of station and the min series of its
// remapped id over the inclusive period range [start, end].
func (s *QueryService) Temperatures(ctx context.Context, station, start, end string) (models.Temperatures, error) {
	if !validation.Present(station, start, end) {
		return models.Temperatures{}, validation.Invalid(validation.ErrRequired, "station_id, start and end are required")
	}

	key := fmt.Sprintf("temps:%q:%q:%q", station, start, end)
	var out models.Temperatures
	if s.getCached(ctx, "temperatures", key, &out) {
		return out, nil
	}

	maxPoints, err := s.repo.Temperatures(ctx, models.SeriesMax, station, start, end)
	if err != nil {
		return models.Temperatures{}, err
	}
	minPoints, err := s.repo.Temperatures(ctx, models.SeriesMin, models.MinSeriesID(station), start, end)
	if err != nil {
		return models.Temperatures{}, err
	}
	out = models.Temperatures{Max: maxPoints, Min: minPoints}

	s.setCached(ctx, key, out)
	return out, nil
}

// HasMin reports whether station has any minimum-series row under its remapped id.
func (s *QueryService) HasMin(ctx context.Context, station string) (bool, error) {
	if !validation.Present(station) {
		return false, validation.Invalid(validation.ErrRequired, "station_id is required")
	}
	return s.repo.HasRecords(ctx, models.SeriesMin, models.MinSeriesID(station))
}

// LegacyTemperatureChart ensures the chart for station exists and returns its
// title and image URL.
func (s *QueryService) LegacyTemperatureChart(ctx context.Context, station string) (models.ChartRef, error) {
	switch err := validation.StationID(station); {
	case errors.Is(err, validation.ErrRequired):
		return models.ChartRef{}, validation.Invalid(err, "missing name")
	case err != nil:
		return models.ChartRef{}, validation.Invalid(err, "invalid station id")
	}
	if s.charts == nil {
		return models.ChartRef{}, fmt.Errorf("chart cache not configured")
	}
	if _, err := s.charts.Ensure(ctx, station); err != nil {
		return models.ChartRef{}, err
	}
	return models.ChartRef{
		Title: "Température  " + station,
		Img:   "/courbes/" + chart.FileName(station),
	}, nil
}

// getCached decodes the cached value for key into dst. Backend errors and
// undecodable entries count as misses.
func (s *QueryService) getCached(ctx context.Context, kind, key string, dst interface{}) bool {
	logger := observability.LoggerFromContext(ctx, nil)
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.QueryCacheErrorsTotal.WithLabelValues("get").Inc()
		logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		logger.Warn("cache entry undecodable", zap.String("key", key), zap.Error(err))
		return false
	}
	observability.QueryCacheHitsTotal.WithLabelValues(kind).Inc()
	logger.Debug("cache hit", zap.String("key", key))
	return true
}

func (s *QueryService) setCached(ctx context.Context, key string, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		observability.QueryCacheErrorsTotal.WithLabelValues("set").Inc()
		observability.LoggerFromContext(ctx, nil).Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}
