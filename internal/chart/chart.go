package chart

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/weather-station-service/internal/models"
	"github.com/kjstillabower/weather-station-service/internal/observability"
	"github.com/kjstillabower/weather-station-service/internal/validation"
)

// FileName returns the image file name for station, relative to the chart directory.
func FileName(station string) string {
	return "temperature_" + station + ".png"
}

// SeriesSource supplies one calendar year of a station's temperature series.
type SeriesSource interface {
	YearSeries(ctx context.Context, series models.Series, stationID string, year int) ([]models.TemperaturePoint, error)
}

// Data is everything a Renderer needs for one image.
type Data struct {
	Station string
	Year    int
	Max     []models.TemperaturePoint
	Min     []models.TemperaturePoint
}

// Renderer encodes a chart image for data into w.
type Renderer interface {
	Render(w io.Writer, data Data) error
}

// Cache renders station charts on first request and keeps them on disk. An
// existing file is never regenerated, so a chart keeps showing the year it was
// rendered in until the file is removed.
type Cache struct {
	dir      string
	source   SeriesSource
	renderer Renderer
	logger   *zap.Logger
	now      func() time.Time
	group    singleflight.Group
}

// NewCache returns a Cache writing into dir. logger may be nil.
func NewCache(dir string, source SeriesSource, renderer Renderer, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		dir:      dir,
		source:   source,
		renderer: renderer,
		logger:   logger,
		now:      time.Now,
	}
}

// Dir returns the directory charts are written to.
func (c *Cache) Dir() string {
	return c.dir
}

// Path returns the deterministic file path for station.
func (c *Cache) Path(station string) string {
	return filepath.Join(c.dir, FileName(station))
}

// Ensure makes sure the chart for station exists and returns its path.
// Concurrent misses for one station share a single render. A render runs to
// completion even if the requesting context is cancelled.
func (c *Cache) Ensure(ctx context.Context, station string) (string, error) {
	if err := validation.StationID(station); err != nil {
		return "", err
	}
	path := c.Path(station)
	if exists(path) {
		observability.ChartCacheHitsTotal.Inc()
		return path, nil
	}

	renderCtx := context.WithoutCancel(ctx)
	_, err, shared := c.group.Do(station, func() (interface{}, error) {
		// A flight that finished just before this one started may have written it.
		if exists(path) {
			return nil, nil
		}
		return nil, c.render(renderCtx, station, path)
	})
	if shared {
		observability.LoggerFromContext(ctx, c.logger).Debug("chart render shared", zap.String("station", station))
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

func (c *Cache) render(ctx context.Context, station, path string) (err error) {
	start := time.Now()
	logger := observability.LoggerFromContext(ctx, c.logger)
	defer func() {
		observability.ChartRenderDuration.Observe(time.Since(start).Seconds())
		result := "success"
		if err != nil {
			result = "error"
		}
		observability.ChartRendersTotal.WithLabelValues(result).Inc()
	}()

	year := c.now().Year()
	maxPoints, err := c.source.YearSeries(ctx, models.SeriesMax, station, year)
	if err != nil {
		return fmt.Errorf("chart %s: %w", station, err)
	}
	minPoints, err := c.source.YearSeries(ctx, models.SeriesMin, models.MinSeriesID(station), year)
	if err != nil {
		return fmt.Errorf("chart %s: %w", station, err)
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("chart dir: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, ".temperature_*.tmp")
	if err != nil {
		return fmt.Errorf("chart temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	data := Data{Station: station, Year: year, Max: maxPoints, Min: minPoints}
	if err := c.renderer.Render(tmp, data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("render chart %s: %w", station, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close chart %s: %w", station, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod chart %s: %w", station, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("install chart %s: %w", station, err)
	}

	logger.Info("chart rendered",
		zap.String("station", station),
		zap.Int("year", year),
		zap.Int("max_points", len(maxPoints)),
		zap.Int("min_points", len(minPoints)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
