package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/kjstillabower/weather-station-service/internal/db"
	"github.com/kjstillabower/weather-station-service/internal/models"
	"github.com/kjstillabower/weather-station-service/internal/observability"
)

//go:embed sql/list-stations.sql
var listStationsSQL string

//go:embed sql/has-series.sql
var hasSeriesSQL string

//go:embed sql/period-range.sql
var periodRangeSQL string

//go:embed sql/year-series.sql
var yearSeriesSQL string

// seriesTables maps a series to its table. Table names never come from input.
var seriesTables = map[models.Series]string{
	models.SeriesMax: "temp_max",
	models.SeriesMin: "temp_min",
}

// StationRepository reads station metadata and temperature series. The
// service never writes to these tables.
type StationRepository interface {
	ListStations(ctx context.Context) ([]models.Station, error)
	HasRecords(ctx context.Context, series models.Series, stationID string) (bool, error)
	Temperatures(ctx context.Context, series models.Series, stationID, start, end string) ([]models.TemperaturePoint, error)
	YearSeries(ctx context.Context, series models.Series, stationID string, year int) ([]models.TemperaturePoint, error)
}

type repositoryImpl struct {
	db      *db.DB
	queries map[string]string
}

// NewRepository prepares the query set for the handle's driver.
func NewRepository(d *db.DB) StationRepository {
	r := &repositoryImpl{db: d, queries: make(map[string]string)}
	r.queries["list_stations"] = d.Rebind(listStationsSQL)
	for series, table := range seriesTables {
		r.queries["has_"+string(series)] = d.Rebind(fmt.Sprintf(hasSeriesSQL, table))
		r.queries["range_"+string(series)] = d.Rebind(fmt.Sprintf(periodRangeSQL, table))
		r.queries["year_"+string(series)] = d.Rebind(fmt.Sprintf(yearSeriesSQL, table))
	}
	return r
}

func (r *repositoryImpl) query(name string) (string, error) {
	q, ok := r.queries[name]
	if !ok {
		return "", fmt.Errorf("unknown query %q", name)
	}
	return q, nil
}

func observeQuery(name string, start time.Time) {
	observability.DBQueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}

// ListStations returns the deduplicated union of both station tables.
func (r *repositoryImpl) ListStations(ctx context.Context) ([]models.Station, error) {
	defer observeQuery("list_stations", time.Now())

	rows, err := r.db.QueryContext(ctx, r.queries["list_stations"])
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	defer rows.Close()

	var out []models.Station
	for rows.Next() {
		var (
			s             models.Station
			nom           sql.NullString
			lat, lon, alt sql.NullFloat64
		)
		if err := rows.Scan(&s.Num, &nom, &lat, &lon, &alt); err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		s.Nom = stringPtr(nom)
		s.Lat = floatPtr(lat)
		s.Lon = floatPtr(lon)
		s.Alt = floatPtr(alt)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	return out, nil
}

// HasRecords reports whether the series table holds at least one row for stationID.
// The id is used as given; callers remap it for the minimum series.
func (r *repositoryImpl) HasRecords(ctx context.Context, series models.Series, stationID string) (bool, error) {
	name := "has_" + string(series)
	q, err := r.query(name)
	if err != nil {
		return false, err
	}
	defer observeQuery(name, time.Now())

	var one int
	err = r.db.QueryRowContext(ctx, q, stationID).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, fmt.Errorf("has %s records for %s: %w", series, stationID, err)
	}
	return true, nil
}

// Temperatures returns the non-null values of series for stationID with a
// period key in [start, end], ascending. Date carries the period key.
func (r *repositoryImpl) Temperatures(ctx context.Context, series models.Series, stationID, start, end string) ([]models.TemperaturePoint, error) {
	name := "range_" + string(series)
	q, err := r.query(name)
	if err != nil {
		return nil, err
	}
	defer observeQuery(name, time.Now())

	rows, err := r.db.QueryContext(ctx, q, stationID, start, end)
	if err != nil {
		return nil, fmt.Errorf("%s temperatures for %s: %w", series, stationID, err)
	}
	defer rows.Close()
	return scanPoints(rows)
}

// YearSeries returns the non-null values of series for stationID whose Date
// falls in year, ordered by Date.
func (r *repositoryImpl) YearSeries(ctx context.Context, series models.Series, stationID string, year int) ([]models.TemperaturePoint, error) {
	name := "year_" + string(series)
	q, err := r.query(name)
	if err != nil {
		return nil, err
	}
	defer observeQuery(name, time.Now())

	rows, err := r.db.QueryContext(ctx, q, stationID, strconv.Itoa(year))
	if err != nil {
		return nil, fmt.Errorf("%s series %d for %s: %w", series, year, stationID, err)
	}
	defer rows.Close()
	return scanPoints(rows)
}

// scanPoints reads (key, value) rows, dropping null values. The result is
// never nil so it encodes as [].
func scanPoints(rows *sql.Rows) ([]models.TemperaturePoint, error) {
	out := []models.TemperaturePoint{}
	for rows.Next() {
		var (
			key   string
			value sql.NullFloat64
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan temperature: %w", err)
		}
		if !value.Valid {
			continue
		}
		out = append(out, models.TemperaturePoint{Date: key, Value: value.Float64})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
