//go:build integration
// +build integration

package repository

import (
	"context"
	"testing"

	"github.com/kjstillabower/weather-station-service/internal/models"
	"github.com/kjstillabower/weather-station-service/internal/testhelpers"
)

// TestPostgres_SameResultsAsSQLite runs the repository against postgres with the
// shared seed. Requires TEST_POSTGRES_DSN.
func TestPostgres_SameResultsAsSQLite(t *testing.T) {
	cfg := testhelpers.GetIntegrationConfig(t)
	repo := NewRepository(testhelpers.SetupPostgres(t, cfg))
	ctx := context.Background()

	stations, err := repo.ListStations(ctx)
	if err != nil {
		t.Fatalf("ListStations() error = %v", err)
	}
	if len(stations) != 4 {
		t.Errorf("ListStations() = %d stations, want 4", len(stations))
	}

	has, err := repo.HasRecords(ctx, models.SeriesMin, "STN001")
	if err != nil || !has {
		t.Errorf("HasRecords(min, STN001) = %v, %v; want true, nil", has, err)
	}

	temps, err := repo.Temperatures(ctx, models.SeriesMax, "STX001", "202401", "202403")
	if err != nil {
		t.Fatalf("Temperatures() error = %v", err)
	}
	if len(temps) != 2 || temps[0].Date != "202401" {
		t.Errorf("Temperatures() = %+v, want 202401 and 202403", temps)
	}
}
