//go:build integration
// +build integration

package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-station-service/internal/forum"
	"github.com/kjstillabower/weather-station-service/internal/models"
	"github.com/kjstillabower/weather-station-service/internal/repository"
	"github.com/kjstillabower/weather-station-service/internal/service"
	"github.com/kjstillabower/weather-station-service/internal/testhelpers"
)

// setupIntegrationRouter wires the full stack against postgres and the
// configured cache backend.
func setupIntegrationRouter(t *testing.T) http.Handler {
	cfg := testhelpers.GetIntegrationConfig(t)
	database := testhelpers.SetupPostgres(t, cfg)
	c, cleanup := testhelpers.SetupCache(t, cfg)
	t.Cleanup(cleanup)

	staticDir := t.TempDir()
	charts := &fakeCharts{dir: filepath.Join(staticDir, "courbes")}
	queries := service.NewQueryService(repository.NewRepository(database), c, time.Minute, charts)
	store := forum.NewStore(filepath.Join(t.TempDir(), "forum.json"), nil)
	h := NewHandler(queries, store, &HealthConfig{DBPing: database.PingContext}, zap.NewNop())
	return NewRouter(h, zap.NewNop(), RouterConfig{StaticDir: staticDir, ChartDir: charts.dir})
}

func TestIntegration_StationsAndTemperatures(t *testing.T) {
	router := setupIntegrationRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stations", nil))
	var stations []models.Station
	if err := json.Unmarshal(w.Body.Bytes(), &stations); err != nil || len(stations) != 4 {
		t.Fatalf("stations = %d %s (err %v)", w.Code, w.Body.String(), err)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/temperatures?station_id=MTX002&start=202301&end=202412", nil))
	want := `{"max":[{"date":"202401","value":6}],"min":[]}`
	if got := strings.TrimSpace(w.Body.String()); got != want {
		t.Errorf("temperatures = %s, want %s", got, want)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health = %d %s", w.Code, w.Body.String())
	}
}

// TestIntegration_ConcurrentForumPosts verifies no post is lost when many
// clients create threads at once through the HTTP stack.
func TestIntegration_ConcurrentForumPosts(t *testing.T) {
	router := setupIntegrationRouter(t)

	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/api/forum", strings.NewReader("author=a&content=c"))
			req.Header.Set("Content-Type", formType)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != http.StatusOK {
				t.Errorf("create status = %d", w.Code)
			}
		}()
	}
	wg.Wait()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/forum", nil))
	var threads []models.Thread
	if err := json.Unmarshal(w.Body.Bytes(), &threads); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(threads) != n {
		t.Errorf("threads = %d, want %d", len(threads), n)
	}
	for i, th := range threads {
		if th.ID != i+1 {
			t.Errorf("thread %d id = %d, want %d", i, th.ID, i+1)
		}
	}
}
