package chart

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/weather-station-service/internal/models"
	"github.com/kjstillabower/weather-station-service/internal/repository"
	"github.com/kjstillabower/weather-station-service/internal/testhelpers"
	"github.com/kjstillabower/weather-station-service/internal/validation"
)

type fakeRenderer struct {
	mu    sync.Mutex
	calls []Data
	delay time.Duration
	err   error
}

func (f *fakeRenderer) Render(w io.Writer, data Data) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls = append(f.calls, data)
	f.mu.Unlock()
	if f.err != nil {
		_, _ = w.Write([]byte("partial"))
		return f.err
	}
	_, err := w.Write([]byte("PNG:" + data.Station))
	return err
}

func (f *fakeRenderer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type countingSource struct {
	SeriesSource
	calls atomic.Int32
}

func (s *countingSource) YearSeries(ctx context.Context, series models.Series, id string, year int) ([]models.TemperaturePoint, error) {
	s.calls.Add(1)
	return s.SeriesSource.YearSeries(ctx, series, id, year)
}

type failingSource struct{}

func (failingSource) YearSeries(context.Context, models.Series, string, int) ([]models.TemperaturePoint, error) {
	return nil, errors.New("db down")
}

func newTestCache(t *testing.T, renderer Renderer) (*Cache, *countingSource) {
	t.Helper()
	src := &countingSource{SeriesSource: repository.NewRepository(testhelpers.NewStationDB(t))}
	c := NewCache(filepath.Join(t.TempDir(), "courbes"), src, renderer, nil)
	c.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	return c, src
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "temperature_STX001.png", FileName("STX001"))
}

func TestEnsure_RendersOnMissWithRemappedMinSeries(t *testing.T) {
	r := &fakeRenderer{}
	c, _ := newTestCache(t, r)

	path, err := c.Ensure(context.Background(), "STX001")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.Dir(), "temperature_STX001.png"), path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "PNG:STX001", string(body))

	require.Equal(t, 1, r.count())
	data := r.calls[0]
	assert.Equal(t, 2024, data.Year)
	assert.Equal(t, "STX001", data.Station)
	// current year only, nulls dropped, ordered by date
	require.Len(t, data.Max, 3)
	assert.Equal(t, "2024-01-15", data.Max[0].Date)
	assert.Equal(t, "2024-04-15", data.Max[2].Date)
	// min rows come from STN001
	require.Len(t, data.Min, 2)
	assert.Equal(t, 1.5, data.Min[0].Value)
}

// TestEnsure_WrittenOnce verifies that once a chart exists later calls neither
// query the source nor render again.
func TestEnsure_WrittenOnce(t *testing.T) {
	r := &fakeRenderer{}
	c, src := newTestCache(t, r)
	ctx := context.Background()

	_, err := c.Ensure(ctx, "MTX002")
	require.NoError(t, err)
	queries := src.calls.Load()

	for i := 0; i < 3; i++ {
		_, err := c.Ensure(ctx, "MTX002")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, r.count())
	assert.Equal(t, queries, src.calls.Load())
}

func TestEnsure_ExistingFileIsNeverRegenerated(t *testing.T) {
	r := &fakeRenderer{}
	c, _ := newTestCache(t, r)
	require.NoError(t, os.MkdirAll(c.Dir(), 0o755))
	require.NoError(t, os.WriteFile(c.Path("STX001"), []byte("last year"), 0o644))

	path, err := c.Ensure(context.Background(), "STX001")
	require.NoError(t, err)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "last year", string(body))
	assert.Equal(t, 0, r.count())
}

func TestEnsure_ConcurrentMissesRenderOnce(t *testing.T) {
	r := &fakeRenderer{delay: 50 * time.Millisecond}
	c, _ := newTestCache(t, r)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Ensure(context.Background(), "STX001")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, r.count())
}

func TestEnsure_UnknownStationRendersEmptyChart(t *testing.T) {
	r := &fakeRenderer{}
	c, _ := newTestCache(t, r)

	_, err := c.Ensure(context.Background(), "ZZZ999")
	require.NoError(t, err)
	require.Equal(t, 1, r.count())
	assert.Empty(t, r.calls[0].Max)
	assert.Empty(t, r.calls[0].Min)
}

func TestEnsure_RenderFailureLeavesNoFile(t *testing.T) {
	r := &fakeRenderer{err: errors.New("boom")}
	c, _ := newTestCache(t, r)

	_, err := c.Ensure(context.Background(), "STX001")
	require.Error(t, err)

	entries, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "no final or temp file may remain after a failed render")
}

func TestEnsure_SourceFailure(t *testing.T) {
	r := &fakeRenderer{}
	c := NewCache(t.TempDir(), failingSource{}, r, nil)

	_, err := c.Ensure(context.Background(), "STX001")
	require.Error(t, err)
	assert.Equal(t, 0, r.count())
}

func TestEnsure_RejectsUnsafeStation(t *testing.T) {
	r := &fakeRenderer{}
	c, _ := newTestCache(t, r)

	for _, id := range []string{"", "../etc", "a/b", `a\b`} {
		_, err := c.Ensure(context.Background(), id)
		if id == "" {
			assert.ErrorIs(t, err, validation.ErrRequired, "id %q", id)
		} else {
			assert.ErrorIs(t, err, validation.ErrInvalidStationID, "id %q", id)
		}
	}
	assert.Equal(t, 0, r.count())
}

func TestEnsure_CancelledContextStillRenders(t *testing.T) {
	r := &fakeRenderer{}
	c, _ := newTestCache(t, r)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path, err := c.Ensure(ctx, "STX001")
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestPlotRenderer_WritesPNG(t *testing.T) {
	var buf bytes.Buffer
	err := NewPlotRenderer().Render(&buf, Data{
		Station: "STX001",
		Year:    2024,
		Max:     []models.TemperaturePoint{{Date: "2024-01-15", Value: 7.5}, {Date: "2024-03-15", Value: 14.5}},
		Min:     []models.TemperaturePoint{{Date: "2024-01-15", Value: 1.5}},
	})
	require.NoError(t, err)
	require.Greater(t, buf.Len(), 8)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\n"), buf.Bytes()[:8])
}

func TestPlotRenderer_EmptySeries(t *testing.T) {
	var buf bytes.Buffer
	err := NewPlotRenderer().Render(&buf, Data{Station: "ZZZ999", Year: 2024})
	require.NoError(t, err)
	assert.Greater(t, buf.Len(), 0)
}

func TestPlotRenderer_BadDate(t *testing.T) {
	var buf bytes.Buffer
	err := NewPlotRenderer().Render(&buf, Data{
		Station: "STX001",
		Max:     []models.TemperaturePoint{{Date: "15/01/2024", Value: 1}},
	})
	require.Error(t, err)
}
