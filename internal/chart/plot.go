package chart

import (
	"fmt"
	"image/color"
	"io"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/kjstillabower/weather-station-service/internal/models"
)

var (
	maxColor = color.RGBA{R: 255, A: 255}
	minColor = color.RGBA{B: 255, A: 255}
)

// PlotRenderer draws the max and min series as date-ordered lines with gonum/plot.
type PlotRenderer struct {
	Width  vg.Length
	Height vg.Length
	Format string // any format accepted by plot.WriterTo
}

// NewPlotRenderer returns an 18x6 inch PNG renderer.
func NewPlotRenderer() *PlotRenderer {
	return &PlotRenderer{Width: 18 * vg.Inch, Height: 6 * vg.Inch, Format: "png"}
}

// Render implements Renderer.
func (r *PlotRenderer) Render(w io.Writer, data Data) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Températures min et max pour la station %s", data.Station)
	p.Title.TextStyle.Font.Size = vg.Points(16)
	p.X.Label.Text = "Date"
	p.Y.Label.Text = "Température (°C)"
	p.X.Tick.Marker = plot.TimeTicks{Format: "January 2006"}
	p.Legend.Top = true
	p.Legend.Left = true

	grid := plotter.NewGrid()
	grid.Vertical.Color = color.Gray{Y: 0x88}
	grid.Horizontal.Color = color.Gray{Y: 0x88}
	p.Add(grid)

	if err := addSeries(p, "Temp. Max", maxColor, data.Max); err != nil {
		return fmt.Errorf("max series: %w", err)
	}
	if err := addSeries(p, "Temp. Min", minColor, data.Min); err != nil {
		return fmt.Errorf("min series: %w", err)
	}

	wt, err := p.WriterTo(r.Width, r.Height, r.Format)
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// addSeries plots points as a line and always lists it in the legend, even
// when the series is empty for the year.
func addSeries(p *plot.Plot, label string, c color.Color, points []models.TemperaturePoint) error {
	xys, err := toXYs(points)
	if err != nil {
		return err
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return err
	}
	line.Color = c
	line.Width = vg.Points(1.5)
	if len(xys) > 0 {
		p.Add(line)
	}
	p.Legend.Add(label, line)
	return nil
}

// toXYs maps each point's YYYY-MM-DD date to unix seconds on X.
func toXYs(points []models.TemperaturePoint) (plotter.XYs, error) {
	xys := make(plotter.XYs, 0, len(points))
	for _, pt := range points {
		d := pt.Date
		if len(d) > len("2006-01-02") {
			d = d[:len("2006-01-02")]
		}
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", pt.Date, err)
		}
		xys = append(xys, plotter.XY{X: float64(t.Unix()), Y: pt.Value})
	}
	return xys, nil
}
