package models

import "strings"

// Station is a weather station as exposed by the stations API.
// HasMin and HasMax are derived from the temperature series, not stored.
// Nom and the coordinates are nil when the source row has no value.
type Station struct {
	Num    string   `json:"num"`
	Nom    *string  `json:"nom"`
	Lat    *float64 `json:"lat"`
	Lon    *float64 `json:"lon"`
	Alt    *float64 `json:"alt"`
	HasMin bool     `json:"has_min"`
	HasMax bool     `json:"has_max"`
}

// TemperaturePoint is one non-null value of a temperature series.
type TemperaturePoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// Temperatures is the response body of the temperatures API.
type Temperatures struct {
	Max []TemperaturePoint `json:"max"`
	Min []TemperaturePoint `json:"min"`
}

// ChartRef is the legacy temperature route's response: a title and the
// root-relative URL of the rendered chart.
type ChartRef struct {
	Title string `json:"title"`
	Img   string `json:"img"`
}

// Series names one of the two temperature tables.
type Series string

const (
	SeriesMax Series = "max"
	SeriesMin Series = "min"
)

// minPrefixes maps a maximum-series station prefix to its minimum-series counterpart.
var minPrefixes = [...]struct{ max, min string }{
	{"MTX", "MTN"},
	{"STX", "STN"},
}

// MinSeriesID returns the station id under which the minimum series of
// stationID is stored. Only the prefix is substituted; ids matching no known
// prefix are returned unchanged.
func MinSeriesID(stationID string) string {
	for _, p := range minPrefixes {
		if strings.HasPrefix(stationID, p.max) {
			return p.min + stationID[len(p.max):]
		}
	}
	return stationID
}
