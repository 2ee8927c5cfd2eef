package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-station-service/internal/observability"
)

// ChartURLPrefix is the URL path under which rendered charts are served.
const ChartURLPrefix = "/courbes/"

// RouterConfig holds the routing options that are not handler dependencies.
type RouterConfig struct {
	// StaticDir is the document root for any GET not matched by another route.
	StaticDir string
	// ChartDir holds rendered charts, served under ChartURLPrefix.
	ChartDir string
	// Limiter applies to the API and legacy routes. nil disables rate limiting.
	Limiter *rate.Limiter
	// RequestTimeout bounds API and legacy requests. Zero disables it.
	RequestTimeout time.Duration
}

// NewRouter builds the route table. Unmatched paths and methods answer 404,
// never 405. Paths are matched escaped and without cleaning so station ids
// can carry percent-encoded characters.
func NewRouter(h *Handler, logger *zap.Logger, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter().SkipClean(true).UseEncodedPath()
	router.NotFoundHandler = http.HandlerFunc(h.NotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(h.NotFound)
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	limits := []mux.MiddlewareFunc{
		RateLimitMiddleware(cfg.Limiter),
		TimeoutMiddleware(cfg.RequestTimeout),
	}

	router.HandleFunc("/api", h.NotFound)
	api := router.PathPrefix("/api").Subrouter()
	api.Use(limits...)
	handleLeaf(api, "/stations", h.ListStations, http.MethodGet)
	handleLeaf(api, "/temperatures", h.GetTemperatures, http.MethodGet)
	handleLeaf(api, "/has_min", h.GetHasMin, http.MethodGet)
	handleLeaf(api, "/forum", h.ListForum, http.MethodGet)
	// POST /api/forum/ has an empty action and falls through to 404.
	api.HandleFunc("/forum", h.CreateThread).Methods(http.MethodPost)
	handleLeaf(api, "/forum/{action}", h.PostForumAction, http.MethodPost)
	api.PathPrefix("/").HandlerFunc(h.NotFound)

	// Unprefixed routes kept for older clients.
	legacy := router.NewRoute().Subrouter()
	legacy.Use(limits...)
	handleLeaf(legacy, "/stations", h.ListStations, http.MethodGet)
	handleLeaf(legacy, "/temperature", h.LegacyTemperature, http.MethodGet)

	router.PathPrefix(ChartURLPrefix).
		Handler(http.StripPrefix(ChartURLPrefix, http.FileServer(http.Dir(cfg.ChartDir)))).
		Methods(http.MethodGet, http.MethodHead)
	router.PathPrefix("/").
		Handler(http.FileServer(http.Dir(cfg.StaticDir))).
		Methods(http.MethodGet, http.MethodHead)

	return router
}

// handleLeaf registers path and every path below it. Segments after the one
// a route dispatches on are ignored.
func handleLeaf(r *mux.Router, path string, f http.HandlerFunc, methods ...string) {
	r.HandleFunc(path, f).Methods(methods...)
	r.PathPrefix(path + "/").HandlerFunc(f).Methods(methods...)
}
