package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-station-service/internal/forum"
	"github.com/kjstillabower/weather-station-service/internal/lifecycle"
	"github.com/kjstillabower/weather-station-service/internal/observability"
	"github.com/kjstillabower/weather-station-service/internal/service"
	"github.com/kjstillabower/weather-station-service/internal/validation"
)

// HealthConfig holds the dependency checks reported by the health handler.
type HealthConfig struct {
	// DBPing checks the station database. Required.
	DBPing func(ctx context.Context) error
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	queries          *service.QueryService
	forum            *forum.Store
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	queries *service.QueryService,
	forumStore *forum.Store,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		queries:      queries,
		forum:        forumStore,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

type okResponse struct {
	OK bool `json:"ok"`
}

type createResponse struct {
	OK bool `json:"ok"`
	ID int  `json:"id"`
}

type hasMinResponse struct {
	HasMin bool `json:"has_min"`
}

// ListStations handles GET /api/stations and the legacy GET /stations.
func (h *Handler) ListStations(w http.ResponseWriter, r *http.Request) {
	stations, err := h.queries.ListStations(r.Context())
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stations)
}

// GetTemperatures handles GET /api/temperatures?station_id=&start=&end=.
func (h *Handler) GetTemperatures(w http.ResponseWriter, r *http.Request) {
	p, ok := h.params(w, r)
	if !ok {
		return
	}
	temps, err := h.queries.Temperatures(r.Context(), p.Value("station_id"), p.Value("start"), p.Value("end"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, temps)
}

// GetHasMin handles GET /api/has_min?station_id=.
func (h *Handler) GetHasMin(w http.ResponseWriter, r *http.Request) {
	p, ok := h.params(w, r)
	if !ok {
		return
	}
	hasMin, err := h.queries.HasMin(r.Context(), p.Value("station_id"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hasMinResponse{HasMin: hasMin})
}

// LegacyTemperature handles GET /temperature/<station>. The station is the
// second path segment; anything after it is ignored.
func (h *Handler) LegacyTemperature(w http.ResponseWriter, r *http.Request) {
	station := ""
	if segs := pathSegments(r.URL.EscapedPath()); len(segs) > 1 {
		station = segs[1]
	}
	ref, err := h.queries.LegacyTemperatureChart(r.Context(), station)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

// ListForum handles GET /api/forum.
func (h *Handler) ListForum(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.forum.Read(r.Context()))
}

// CreateThread handles POST /api/forum with author and content.
func (h *Handler) CreateThread(w http.ResponseWriter, r *http.Request) {
	p, ok := h.params(w, r)
	if !ok {
		return
	}
	id, err := h.forum.Create(r.Context(), p.Value("author"), p.Value("content"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createResponse{OK: true, ID: id})
}

// PostForumAction handles POST /api/forum/{action} for reply, delete and edit.
func (h *Handler) PostForumAction(w http.ResponseWriter, r *http.Request) {
	var handle func(context.Context, Params) error
	switch mux.Vars(r)["action"] {
	case "reply":
		handle = h.reply
	case "delete":
		handle = h.delete
	case "edit":
		handle = h.edit
	default:
		h.NotFound(w, r)
		return
	}
	p, ok := h.params(w, r)
	if !ok {
		return
	}
	if err := handle(r.Context(), p); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) reply(ctx context.Context, p Params) error {
	id, err := threadID(p)
	if err != nil {
		return err
	}
	return h.forum.Reply(ctx, id, p.Value("author"), p.Value("content"))
}

func (h *Handler) delete(ctx context.Context, p Params) error {
	id, err := threadID(p)
	if err != nil {
		return err
	}
	idx, err := replyIndex(p)
	if err != nil {
		return err
	}
	return h.forum.Delete(ctx, id, p.Value("author"), idx)
}

func (h *Handler) edit(ctx context.Context, p Params) error {
	id, err := threadID(p)
	if err != nil {
		return err
	}
	idx, err := replyIndex(p)
	if err != nil {
		return err
	}
	return h.forum.Edit(ctx, id, p.Value("author"), p.Value("content"), idx)
}

// threadID reads the required integer id parameter.
func threadID(p Params) (int, error) {
	id, err := validation.ParseInt(p.Value("id"))
	if err != nil {
		return 0, validation.Invalid(err, "id required")
	}
	return id, nil
}

// replyIndex reads the optional reply_idx parameter. nil means the operation
// targets the thread itself.
func replyIndex(p Params) (*int, error) {
	raw, ok := p.Get("reply_idx")
	if !ok {
		return nil, nil
	}
	idx, err := validation.ParseInt(raw)
	if err != nil {
		return nil, validation.Invalid(err, "reply_idx must be int")
	}
	return &idx, nil
}

// NotFound answers unmatched routes, unknown forum actions and unmatched methods.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "NOT_FOUND", "not found")
}

// params parses request parameters, writing a 400 when the body is malformed.
func (h *Handler) params(w http.ResponseWriter, r *http.Request) (Params, bool) {
	p, err := parseParams(r)
	if err != nil {
		h.writeAppError(w, r, err)
		return Params{}, false
	}
	return p, true
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "weather-station-service",
		"version":   "dev",
		"checks":    result.checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > database unreachable > healthy. The cache is reported but
// never fails the check, since query caching is best effort.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	checks := make(map[string]string)
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		checks["cache"] = checkStatus(h.healthConfig.CachePing())
	}
	if lifecycle.Draining() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", checks}
	}
	if h.healthConfig == nil || h.healthConfig.DBPing == nil {
		return healthResult{"healthy", http.StatusOK, "", checks}
	}
	dbErr := h.healthConfig.DBPing(ctx)
	checks["database"] = checkStatus(dbErr)
	if dbErr != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "database_unreachable", checks}
	}
	return healthResult{"healthy", http.StatusOK, "", checks}
}

func checkStatus(err error) string {
	if err != nil {
		return "unhealthy"
	}
	return "healthy"
}

// header is one response header line.
type header struct {
	name, value string
}

// send writes a 200 response with the given headers and an explicit Content-Length.
func send(w http.ResponseWriter, body []byte, headers ...header) {
	writeBody(w, http.StatusOK, body, headers...)
}

func writeBody(w http.ResponseWriter, status int, body []byte, headers ...header) {
	for _, hd := range headers {
		w.Header().Set(hd.name, hd.value)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeJSON writes v as JSON with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		status = http.StatusInternalServerError
		buf.Reset()
		buf.WriteString(`{"error":{"code":"INTERNAL","message":"response encoding failed"}}`)
	}
	jsonHeader := header{"Content-Type", "application/json"}
	if status == http.StatusOK {
		send(w, buf.Bytes(), jsonHeader)
		return
	}
	writeBody(w, status, buf.Bytes(), jsonHeader)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeAppError maps a service, store or parameter error to its HTTP response.
// Unclassified errors are logged and reported as 500 without detail.
func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", verr.Msg)
	case errors.Is(err, forum.ErrThreadNotFound), errors.Is(err, forum.ErrReplyNotFound):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, forum.ErrAuthorMismatch):
		writeError(w, r, http.StatusForbidden, "AUTHOR_MISMATCH", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		observability.LoggerFromContext(r.Context(), h.logger).Warn("request timed out", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "TIMEOUT", "request timed out")
	default:
		observability.LoggerFromContext(r.Context(), h.logger).Error("request failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}
