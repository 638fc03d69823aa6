// Package server exposes the dispatch layer over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"stratumai/internal/catalog"
	"stratumai/internal/core"
	"stratumai/internal/dispatch"
	"stratumai/internal/resultcache"
	"stratumai/internal/retry"
	"stratumai/internal/selection"
	"stratumai/internal/tracelog"
)

// Dispatcher is the part of *dispatch.Dispatcher the handlers use.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *core.ChatRequest, opts dispatch.Options) (*dispatch.Result, error)
	Select(messages []core.Message, opts dispatch.Options) (selection.Result, error)
}

// CatalogReloader reloads the catalog from its configured source.
type CatalogReloader interface {
	Reload(ctx context.Context) (bool, error)
}

// Deps are what the handlers serve. Reloader, Cache, Traces and Circuits
// are optional; their endpoints answer 404 when unset.
type Deps struct {
	Dispatcher Dispatcher
	Catalog    *catalog.Store
	Reloader   CatalogReloader
	Cache      *resultcache.Cache
	Traces     tracelog.Recorder
	// Circuits reports each configured provider's breaker state.
	Circuits func() map[string]string
}

// Handler holds the HTTP handlers
type Handler struct {
	deps Deps
}

// NewHandler creates a new handler
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// chatCompletionRequest is an OpenAI-style request plus dispatch controls.
type chatCompletionRequest struct {
	core.ChatRequest
	Strategy    string                 `json:"strategy,omitempty"`
	Constraints *selection.Constraints `json:"constraints,omitempty"`
	Fallback    *retry.Fallback        `json:"fallback,omitempty"`
	NoCache     bool                   `json:"no_cache,omitempty"`
}

type dispatchInfo struct {
	Selection     *selection.Result `json:"selection,omitempty"`
	CacheHit      bool              `json:"cache_hit"`
	Attempts      int               `json:"attempts"`
	Outcome       string            `json:"outcome"`
	EstimatedCost float64           `json:"estimated_cost"`
	LatencyMs     int64             `json:"latency_ms"`
}

type chatCompletionResponse struct {
	*core.ChatResponse
	Dispatch dispatchInfo `json:"dispatch"`
}

// ChatCompletion handles POST /v1/chat/completions
func (h *Handler) ChatCompletion(c echo.Context) error {
	var req chatCompletionRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if req.Stream {
		return handleError(c, core.NewInvalidRequestError("streaming is not supported", nil))
	}
	opts, err := dispatchOptions(req.Strategy, req.Constraints)
	if err != nil {
		return handleError(c, err)
	}
	opts.Fallback = req.Fallback
	opts.NoCache = req.NoCache

	result, err := h.deps.Dispatcher.Dispatch(c.Request().Context(), &req.ChatRequest, opts)
	if err != nil {
		return handleError(c, err)
	}

	info := dispatchInfo{
		Selection:     result.Selection,
		CacheHit:      result.CacheHit,
		Attempts:      result.Trace.Attempts,
		Outcome:       string(result.Trace.Outcome),
		EstimatedCost: result.EstimatedCost,
		LatencyMs:     result.Latency.Milliseconds(),
	}
	if result.CacheHit {
		info.Outcome = dispatch.OutcomeCacheHit
		c.Response().Header().Set("X-Cache", "HIT")
	} else {
		c.Response().Header().Set("X-Cache", "MISS")
	}
	return c.JSON(http.StatusOK, chatCompletionResponse{ChatResponse: result.Response, Dispatch: info})
}

type selectRequest struct {
	Messages    []core.Message         `json:"messages"`
	Strategy    string                 `json:"strategy,omitempty"`
	Constraints *selection.Constraints `json:"constraints,omitempty"`
}

type backendRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type selectResponse struct {
	selection.Result
	Ranked []backendRef `json:"ranked"`
}

// Select handles POST /v1/select. It runs selection without executing.
func (h *Handler) Select(c echo.Context) error {
	var req selectRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	opts, err := dispatchOptions(req.Strategy, req.Constraints)
	if err != nil {
		return handleError(c, err)
	}

	result, err := h.deps.Dispatcher.Select(req.Messages, opts)
	if err != nil {
		return handleError(c, err)
	}
	ranked := make([]backendRef, len(result.Ranked))
	for i, k := range result.Ranked {
		ranked[i] = backendRef{Provider: k.Provider, Model: k.Model}
	}
	return c.JSON(http.StatusOK, selectResponse{Result: result, Ranked: ranked})
}

func dispatchOptions(strategy string, constraints *selection.Constraints) (dispatch.Options, error) {
	var opts dispatch.Options
	if strategy != "" {
		s, err := selection.ParseStrategy(strategy)
		if err != nil {
			return opts, core.NewInvalidRequestError(err.Error(), err)
		}
		opts.Strategy = s
	}
	if constraints != nil {
		opts.Constraints = *constraints
	}
	return opts, nil
}

type backendsResponse struct {
	Object      string                      `json:"object"`
	Source      string                      `json:"source"`
	Fingerprint string                      `json:"fingerprint"`
	LoadedAt    time.Time                   `json:"loaded_at"`
	Data        []catalog.BackendDescriptor `json:"data"`
}

// ListBackends handles GET /v1/backends
func (h *Handler) ListBackends(c echo.Context) error {
	snap := h.deps.Catalog.Snapshot()
	return c.JSON(http.StatusOK, backendsResponse{
		Object:      "list",
		Source:      snap.Source(),
		Fingerprint: snap.Fingerprint(),
		LoadedAt:    snap.LoadedAt(),
		Data:        snap.All(),
	})
}

// ReloadCatalog handles POST /v1/catalog/reload
func (h *Handler) ReloadCatalog(c echo.Context) error {
	if h.deps.Reloader == nil {
		return handleError(c, core.NewNotFoundError("catalog reload is not configured"))
	}
	changed, err := h.deps.Reloader.Reload(c.Request().Context())
	if err != nil {
		return handleError(c, core.NewProviderError("catalog", http.StatusBadGateway, err.Error(), err))
	}
	snap := h.deps.Catalog.Snapshot()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"changed":     changed,
		"source":      snap.Source(),
		"backends":    snap.Len(),
		"fingerprint": snap.Fingerprint(),
	})
}

// ListProviders handles GET /v1/providers
func (h *Handler) ListProviders(c echo.Context) error {
	states := map[string]string{}
	if h.deps.Circuits != nil {
		states = h.deps.Circuits()
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"circuits": states})
}

// CacheStats handles GET /v1/cache/stats
func (h *Handler) CacheStats(c echo.Context) error {
	if h.deps.Cache == nil {
		return handleError(c, core.NewNotFoundError("result cache is disabled"))
	}
	return c.JSON(http.StatusOK, h.deps.Cache.Stats())
}

// ClearCache handles DELETE /v1/cache
func (h *Handler) ClearCache(c echo.Context) error {
	if h.deps.Cache == nil {
		return handleError(c, core.NewNotFoundError("result cache is disabled"))
	}
	h.deps.Cache.Clear()
	return c.NoContent(http.StatusNoContent)
}

// RecentTraces handles GET /v1/traces?limit=N
func (h *Handler) RecentTraces(c echo.Context) error {
	if h.deps.Traces == nil {
		return handleError(c, core.NewNotFoundError("dispatch tracing is disabled"))
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return handleError(c, core.NewInvalidRequestError("limit must be a non-negative integer", err))
		}
		limit = n
	}
	entries, err := h.deps.Traces.Recent(c.Request().Context(), limit)
	if err != nil {
		return handleError(c, err)
	}
	if entries == nil {
		entries = []*tracelog.Entry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"object": "list", "data": entries})
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"backends": h.deps.Catalog.Snapshot().Len(),
	})
}

// statusClientClosedRequest is the nginx convention for a caller that went away.
const statusClientClosedRequest = 499

// handleError converts dispatch errors to HTTP responses
func handleError(c echo.Context, err error) error {
	var exhausted *core.RetriesExhaustedError
	if errors.As(err, &exhausted) {
		status := http.StatusBadGateway
		var last *core.GatewayError
		if errors.As(exhausted.Last, &last) {
			status = last.HTTPStatusCode()
		}
		return c.JSON(status, map[string]interface{}{
			"error": map[string]interface{}{
				"type":       "retries_exhausted_error",
				"message":    exhausted.Error(),
				"attempts":   exhausted.Attempts,
				"last_error": string(core.KindOf(exhausted.Last)),
			},
		})
	}

	var unsatisfiable *core.ConstraintUnsatisfiableError
	if errors.As(err, &unsatisfiable) {
		return c.JSON(unsatisfiable.HTTPStatusCode(), map[string]interface{}{
			"error": map[string]interface{}{
				"type":       "constraint_unsatisfiable_error",
				"message":    unsatisfiable.Error(),
				"violated":   unsatisfiable.Violated,
				"considered": unsatisfiable.Considered,
			},
		})
	}

	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusGatewayTimeout, errorBody("timeout_error", "request timed out"))
	case errors.Is(err, context.Canceled):
		return c.JSON(statusClientClosedRequest, errorBody("canceled_error", "request canceled"))
	}

	return c.JSON(http.StatusInternalServerError, errorBody("internal_error", "an unexpected error occurred"))
}

func errorBody(typ, message string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    typ,
			"message": message,
		},
	}
}
