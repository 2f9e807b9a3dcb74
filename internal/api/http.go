// Package api exposes the fortune service over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/dailyfortune/internal/aggregate"
	"github.com/kalambet/dailyfortune/internal/content"
	"github.com/kalambet/dailyfortune/internal/daily"
	"github.com/kalambet/dailyfortune/internal/fortune"
	"github.com/kalambet/dailyfortune/internal/storage"
	"github.com/kalambet/dailyfortune/internal/store"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Fortunes is the subset of *daily.Service used by the API layer.
type Fortunes interface {
	Today() fortune.DayKey
	Query(ctx context.Context, id daily.Identity, day fortune.DayKey) (daily.Result, error)
	Lookup(day fortune.DayKey, userID string) (storage.FortuneRecord, error)
	Leaderboard(day fortune.DayKey, scope string) aggregate.Board
	History(userID string, limit int) aggregate.PersonalView
	Initialize(ctx context.Context, userID string, day fortune.DayKey) (bool, error)
	DeleteHistory(ctx context.Context, userID string, day fortune.DayKey) (int, error)
	ResetAll(ctx context.Context) error
}

// HealthChecker pings content backends. *content.Pipeline implements it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) []content.BackendStatus
}

type Deps struct {
	Service Fortunes
	Health  HealthChecker // optional
	Metrics http.Handler  // optional; mounted at /metrics without auth
	Gate    *ScopeGate
	Token   string
	TopN    int
}

// NewHandler returns the HTTP API. Everything except /health and /metrics
// requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.TopN <= 0 {
		deps.TopN = aggregate.DefaultTopN
	}
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/health/backends", handleBackends(deps))
		r.Post("/v1/query", handleQuery(deps))
		r.Get("/v1/fortunes/{day}/{user}", handleLookup(deps))
		r.Get("/v1/leaderboard", handleLeaderboard(deps))
		r.Get("/v1/users/{user}/history", handleHistory(deps))
		r.Post("/v1/users/{user}/initialize", handleInitialize(deps))
		r.Delete("/v1/users/{user}/history", handleDeleteHistory(deps))
		r.Post("/v1/reset", handleReset(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleBackends(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses := []content.BackendStatus{}
		if deps.Health != nil {
			statuses = append(statuses, deps.Health.HealthCheck(r.Context())...)
		}
		writeJSON(w, http.StatusOK, statuses)
	}
}

// QueryRequest identifies the caller of POST /v1/query. Day defaults to today.
type QueryRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	ScopeID     string `json:"scope_id"`
	Day         string `json:"day"`
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}
		if !deps.Gate.Allowed(req.ScopeID) {
			httpError(w, http.StatusForbidden, "permission_error", "scope %q is not enabled", req.ScopeID)
			return
		}
		day, ok := resolveDay(w, deps.Service, req.Day)
		if !ok {
			return
		}

		res, err := deps.Service.Query(r.Context(), daily.Identity{
			UserID:      req.UserID,
			DisplayName: req.DisplayName,
			ScopeID:     req.ScopeID,
		}, day)
		if err != nil {
			serviceError(w, "query", err)
			return
		}

		code := http.StatusOK
		if res.State == daily.StateInFlight {
			code = http.StatusAccepted
		}
		writeJSON(w, code, res)
	}
}

func handleLookup(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, ok := resolveDay(w, deps.Service, chi.URLParam(r, "day"))
		if !ok {
			return
		}
		rec, err := deps.Service.Lookup(day, chi.URLParam(r, "user"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no fortune for that user on %s", day)
			return
		}
		if err != nil {
			serviceError(w, "lookup", err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleLeaderboard(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := r.URL.Query().Get("scope")
		if !deps.Gate.Allowed(scope) {
			httpError(w, http.StatusForbidden, "permission_error", "scope %q is not enabled", scope)
			return
		}
		day, ok := resolveDay(w, deps.Service, r.URL.Query().Get("day"))
		if !ok {
			return
		}
		board := deps.Service.Leaderboard(day, scope)
		board.Entries = board.Top(parseIntParam(r, "limit", deps.TopN, 0))
		if board.Entries == nil {
			board.Entries = []aggregate.Entry{}
		}
		writeJSON(w, http.StatusOK, board)
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view := deps.Service.History(chi.URLParam(r, "user"), parseIntParam(r, "limit", 0, 0))
		if view.Entries == nil {
			view.Entries = []store.DayEntry{}
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleInitialize(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := deps.Service.Initialize(r.Context(), chi.URLParam(r, "user"), deps.Service.Today())
		if err != nil {
			serviceError(w, "initialize", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
	}
}

func handleDeleteHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Service.DeleteHistory(r.Context(), chi.URLParam(r, "user"), deps.Service.Today())
		if err != nil {
			serviceError(w, "delete history", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
	}
}

func handleReset(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if confirm, _ := strconv.ParseBool(r.URL.Query().Get("confirm")); !confirm {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reset deletes every fortune; repeat with confirm=true")
			return
		}
		if err := deps.Service.ResetAll(r.Context()); err != nil {
			serviceError(w, "reset", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}

// resolveDay maps "" and "today" to the current day and validates anything
// else. It writes the error response itself.
func resolveDay(w http.ResponseWriter, svc Fortunes, raw string) (fortune.DayKey, bool) {
	if raw == "" || raw == "today" {
		return svc.Today(), true
	}
	day, err := fortune.ParseDayKey(raw)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return "", false
	}
	return day, true
}

func serviceError(w http.ResponseWriter, op string, err error) {
	slog.Error("request failed", "op", op, "error", err)
	code := http.StatusInternalServerError
	if errors.Is(err, store.ErrStorage) {
		code = http.StatusServiceUnavailable
	}
	httpError(w, code, "api_error", "%s failed: %v", op, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
