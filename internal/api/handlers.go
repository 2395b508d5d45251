package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/itsnoxius/mockgate/internal/configclient"
	"github.com/itsnoxius/mockgate/internal/hub"
	"github.com/itsnoxius/mockgate/internal/observe"
	"github.com/itsnoxius/mockgate/internal/registry"
	"github.com/itsnoxius/mockgate/internal/routing"
	"github.com/itsnoxius/mockgate/pkg/models"
)

// Prefix is where the admin API is mounted
const Prefix = "/_mockgate/api"

// LogStore is the local api log table, present only with the sqlite sink
type LogStore interface {
	ListLogs(ctx context.Context, domainID int64, limit int) ([]models.APILog, error)
	DeleteLogsByDomain(ctx context.Context, domainID int64) (int64, error)
}

// Deps are the collaborators the admin API reads from. Client, Logs, Hub and
// Pipeline are optional.
type Deps struct {
	Registry *registry.Registry
	Client   *configclient.Client
	Logs     LogStore
	Hub      *hub.Hub
	Pipeline *observe.Pipeline
	Logger   *zap.Logger
}

// Handlers contains HTTP handlers for the admin API
type Handlers struct {
	Deps
	authToken string
}

// NewHandlers creates a new handlers instance
func NewHandlers(deps Deps, apiKey string) *Handlers {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.Logger = deps.Logger.With(zap.String("component", "api"))
	return &Handlers{
		Deps:      deps,
		authToken: "Bearer " + apiKey,
	}
}

// Register mounts the admin routes under Prefix on router. When allowedDomain
// is non-empty the routes only answer for that host.
func (h *Handlers) Register(router *mux.Router, allowedDomain string) {
	apiRouter := router.PathPrefix(Prefix).Subrouter()
	if allowedDomain != "" {
		apiRouter.Use(DomainMiddleware(allowedDomain))
	}
	apiRouter.Use(h.AuthMiddleware)

	apiRouter.HandleFunc("/config", h.GetConfig).Methods(http.MethodGet)
	apiRouter.HandleFunc("/config/refresh", h.RefreshConfig).Methods(http.MethodPost)
	apiRouter.HandleFunc("/resolve", h.Resolve).Methods(http.MethodGet)
	apiRouter.HandleFunc("/mock-responses/path", h.MockResponsesByPath).Methods(http.MethodGet)
	apiRouter.HandleFunc("/mock-responses/batch", h.MockResponsesBatch).Methods(http.MethodPost)
	apiRouter.HandleFunc("/groups/{domainId}/{groupId}/state", h.GroupState).Methods(http.MethodGet)
	apiRouter.HandleFunc("/groups/{domainId}/{groupId}/toggle-plan", h.TogglePlan).Methods(http.MethodPost)
	apiRouter.HandleFunc("/logs/{domainId}", h.ListLogs).Methods(http.MethodGet)
	apiRouter.HandleFunc("/logs/{domainId}", h.DeleteLogs).Methods(http.MethodDelete)
}

// DomainMiddleware validates that requests come from the allowed domain
func DomainMiddleware(allowedDomain string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := r.Host
			// Strip port from host if present (e.g., "example.com:80" -> "example.com")
			domainName := host
			if idx := strings.LastIndex(host, ":"); idx != -1 {
				domainName = host[:idx]
			}

			if !strings.EqualFold(domainName, allowedDomain) {
				respondError(w, http.StatusForbidden, "admin API restricted to a specific domain")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware validates API key authentication
func (h *Handlers) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != h.authToken {
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Message: message})
}

// ConfigView is the body of GET /config
type ConfigView struct {
	Stats    registry.Stats         `json:"stats"`
	Domains  []models.MappingDomain `json:"domains"`
	Rooms    map[string]int         `json:"rooms,omitempty"`
	Pipeline *observe.Stats         `json:"pipeline,omitempty"`
}

// GetConfig handles GET /config
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	snap := h.Registry.Current()
	view := ConfigView{
		Stats:   h.Registry.Stats(),
		Domains: snap.Domains,
	}
	if view.Domains == nil {
		view.Domains = []models.MappingDomain{}
	}
	if h.Hub != nil {
		view.Rooms = h.Hub.Rooms()
	}
	if h.Pipeline != nil {
		st := h.Pipeline.Stats()
		view.Pipeline = &st
	}
	respondJSON(w, http.StatusOK, view)
}

// RefreshConfig handles POST /config/refresh
func (h *Handlers) RefreshConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.Registry.Refresh(r.Context()); err != nil {
		h.Logger.Warn("manual refresh failed", zap.Error(err))
		respondError(w, http.StatusBadGateway, "refresh failed: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.Registry.Stats())
}

// ResolveView is the body of GET /resolve
type ResolveView struct {
	Domain       models.MappingDomain `json:"domain"`
	RelativePath string               `json:"relative_path"`
	Decision     string               `json:"decision"`
	Mock         *models.MockResponse `json:"mock,omitempty"`
}

// Resolve handles GET /resolve?path=&method=, a dry run of routing
func (h *Handlers) Resolve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		respondError(w, http.StatusBadRequest, "missing required query parameter: path")
		return
	}
	method := strings.ToUpper(r.URL.Query().Get("method"))
	if method == "" {
		method = http.MethodGet
	}

	snap := h.Registry.Current()
	domain, ok := routing.Resolve(path, snap.Domains)
	if !ok {
		respondError(w, http.StatusNotFound, "no mapping domain matches path "+path)
		return
	}

	view := ResolveView{RelativePath: routing.RelativePath(domain, path)}
	decision := routing.Decide(domain, view.RelativePath, method, snap.Mocks(domain.ID))
	view.Domain = *domain
	// embedded records are served by the mock endpoints
	view.Domain.MockResponses = nil
	view.Domain.MockGroups = nil
	view.Decision = decision.Kind.String()
	view.Mock = decision.Mock

	respondJSON(w, http.StatusOK, view)
}

// MockResponsesByPath handles GET /mock-responses/path. The config service is
// asked when one is configured; otherwise the current snapshot answers.
func (h *Handlers) MockResponsesByPath(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	domainID, err := strconv.ParseInt(q.Get("domainId"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid domainId")
		return
	}
	path, method := q.Get("path"), q.Get("method")
	if path == "" || method == "" {
		respondError(w, http.StatusBadRequest, "missing required query parameters: path, method")
		return
	}
	includeAll, _ := strconv.ParseBool(q.Get("includeAllStates"))

	if h.Client != nil {
		mocks, err := h.Client.MockResponsesByPath(r.Context(), domainID, path, method, includeAll)
		if err != nil {
			h.respondUpstreamError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, nonNil(mocks))
		return
	}

	mocks := routing.Candidates(path, method, h.Registry.Current().Mocks(domainID), includeAll)
	respondJSON(w, http.StatusOK, nonNil(mocks))
}

// MockResponsesBatch handles POST /mock-responses/batch
func (h *Handlers) MockResponsesBatch(w http.ResponseWriter, r *http.Request) {
	var req models.MockBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.DomainID == 0 || len(req.Items) == 0 {
		respondError(w, http.StatusBadRequest, "missing required fields: domainId, items")
		return
	}

	if h.Client != nil {
		results, err := h.Client.MockResponsesBatch(r.Context(), req)
		if err != nil {
			h.respondUpstreamError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, results)
		return
	}

	mocks := h.Registry.Current().Mocks(req.DomainID)
	results := make([]models.MockBatchResult, 0, len(req.Items))
	for _, item := range req.Items {
		results = append(results, models.MockBatchResult{
			Path:          item.Path,
			Method:        strings.ToUpper(item.Method),
			MockResponses: nonNil(routing.Candidates(item.Path, item.Method, mocks, false)),
		})
	}
	respondJSON(w, http.StatusOK, results)
}

// GroupView is the body of the group endpoints
type GroupView struct {
	DomainID int64                 `json:"domain_id"`
	GroupID  int64                 `json:"group_id"`
	Name     string                `json:"name"`
	State    models.GroupState     `json:"state"`
	Changes  []routing.StateChange `json:"changes,omitempty"`
}

// GroupState handles GET /groups/{domainId}/{groupId}/state
func (h *Handlers) GroupState(w http.ResponseWriter, r *http.Request) {
	domainID, group, ok := h.lookupGroup(w, r)
	if !ok {
		return
	}
	mocks := h.Registry.Current().Mocks(domainID)
	respondJSON(w, http.StatusOK, GroupView{
		DomainID: domainID,
		GroupID:  group.ID,
		Name:     group.Name,
		State:    routing.GroupState(group, mocks),
	})
}

// TogglePlan handles POST /groups/{domainId}/{groupId}/toggle-plan with body
// {"state": "Active"|"InActive"} and returns the edits that would apply it.
func (h *Handlers) TogglePlan(w http.ResponseWriter, r *http.Request) {
	domainID, group, ok := h.lookupGroup(w, r)
	if !ok {
		return
	}

	var req struct {
		State models.GroupState `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.State != models.GroupActive && req.State != models.GroupInActive {
		respondError(w, http.StatusBadRequest, "state must be Active or InActive")
		return
	}

	mocks := h.Registry.Current().Mocks(domainID)
	respondJSON(w, http.StatusOK, GroupView{
		DomainID: domainID,
		GroupID:  group.ID,
		Name:     group.Name,
		State:    req.State,
		Changes:  routing.PlanToggle(group, mocks, req.State),
	})
}

func (h *Handlers) lookupGroup(w http.ResponseWriter, r *http.Request) (int64, models.MockGroup, bool) {
	vars := mux.Vars(r)
	domainID, err := strconv.ParseInt(vars["domainId"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid domainId")
		return 0, models.MockGroup{}, false
	}
	groupID, err := strconv.ParseInt(vars["groupId"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid groupId")
		return 0, models.MockGroup{}, false
	}

	group, ok := h.Registry.Current().Group(domainID, groupID)
	if !ok {
		respondError(w, http.StatusNotFound, "group not found")
		return 0, models.MockGroup{}, false
	}
	return domainID, group, true
}

// ListLogs handles GET /logs/{domainId}?limit=
func (h *Handlers) ListLogs(w http.ResponseWriter, r *http.Request) {
	domainID, ok := h.logDomain(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	logs, err := h.Logs.ListLogs(r.Context(), domainID, limit)
	if err != nil {
		h.Logger.Error("failed to list api logs", zap.Int64("domain_id", domainID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to retrieve logs")
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

// DeleteLogs handles DELETE /logs/{domainId}
func (h *Handlers) DeleteLogs(w http.ResponseWriter, r *http.Request) {
	domainID, ok := h.logDomain(w, r)
	if !ok {
		return
	}

	n, err := h.Logs.DeleteLogsByDomain(r.Context(), domainID)
	if err != nil {
		h.Logger.Error("failed to delete api logs", zap.Int64("domain_id", domainID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to delete logs")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (h *Handlers) logDomain(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if h.Logs == nil {
		respondError(w, http.StatusNotImplemented, "local log store is not enabled")
		return 0, false
	}
	domainID, err := strconv.ParseInt(mux.Vars(r)["domainId"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid domainId")
		return 0, false
	}
	return domainID, true
}

func (h *Handlers) respondUpstreamError(w http.ResponseWriter, err error) {
	h.Logger.Warn("config service lookup failed", zap.Error(err))

	var se *configclient.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	respondError(w, http.StatusBadGateway, "config service lookup failed: "+err.Error())
}

func nonNil(mocks []models.MockResponse) []models.MockResponse {
	if mocks == nil {
		return []models.MockResponse{}
	}
	return mocks
}
