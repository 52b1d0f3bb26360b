package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/report"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// GlobalTenantID is used for flag rules that apply to all tenants.
const GlobalTenantID = "*"

// scoreCacheTTL is how long computed scores stay cached.
const scoreCacheTTL = 15 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	flags    *rules.FlagEngine
	pipeline *pipeline.Pipeline
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, flags *rules.FlagEngine, p *pipeline.Pipeline, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		flags:    flags,
		pipeline: p,
		version:  version,
	}
}

// IngestRequest is the request body for POST /events.
type IngestRequest struct {
	Events []domain.Event `json:"events"`
}

// IngestResponse is the response for POST /events.
type IngestResponse struct {
	Ingested int    `json:"ingested"`
	TraceID  string `json:"traceId"`
}

// ingestNotification is published on the events-ingested topic.
type ingestNotification struct {
	TenantID   string `json:"tenantId"`
	EventCount int    `json:"eventCount"`
	TraceID    string `json:"traceId,omitempty"`
}

// IngestEvents handles POST /events requests.
func (h *Handler) IngestEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if len(req.Events) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "events must not be empty",
		})
		return
	}

	for i, ev := range req.Events {
		if ev.Account == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "event account is required",
			})
			return
		}
		if ev.Amount < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "event amount must not be negative",
			})
			return
		}
		if ev.Timestamp.IsZero() {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "event timestamp is required",
			})
			return
		}
		if !ev.Action.Known() {
			slog.Warn("ingesting event with unrecognized action",
				"tenant_id", tenantID,
				"action", string(ev.Action),
				"index", i,
			)
		}
	}

	if err := h.repo.SaveEvents(ctx, tenantID, req.Events); err != nil {
		slog.Error("failed to save events", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save events",
		})
		return
	}

	// Notify async workers that the ledger changed.
	if h.bus != nil {
		payload, _ := json.Marshal(ingestNotification{
			TenantID:   tenantID,
			EventCount: len(req.Events),
			TraceID:    traceID,
		})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicEventsIngested, payload); err != nil {
			slog.Error("failed to publish ingest notification", "tenant_id", tenantID, "error", err)
		}
	}

	writeJSON(w, http.StatusAccepted, IngestResponse{
		Ingested: len(req.Events),
		TraceID:  traceID,
	})
}

// ScoreResponse is the response for POST /score and GET /scores.
type ScoreResponse struct {
	Summary report.Summary        `json:"summary"`
	Results []*domain.ScoreResult `json:"results"`
	TraceID string                `json:"traceId,omitempty"`
}

// ScoreBatch handles POST /score: a synchronous full-batch run over the
// tenant's stored ledger.
func (h *Handler) ScoreBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	events, err := h.repo.ListEvents(ctx, tenantID, time.Time{})
	if err != nil {
		slog.Error("failed to load events", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load events",
		})
		return
	}

	results := h.pipeline.Run(ctx, events)

	for account, result := range results {
		if err := h.repo.SaveScoreResult(ctx, tenantID, result); err != nil {
			slog.Error("failed to save score result",
				"tenant_id", tenantID,
				"account", account,
				"error", err,
			)
		}
		if h.cache != nil {
			if err := h.cache.SetScore(ctx, tenantID, account, result, scoreCacheTTL); err != nil {
				slog.Warn("failed to cache score", "account", account, "error", err)
			}
		}
	}

	slog.Info("batch scored",
		"tenant_id", tenantID,
		"events", len(events),
		"scored", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	writeJSON(w, http.StatusOK, ScoreResponse{
		Summary: report.Summarize(results),
		Results: report.Rank(results),
		TraceID: traceID,
	})
}

// ListScores handles GET /scores: latest persisted score per account.
func (h *Handler) ListScores(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	results, err := h.repo.ListScoreResults(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list score results", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list scores",
		})
		return
	}

	byAccount := make(map[string]*domain.ScoreResult, len(results))
	for _, result := range results {
		byAccount[result.Account] = result
	}

	writeJSON(w, http.StatusOK, ScoreResponse{
		Summary: report.Summarize(byAccount),
		Results: report.Rank(byAccount),
	})
}

// GetScore handles GET /scores/{account}: cache first, then repository.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	account := chi.URLParam(r, "account")

	if account == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "account is required",
		})
		return
	}

	if h.cache != nil {
		cached, err := h.cache.GetScore(ctx, tenantID, account)
		if err != nil {
			slog.Warn("score cache lookup failed", "account", account, "error", err)
		}
		if cached != nil {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	result, err := h.repo.GetScoreResult(ctx, tenantID, account)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "score not found",
		})
		return
	}

	if h.cache != nil {
		_ = h.cache.SetScore(ctx, tenantID, account, result, scoreCacheTTL)
	}

	writeJSON(w, http.StatusOK, result)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListFlagRules returns all loaded flag rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via
// POST /flags/reload.
func (h *Handler) ListFlagRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.flags.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetFlagRule retrieves a flag rule by ID from the loaded engine rules.
func (h *Handler) GetFlagRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.flags.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "flag rule not found",
	})
}

// CreateFlagRuleRequest is the request body for creating a flag rule.
type CreateFlagRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Severity    string `json:"severity"`
	Enabled     bool   `json:"enabled"`
}

// CreateFlagRule creates a new flag rule and saves it to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /flags/reload to hot-reload into the engine.
func (h *Handler) CreateFlagRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateFlagRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	severity := req.Severity
	if severity == "" {
		severity = domain.SeverityInfo
	}
	switch severity {
	case domain.SeverityInfo, domain.SeverityWarn, domain.SeverityCritical:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "severity must be info, warn or critical",
		})
		return
	}

	rule := &domain.FlagRule{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Severity:    severity,
		Enabled:     req.Enabled,
	}

	// Validate CEL expression before persisting.
	if err := h.flags.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveFlagRule(ctx, GlobalTenantID, rule); err != nil {
			slog.Error("failed to save flag rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save flag rule",
			})
			return
		}
	}

	slog.Info("flag rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Flag rule created. Call POST /flags/reload to apply changes.",
	})
}

// DeleteFlagRule soft-deletes a flag rule and auto-reloads the engine.
func (h *Handler) DeleteFlagRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.DeleteFlagRule(ctx, GlobalTenantID, ruleID); err != nil {
			slog.Error("failed to delete flag rule", "id", ruleID, "error", err)
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "flag rule not found",
			})
			return
		}

		// Auto-reload the engine after delete
		dbRules, err := h.repo.ListFlagRules(ctx, GlobalTenantID)
		if err != nil {
			slog.Error("failed to reload flag rules after delete", "error", err)
		} else if err := h.flags.ReloadRules(dbRules); err != nil {
			slog.Error("failed to reload flag rules into engine", "error", err)
		} else {
			slog.Info("flag rules auto-reloaded after delete", "count", len(dbRules))
		}
	}

	slog.Info("flag rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Flag rule deleted and engine reloaded.",
	})
}

// ReloadFlagRules reloads all flag rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadFlagRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListFlagRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list flag rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load flag rules from database",
		})
		return
	}

	if err := h.flags.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload flag rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload flag rules: " + err.Error(),
		})
		return
	}

	slog.Info("flag rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "flag rules reloaded successfully",
		"count":   len(dbRules),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
