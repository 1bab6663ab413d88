// Package handlers exposes the evaluation and operations API. Evaluation is
// synchronous: the decision is computed and returned in the response, and any
// queued webhook notifications are dispatched on a detached goroutine after
// the response is written.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	apperrors "mail-router/internal/common/errors"
	"mail-router/internal/common/logging"
	"mail-router/internal/envelope"
	"mail-router/internal/notifier"
	"mail-router/internal/routing"
)

// HealthChecker reports one dependency's availability.
type HealthChecker func() error

type Handlers struct {
	engine   *routing.Engine
	provider routing.RuleSetProvider
	notifier *notifier.Notifier
	logger   logging.Logger
	checks   map[string]HealthChecker
}

func New(engine *routing.Engine, provider routing.RuleSetProvider, n *notifier.Notifier, logger logging.Logger, checks map[string]HealthChecker) *Handlers {
	return &Handlers{
		engine:   engine,
		provider: provider,
		notifier: n,
		logger:   logger,
		checks:   checks,
	}
}

// Router builds the API route table.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/evaluate", h.Evaluate).Methods("POST")
	r.HandleFunc("/api/evaluate/raw", h.EvaluateRaw).Methods("POST")
	r.HandleFunc("/api/rules", h.GetRules).Methods("GET")
	r.HandleFunc("/api/cache/flush", h.FlushCache).Methods("POST")
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	return r
}

// respondError maps the error taxonomy onto HTTP status codes and writes a
// JSON error body.
func (h *Handlers) respondError(w http.ResponseWriter, err *apperrors.AppError) {
	status := http.StatusInternalServerError
	switch err.Type {
	case apperrors.ErrTypeValidation:
		status = http.StatusBadRequest
	case apperrors.ErrTypeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrTypeUnavailable, apperrors.ErrTypeConnection:
		status = http.StatusServiceUnavailable
	case apperrors.ErrTypeTimeout:
		status = http.StatusGatewayTimeout
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(err)
}

// Evaluate runs a pre-parsed message context through the engine.
func (h *Handlers) Evaluate(w http.ResponseWriter, r *http.Request) {
	var msg routing.MessageContext
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		h.respondError(w, apperrors.ValidationError("invalid JSON body"))
		return
	}

	if msg.OrganizationID == "" || msg.DomainID == "" {
		h.respondError(w, apperrors.ValidationError("organizationId and domainId are required"))
		return
	}
	if msg.Direction != routing.DirectionInbound && msg.Direction != routing.DirectionOutbound {
		h.respondError(w, apperrors.ValidationError("direction must be inbound or outbound"))
		return
	}

	h.evaluate(w, r, &msg)
}

// EvaluateRaw parses a raw RFC 822 message from the request body and runs it
// through the engine. Scope comes from query parameters.
func (h *Handlers) EvaluateRaw(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organizationId")
	domainID := r.URL.Query().Get("domainId")
	dir := routing.Direction(r.URL.Query().Get("direction"))

	if orgID == "" || domainID == "" {
		h.respondError(w, apperrors.ValidationError("organizationId and domainId are required"))
		return
	}
	if dir != routing.DirectionInbound && dir != routing.DirectionOutbound {
		h.respondError(w, apperrors.ValidationError("direction must be inbound or outbound"))
		return
	}

	msg, err := envelope.FromRaw(r.Body, orgID, domainID, dir)
	if err != nil {
		h.respondError(w, apperrors.ValidationError("unparseable message").WithContext("cause", err.Error()))
		return
	}

	h.evaluate(w, r, msg)
}

func (h *Handlers) evaluate(w http.ResponseWriter, r *http.Request, msg *routing.MessageContext) {
	decision := h.engine.Evaluate(r.Context(), msg)

	if h.notifier != nil && len(decision.Webhooks) > 0 {
		// Detached from the request context: the caller should not be able
		// to cancel side effects by hanging up early.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			h.notifier.Dispatch(ctx, msg, decision)
		}()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(decision)
}

// GetRules returns the ordered, compiled-and-merged rule definitions the
// engine would evaluate for the given scope. Useful for debugging why a
// message routed the way it did.
func (h *Handlers) GetRules(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organizationId")
	domainID := r.URL.Query().Get("domainId")
	dir := routing.Direction(r.URL.Query().Get("direction"))
	if dir == "" {
		dir = routing.DirectionInbound
	}

	if orgID == "" || domainID == "" {
		h.respondError(w, apperrors.ValidationError("organizationId and domainId are required"))
		return
	}

	ruleSet, err := h.provider.Load(r.Context(), orgID, domainID, dir)
	if err != nil {
		h.respondError(w, apperrors.UnavailableError("rule set", err))
		return
	}

	rules := make([]*routing.Rule, 0, ruleSet.Len())
	for _, cr := range ruleSet.Merged(routing.MergeDomainFirst) {
		rules = append(rules, cr.Rule)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rules)
}

// FlushCache drops every cached rule snapshot. Operational escape hatch for
// when an edit has not propagated.
func (h *Handlers) FlushCache(w http.ResponseWriter, r *http.Request) {
	h.provider.Flush(r.Context())
	h.logger.Info("rule caches flushed via API")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "flushed"})
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	for name, check := range h.checks {
		if err := check(); err != nil {
			h.logger.Warn("health check failed",
				logging.String("dependency", name),
				logging.Err(err))
			h.respondError(w, apperrors.UnavailableError(name, err))
			return
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   "1.0.0",
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}
