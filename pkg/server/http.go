// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	goerrors "errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jllopis/kairos-cascade/pkg/approval"
	"github.com/jllopis/kairos-cascade/pkg/cascade"
	"github.com/jllopis/kairos-cascade/pkg/health"
	"github.com/jllopis/kairos-cascade/pkg/telemetry"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

const maxBodyBytes = 1 << 20

// HTTPConfig wires the HTTP surface. Nil dependencies disable their routes.
type HTTPConfig struct {
	Orchestrator *cascade.Orchestrator
	Health       *health.Provider
	Approvals    approval.Store
	Logger       *slog.Logger
}

// NewHTTPHandler builds the HTTP API:
//
//	GET  /healthz
//	GET  /metrics
//	GET  /v1/breakers
//	POST /v1/breakers/reset
//	GET  /v1/functions
//	POST /v1/functions/{id}/run
//	GET  /v1/approvals
//	POST /v1/approvals/{id}/approve
//	POST /v1/approvals/{id}/reject
func NewHTTPHandler(cfg HTTPConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &httpHandler{cfg: cfg}
	mux := http.NewServeMux()

	if cfg.Health != nil {
		mux.HandleFunc("GET /healthz", h.handleHealth)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.Orchestrator != nil {
		registry.MustRegister(telemetry.NewBreakerCollector(cfg.Orchestrator.Breakers()))
		mux.HandleFunc("GET /v1/breakers", h.handleBreakers)
		mux.HandleFunc("POST /v1/breakers/reset", h.handleBreakerReset)
		mux.HandleFunc("GET /v1/functions", h.handleFunctions)
		mux.HandleFunc("POST /v1/functions/{id}/run", h.handleRun)
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	if cfg.Approvals != nil {
		mux.HandleFunc("GET /v1/approvals", h.handleApprovals)
		mux.HandleFunc("POST /v1/approvals/{id}/approve", h.handleDecision(approval.StatusApproved))
		mux.HandleFunc("POST /v1/approvals/{id}/reject", h.handleDecision(approval.StatusRejected))
	}
	return mux
}

type httpHandler struct {
	cfg HTTPConfig
}

func (h *httpHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	results, overall := h.cfg.Health.CheckAll(r.Context())
	code := http.StatusOK
	if overall == health.Unhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     overall,
		"components": results,
	})
}

func (h *httpHandler) handleBreakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"breakers": h.cfg.Orchestrator.Breakers().Snapshot()})
}

type resetRequest struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeBody(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid body", err.Error())
		return
	}
	breakers := h.cfg.Orchestrator.Breakers()
	if req.Name == "" {
		breakers.ResetAll()
	} else if !breakers.Reset(req.Name) {
		writeProblem(w, http.StatusNotFound, "unknown breaker", req.Name)
		return
	}
	h.cfg.Logger.Info("server.breaker.reset", slog.String("breaker", req.Name))
	writeJSON(w, http.StatusOK, map[string]any{"breakers": breakers.Snapshot()})
}

func (h *httpHandler) handleFunctions(w http.ResponseWriter, _ *http.Request) {
	defs := h.cfg.Orchestrator.Catalog().List()
	if defs == nil {
		defs = []cascade.FunctionDefinition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"functions": defs})
}

type runRequest struct {
	Payload json.RawMessage `json:"payload"`
	Tiers   []string        `json:"tiers,omitempty"`
	// Timeouts overrides per-tier deadlines, e.g. {"generative":"10s"}.
	Timeouts map[string]string `json:"timeouts,omitempty"`
}

func (h *httpHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeBody(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid body", err.Error())
		return
	}
	opts, err := runOptions(req)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid run options", err.Error())
		return
	}
	var payload any
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			writeProblem(w, http.StatusBadRequest, "invalid payload", err.Error())
			return
		}
	}

	result, err := h.cfg.Orchestrator.ExecuteFunction(r.Context(), r.PathValue("id"), payload, opts...)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid run options", err.Error())
		return
	}
	writeJSON(w, runStatus(result), result)
}

func runOptions(req runRequest) ([]cascade.ExecuteOption, error) {
	var opts []cascade.ExecuteOption
	if len(req.Tiers) > 0 {
		order, err := tier.ParseOrder(req.Tiers)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cascade.WithTierOrder(order...))
	}
	for name, value := range req.Timeouts {
		t, err := tier.Parse(name)
		if err != nil {
			return nil, err
		}
		d, err := cascade.ParseDuration(value)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cascade.WithTimeout(t, d))
	}
	return opts, nil
}

// runStatus picks the HTTP status for a finished run. Failures that never
// reached a tier report the status of their single error.
func runStatus(result *cascade.Result) int {
	if result.Succeeded {
		return http.StatusOK
	}
	if len(result.Attempts) == 1 && result.Attempts[0].Tier == tier.Cascade && result.Attempts[0].Error != nil {
		return result.Attempts[0].Error.HTTPStatus()
	}
	if result.Cancelled() {
		return 499
	}
	return http.StatusBadGateway
}

func (h *httpHandler) handleApprovals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := approval.Filter{
		RunID:      q.Get("run_id"),
		FunctionID: q.Get("function_id"),
		Status:     approval.Status(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeProblem(w, http.StatusBadRequest, "invalid status", string(filter.Status))
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeProblem(w, http.StatusBadRequest, "invalid limit", raw)
			return
		}
		filter.Limit = limit
	}
	list, err := h.cfg.Approvals.List(r.Context(), filter)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "list approvals", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": list})
}

type decisionRequest struct {
	Reason string          `json:"reason,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
}

func (h *httpHandler) handleDecision(status approval.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decisionRequest
		if err := decodeBody(r, &req); err != nil {
			writeProblem(w, http.StatusBadRequest, "invalid body", err.Error())
			return
		}
		id := r.PathValue("id")
		decision := approval.Decision{Status: status, Reason: req.Reason}
		if status == approval.StatusApproved {
			decision.Output = req.Output
		}
		record, err := h.cfg.Approvals.Decide(r.Context(), id, decision)
		switch {
		case goerrors.Is(err, approval.ErrNotFound):
			writeProblem(w, http.StatusNotFound, "approval not found", id)
			return
		case goerrors.Is(err, approval.ErrDecided):
			writeProblem(w, http.StatusConflict, "approval already decided", err.Error())
			return
		case err != nil:
			writeProblem(w, http.StatusInternalServerError, "decide approval", err.Error())
			return
		}
		h.cfg.Logger.Info("server.approval.decided",
			slog.String("approval_id", id),
			slog.String("status", string(status)),
		)
		writeJSON(w, http.StatusOK, record)
	}
}

// decodeBody decodes a JSON body; an empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !goerrors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, code int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "about:blank",
		"title":  title,
		"status": code,
		"detail": detail,
	})
}
