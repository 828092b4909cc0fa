package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lei/ghe-policy-check/internal/policy"
	"github.com/lei/ghe-policy-check/internal/webhook"
)

// maxWebhookBody is GitHub's cap on webhook payloads
const maxWebhookBody = 25 << 20

// Handlers contains HTTP handler functions
type Handlers struct {
	service    *policy.Service
	dispatcher *webhook.Dispatcher
}

// NewHandlers creates a new handlers instance
func NewHandlers(svc *policy.Service, dispatcher *webhook.Dispatcher) *Handlers {
	return &Handlers{service: svc, dispatcher: dispatcher}
}

// Health handles health check requests
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Webhooks handles POST /webhooks
func (h *Handlers) Webhooks(w http.ResponseWriter, r *http.Request) {
	logger := GetLogger(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, r, badRequest("invalid request body"))
		return
	}

	// Nothing about an unsigned delivery is reported beyond the signature failure
	signature := r.Header.Get("X-Hub-Signature")
	if err := h.dispatcher.SecureRequest(signature, body); err != nil {
		if logger != nil {
			logger.Warn("rejected webhook", "error", err)
		}
		respondError(w, r, webhookError(err))
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	if event == "" {
		respondError(w, r, badRequest("missing X-GitHub-Event header"))
		return
	}

	var payload struct {
		Action string `json:"action"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			respondError(w, r, badRequest("invalid JSON payload"))
			return
		}
	}

	req := &webhook.Request{
		Event:      event,
		Action:     payload.Action,
		Signature:  signature,
		DeliveryID: r.Header.Get("X-GitHub-Delivery"),
		Body:       body,
	}

	if logger != nil {
		logger.Info("received webhook",
			"event", req.Event,
			"action", req.Action,
			"delivery_id", req.DeliveryID)
	}

	result, err := h.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		if logger != nil {
			logger.Error("webhook dispatch failed",
				"event", req.Event,
				"action", req.Action,
				"error", err,
				"error_type", fmt.Sprintf("%T", err))
		}
		respondError(w, r, webhookError(err))
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// RateLimit handles GET /v1/rate_limit
func (h *Handlers) RateLimit(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.RateLimit(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"rate_limit": status,
	})
}

// SyncRepo handles POST /v1/repos/{github_id}/sync
func (h *Handlers) SyncRepo(w http.ResponseWriter, r *http.Request) {
	logger := GetLogger(r.Context())

	githubID, err := strconv.ParseInt(chi.URLParam(r, "github_id"), 10, 64)
	if err != nil || githubID <= 0 {
		respondError(w, r, badRequest("github_id must be a positive integer"))
		return
	}

	if logger != nil {
		logger.Debug("syncing repo collaborators", "github_id", githubID)
	}

	repo, err := h.service.SyncRepo(r.Context(), githubID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if logger != nil {
		logger.Info("repo collaborators synced", "repo", repo.RepoName)
	}

	respondJSON(w, http.StatusOK, policy.Result{Status: "synced", Repo: repo.RepoName})
}

// handleServiceError maps service errors to HTTP responses with detailed logging
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := GetLogger(r.Context())

	if logger != nil {
		logger.Error("service error occurred",
			"error", err.Error(),
			"error_type", fmt.Sprintf("%T", err))
	}

	respondError(w, r, serviceError(err))
}
