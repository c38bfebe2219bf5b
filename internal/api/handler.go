// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	custom_errors "github-jira-sync/internal/errors"
	"github-jira-sync/internal/github"
	"github-jira-sync/internal/model"
	"github-jira-sync/internal/subscription"
	"github-jira-sync/internal/syncer"
)

const maxWebhookBytes = 25 << 20

// Subscriptions is the subscription lifecycle, satisfied by *subscription.Service.
type Subscriptions interface {
	Install(ctx context.Context, installationID int64, jiraHost string, selectedRepositories []int64) (model.Subscription, error)
	Uninstall(ctx context.Context, installationID int64, jiraHost string) error
	Sync(ctx context.Context, installationID int64, jiraHost string, syncType subscription.SyncType) error
	SyncStatusCounts(ctx context.Context) (map[model.SyncStatus]int64, error)
	Stalled(ctx context.Context) ([]model.Subscription, error)
	ResyncFailed(ctx context.Context, limit int) (int, error)
	DevInfoExists(ctx context.Context, installationID int64, jiraHost string) (bool, error)
}

// Webhooks processes parsed GitHub deliveries, satisfied by *syncer.Syncer.
type Webhooks interface {
	HandleEvent(ctx context.Context, event *github.Event, webhookID string, deadline time.Time) (syncer.WebhookResult, error)
}

// Sites stores Jira Connect registrations and per-site usage, satisfied by *store.Store.
type Sites interface {
	SaveJiraInstallation(ctx context.Context, installation model.JiraInstallation) error
	ProjectKeyUsage(ctx context.Context, jiraHost string) ([]model.ProjectKeyUsage, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	subs           Subscriptions
	webhooks       Webhooks
	sites          Sites
	webhookTimeout time.Duration
	logger         *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(subs Subscriptions, webhooks Webhooks, sites Sites, webhookTimeout time.Duration, logger *slog.Logger) http.Handler {
	h := &Handler{
		subs:           subs,
		webhooks:       webhooks,
		sites:          sites,
		webhookTimeout: webhookTimeout,
		logger:         logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.healthCheck)
	r.Post("/github/events", h.githubEvent)
	r.Post("/jira/events/installed", h.jiraLifecycle(true))
	r.Post("/jira/events/uninstalled", h.jiraLifecycle(false))
	r.Route("/api", func(r chi.Router) {
		r.Post("/subscriptions", h.install)
		r.Delete("/subscriptions/{installationId}", h.uninstall)
		r.Get("/sync/counts", h.syncCounts)
		r.Get("/sync/stalled", h.stalled)
		r.Post("/sync/resync-failed", h.resyncFailed)
		r.Get("/project-keys", h.projectKeys)
		r.Post("/{installationId}/sync", h.sync)
		r.Get("/{installationId}/devinfo/exists", h.devInfoExists)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// githubEvent accepts a GitHub webhook delivery.
// POST /github/events
func (h *Handler) githubEvent(w http.ResponseWriter, r *http.Request) {
	eventType := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	logger := h.logger.With("event", eventType, "webhook_id", deliveryID)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	event, err := github.ParseEvent(eventType, payload)
	if err != nil {
		logger.Warn("Rejecting malformed webhook", "error", err)
		respondWithError(w, http.StatusBadRequest, "Malformed webhook payload")
		return
	}
	if event == nil {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	deadline := time.Now().Add(h.webhookTimeout)
	result, err := h.webhooks.HandleEvent(r.Context(), event, deliveryID, deadline)
	if err != nil {
		logger.Error("Failed to process webhook", "installation_id", event.InstallationID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if result.TimedOut {
		logger.Warn("Webhook timed out before reaching every subscription", "processed", result.Processed, "subscriptions", result.Subscriptions)
	}
	respondWithJSON(w, http.StatusOK, result)
}

type jiraLifecycleRequest struct {
	BaseURL      string `json:"baseUrl"`
	ClientKey    string `json:"clientKey"`
	SharedSecret string `json:"sharedSecret"`
}

// jiraLifecycle records a Jira site's Connect credentials. Uninstalled sites
// are kept but disabled so their clients stop resolving.
// POST /jira/events/installed, POST /jira/events/uninstalled
func (h *Handler) jiraLifecycle(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req jiraLifecycleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.BaseURL == "" || req.ClientKey == "" || (enabled && req.SharedSecret == "") {
			respondWithError(w, http.StatusBadRequest, "baseUrl, clientKey and sharedSecret are required")
			return
		}

		err := h.sites.SaveJiraInstallation(r.Context(), model.JiraInstallation{
			JiraHost:     strings.TrimSuffix(req.BaseURL, "/"),
			ClientKey:    req.ClientKey,
			SharedSecret: req.SharedSecret,
			Enabled:      enabled,
		})
		if err != nil {
			h.respondWithServiceError(w, "Failed to save jira installation", err)
			return
		}
		h.logger.Info("Jira site lifecycle event", "jira_host", req.BaseURL, "enabled", enabled)
		w.WriteHeader(http.StatusNoContent)
	}
}

type installRequest struct {
	InstallationID       int64   `json:"installationId"`
	JiraHost             string  `json:"jiraHost"`
	SelectedRepositories []int64 `json:"selectedRepositories,omitempty"`
}

// install links a GitHub installation to a Jira site and starts its sync.
// POST /api/subscriptions
func (h *Handler) install(w http.ResponseWriter, r *http.Request) {
	var req installRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.InstallationID <= 0 || req.JiraHost == "" {
		respondWithError(w, http.StatusBadRequest, "installationId and jiraHost are required")
		return
	}

	sub, err := h.subs.Install(r.Context(), req.InstallationID, req.JiraHost, req.SelectedRepositories)
	if err != nil {
		h.respondWithServiceError(w, "Failed to install subscription", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, toSubscriptionResponse(sub))
}

// uninstall removes a subscription and its Jira data.
// DELETE /api/subscriptions/{installationId}?jiraHost=
func (h *Handler) uninstall(w http.ResponseWriter, r *http.Request) {
	installationID, jiraHost, ok := subscriptionKey(w, r, r.URL.Query().Get("jiraHost"))
	if !ok {
		return
	}
	if err := h.subs.Uninstall(r.Context(), installationID, jiraHost); err != nil {
		h.respondWithServiceError(w, "Failed to uninstall subscription", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type syncRequest struct {
	JiraHost string `json:"jiraHost"`
	SyncType string `json:"syncType"`
}

// sync (re)starts a subscription's backfill.
// POST /api/{installationId}/sync
func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	installationID, jiraHost, ok := subscriptionKey(w, r, req.JiraHost)
	if !ok {
		return
	}
	syncType, err := subscription.ParseSyncType(req.SyncType)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid 'syncType'. Must be 'full' or 'partial'.")
		return
	}

	if err := h.subs.Sync(r.Context(), installationID, jiraHost, syncType); err != nil {
		h.respondWithServiceError(w, "Failed to start sync", err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "syncType": string(syncType)})
}

// syncCounts reports how many subscriptions are in each sync status.
// GET /api/sync/counts
func (h *Handler) syncCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.subs.SyncStatusCounts(r.Context())
	if err != nil {
		h.respondWithServiceError(w, "Failed to count subscriptions", err)
		return
	}
	respondWithJSON(w, http.StatusOK, counts)
}

// stalled lists ACTIVE subscriptions that stopped making progress.
// GET /api/sync/stalled
func (h *Handler) stalled(w http.ResponseWriter, r *http.Request) {
	subs, err := h.subs.Stalled(r.Context())
	if err != nil {
		h.respondWithServiceError(w, "Failed to list stalled subscriptions", err)
		return
	}
	out := make([]subscriptionResponse, len(subs))
	for i, sub := range subs {
		out[i] = toSubscriptionResponse(sub)
	}
	respondWithJSON(w, http.StatusOK, out)
}

// resyncFailed restarts the most recently failed subscriptions.
// POST /api/sync/resync-failed?limit=N
func (h *Handler) resyncFailed(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		limitStr = "10" // Default limit
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > 1000 {
		respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be an integer between 1 and 1000.")
		return
	}

	restarted, err := h.subs.ResyncFailed(r.Context(), limit)
	if err != nil && restarted == 0 {
		h.respondWithServiceError(w, "Failed to resync failed subscriptions", err)
		return
	}
	if err != nil {
		h.logger.Warn("Some failed subscriptions could not be restarted", "restarted", restarted, "error", err)
	}
	respondWithJSON(w, http.StatusAccepted, map[string]int{"restarted": restarted})
}

type projectKeyUsage struct {
	ProjectKey  string `json:"projectKey"`
	Occurrences int64  `json:"occurrences"`
}

// projectKeys reports how often each Jira project was referenced on a site.
// GET /api/project-keys?jiraHost=
func (h *Handler) projectKeys(w http.ResponseWriter, r *http.Request) {
	jiraHost := r.URL.Query().Get("jiraHost")
	if jiraHost == "" {
		respondWithError(w, http.StatusBadRequest, "jiraHost is required")
		return
	}
	usage, err := h.sites.ProjectKeyUsage(r.Context(), jiraHost)
	if err != nil {
		h.respondWithServiceError(w, "Failed to list project key usage", err)
		return
	}
	out := make([]projectKeyUsage, len(usage))
	for i, u := range usage {
		out[i] = projectKeyUsage{ProjectKey: u.ProjectKey, Occurrences: u.Occurrences}
	}
	respondWithJSON(w, http.StatusOK, out)
}

// devInfoExists asks Jira whether it holds data for the installation.
// GET /api/{installationId}/devinfo/exists?jiraHost=
func (h *Handler) devInfoExists(w http.ResponseWriter, r *http.Request) {
	installationID, jiraHost, ok := subscriptionKey(w, r, r.URL.Query().Get("jiraHost"))
	if !ok {
		return
	}
	exists, err := h.subs.DevInfoExists(r.Context(), installationID, jiraHost)
	if err != nil {
		h.respondWithServiceError(w, "Failed to query Jira", err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// subscriptionKey parses the installation id path parameter and checks the host.
// It writes a 400 response and returns false when either is invalid.
func subscriptionKey(w http.ResponseWriter, r *http.Request, jiraHost string) (int64, string, bool) {
	installationID, err := strconv.ParseInt(chi.URLParam(r, "installationId"), 10, 64)
	if err != nil || installationID <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid installation id")
		return 0, "", false
	}
	if jiraHost == "" {
		respondWithError(w, http.StatusBadRequest, "jiraHost is required")
		return 0, "", false
	}
	return installationID, jiraHost, true
}

func (h *Handler) respondWithServiceError(w http.ResponseWriter, msg string, err error) {
	var notFound *custom_errors.ErrSubscriptionNotFound
	if errors.As(err, &notFound) {
		respondWithError(w, http.StatusNotFound, "Subscription not found")
		return
	}
	var noSite *custom_errors.ErrInstallationNotFound
	if errors.As(err, &noSite) {
		respondWithError(w, http.StatusNotFound, "Jira site not installed")
		return
	}
	h.logger.Error(msg, "error", err)
	respondWithError(w, http.StatusInternalServerError, "Internal server error")
}
