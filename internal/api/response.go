// internal/api/response.go
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github-jira-sync/internal/model"
)

type subscriptionResponse struct {
	ID                   int64               `json:"id"`
	GitHubInstallationID int64               `json:"gitHubInstallationId"`
	JiraHost             string              `json:"jiraHost"`
	SyncStatus           model.SyncStatus    `json:"syncStatus"`
	SyncWarning          string              `json:"syncWarning,omitempty"`
	RepoSyncState        model.RepoSyncState `json:"repoSyncState"`
	SelectedRepositories []int64             `json:"selectedRepositories,omitempty"`
	CreatedAt            time.Time           `json:"createdAt"`
	UpdatedAt            time.Time           `json:"updatedAt"`
}

func toSubscriptionResponse(sub model.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:                   sub.ID,
		GitHubInstallationID: sub.GitHubInstallationID,
		JiraHost:             sub.JiraHost,
		SyncStatus:           sub.SyncStatus,
		SyncWarning:          sub.SyncWarning,
		RepoSyncState:        sub.RepoSyncState,
		SelectedRepositories: sub.SelectedRepositories,
		CreatedAt:            sub.CreatedAt,
		UpdatedAt:            sub.UpdatedAt,
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
