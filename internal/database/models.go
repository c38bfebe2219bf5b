// internal/database/models.go
package database

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type Subscription struct {
	ID                   int64              `json:"id"`
	GithubInstallationID int64              `json:"github_installation_id"`
	JiraHost             string             `json:"jira_host"`
	SyncStatus           string             `json:"sync_status"`
	SyncWarning          string             `json:"sync_warning"`
	RepoSyncState        []byte             `json:"repo_sync_state"`
	SelectedRepositories []int64            `json:"selected_repositories"`
	CreatedAt            pgtype.Timestamptz `json:"created_at"`
	UpdatedAt            pgtype.Timestamptz `json:"updated_at"`
}

type JiraInstallation struct {
	JiraHost     string             `json:"jira_host"`
	ClientKey    string             `json:"client_key"`
	SharedSecret string             `json:"shared_secret"`
	Enabled      bool               `json:"enabled"`
	CreatedAt    pgtype.Timestamptz `json:"created_at"`
	UpdatedAt    pgtype.Timestamptz `json:"updated_at"`
}

type ProjectKeyUsage struct {
	ProjectKey  string             `json:"project_key"`
	JiraHost    string             `json:"jira_host"`
	Occurrences int64              `json:"occurrences"`
	UpdatedAt   pgtype.Timestamptz `json:"updated_at"`
}
