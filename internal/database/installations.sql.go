// internal/database/installations.sql.go
package database

import (
	"context"
)

const getJiraInstallation = `-- name: GetJiraInstallation :one
SELECT jira_host, client_key, shared_secret, enabled, created_at, updated_at
FROM jira_installations
WHERE jira_host = $1`

func (q *Queries) GetJiraInstallation(ctx context.Context, jiraHost string) (JiraInstallation, error) {
	row := q.db.QueryRow(ctx, getJiraInstallation, jiraHost)
	var i JiraInstallation
	err := row.Scan(
		&i.JiraHost,
		&i.ClientKey,
		&i.SharedSecret,
		&i.Enabled,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const upsertJiraInstallation = `-- name: UpsertJiraInstallation :one
INSERT INTO jira_installations (jira_host, client_key, shared_secret, enabled)
VALUES ($1, $2, $3, $4)
ON CONFLICT (jira_host) DO UPDATE
SET client_key = EXCLUDED.client_key,
    shared_secret = EXCLUDED.shared_secret,
    enabled = EXCLUDED.enabled,
    updated_at = NOW()
RETURNING jira_host, client_key, shared_secret, enabled, created_at, updated_at`

type UpsertJiraInstallationParams struct {
	JiraHost     string `json:"jira_host"`
	ClientKey    string `json:"client_key"`
	SharedSecret string `json:"shared_secret"`
	Enabled      bool   `json:"enabled"`
}

func (q *Queries) UpsertJiraInstallation(ctx context.Context, arg UpsertJiraInstallationParams) (JiraInstallation, error) {
	row := q.db.QueryRow(ctx, upsertJiraInstallation, arg.JiraHost, arg.ClientKey, arg.SharedSecret, arg.Enabled)
	var i JiraInstallation
	err := row.Scan(
		&i.JiraHost,
		&i.ClientKey,
		&i.SharedSecret,
		&i.Enabled,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const incrementProjectKeyUsage = `-- name: IncrementProjectKeyUsage :exec
INSERT INTO project_key_usage (project_key, jira_host, occurrences)
VALUES ($1, $2, $3)
ON CONFLICT (project_key, jira_host) DO UPDATE
SET occurrences = project_key_usage.occurrences + EXCLUDED.occurrences,
    updated_at = NOW()`

type IncrementProjectKeyUsageParams struct {
	ProjectKey  string `json:"project_key"`
	JiraHost    string `json:"jira_host"`
	Occurrences int64  `json:"occurrences"`
}

func (q *Queries) IncrementProjectKeyUsage(ctx context.Context, arg IncrementProjectKeyUsageParams) error {
	_, err := q.db.Exec(ctx, incrementProjectKeyUsage, arg.ProjectKey, arg.JiraHost, arg.Occurrences)
	return err
}

const listProjectKeyUsage = `-- name: ListProjectKeyUsage :many
SELECT project_key, jira_host, occurrences, updated_at
FROM project_key_usage
WHERE jira_host = $1
ORDER BY occurrences DESC, project_key`

func (q *Queries) ListProjectKeyUsage(ctx context.Context, jiraHost string) ([]ProjectKeyUsage, error) {
	rows, err := q.db.Query(ctx, listProjectKeyUsage, jiraHost)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ProjectKeyUsage
	for rows.Next() {
		var i ProjectKeyUsage
		if err := rows.Scan(&i.ProjectKey, &i.JiraHost, &i.Occurrences, &i.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
