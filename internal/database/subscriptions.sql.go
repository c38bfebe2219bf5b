// internal/database/subscriptions.sql.go
package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const subscriptionColumns = `id, github_installation_id, jira_host, sync_status, sync_warning, repo_sync_state, selected_repositories, created_at, updated_at`

func scanSubscription(row pgx.Row) (Subscription, error) {
	var i Subscription
	err := row.Scan(
		&i.ID,
		&i.GithubInstallationID,
		&i.JiraHost,
		&i.SyncStatus,
		&i.SyncWarning,
		&i.RepoSyncState,
		&i.SelectedRepositories,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func (q *Queries) listSubscriptions(ctx context.Context, query string, args ...interface{}) ([]Subscription, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Subscription
	for rows.Next() {
		i, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createSubscription = `-- name: CreateSubscription :one
INSERT INTO subscriptions (github_installation_id, jira_host, selected_repositories)
VALUES ($1, $2, $3)
ON CONFLICT (github_installation_id, jira_host) DO UPDATE SET updated_at = NOW()
RETURNING ` + subscriptionColumns

type CreateSubscriptionParams struct {
	GithubInstallationID int64   `json:"github_installation_id"`
	JiraHost             string  `json:"jira_host"`
	SelectedRepositories []int64 `json:"selected_repositories"`
}

// CreateSubscription is idempotent: installing twice returns the existing row.
func (q *Queries) CreateSubscription(ctx context.Context, arg CreateSubscriptionParams) (Subscription, error) {
	selected := arg.SelectedRepositories
	if selected == nil {
		selected = []int64{}
	}
	return scanSubscription(q.db.QueryRow(ctx, createSubscription, arg.GithubInstallationID, arg.JiraHost, selected))
}

const getSubscription = `-- name: GetSubscription :one
SELECT ` + subscriptionColumns + `
FROM subscriptions
WHERE github_installation_id = $1 AND jira_host = $2`

type SubscriptionKeyParams struct {
	GithubInstallationID int64  `json:"github_installation_id"`
	JiraHost             string `json:"jira_host"`
}

func (q *Queries) GetSubscription(ctx context.Context, arg SubscriptionKeyParams) (Subscription, error) {
	return scanSubscription(q.db.QueryRow(ctx, getSubscription, arg.GithubInstallationID, arg.JiraHost))
}

const listSubscriptionsForInstallation = `-- name: ListSubscriptionsForInstallation :many
SELECT ` + subscriptionColumns + `
FROM subscriptions
WHERE github_installation_id = $1
ORDER BY id`

func (q *Queries) ListSubscriptionsForInstallation(ctx context.Context, githubInstallationID int64) ([]Subscription, error) {
	return q.listSubscriptions(ctx, listSubscriptionsForInstallation, githubInstallationID)
}

const deleteSubscription = `-- name: DeleteSubscription :execrows
DELETE FROM subscriptions
WHERE github_installation_id = $1 AND jira_host = $2`

func (q *Queries) DeleteSubscription(ctx context.Context, arg SubscriptionKeyParams) (int64, error) {
	result, err := q.db.Exec(ctx, deleteSubscription, arg.GithubInstallationID, arg.JiraHost)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const updateSyncStatus = `-- name: UpdateSyncStatus :exec
UPDATE subscriptions
SET sync_status = $2, updated_at = NOW()
WHERE id = $1`

type UpdateSyncStatusParams struct {
	ID         int64  `json:"id"`
	SyncStatus string `json:"sync_status"`
}

func (q *Queries) UpdateSyncStatus(ctx context.Context, arg UpdateSyncStatusParams) error {
	_, err := q.db.Exec(ctx, updateSyncStatus, arg.ID, arg.SyncStatus)
	return err
}

const setSyncWarning = `-- name: SetSyncWarning :exec
UPDATE subscriptions
SET sync_warning = $2, updated_at = NOW()
WHERE id = $1`

type SetSyncWarningParams struct {
	ID          int64  `json:"id"`
	SyncWarning string `json:"sync_warning"`
}

func (q *Queries) SetSyncWarning(ctx context.Context, arg SetSyncWarningParams) error {
	_, err := q.db.Exec(ctx, setSyncWarning, arg.ID, arg.SyncWarning)
	return err
}

const resetSync = `-- name: ResetSync :exec
UPDATE subscriptions
SET repo_sync_state = '{}'::jsonb, sync_status = 'PENDING', sync_warning = '', updated_at = NOW()
WHERE id = $1`

func (q *Queries) ResetSync(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, resetSync, id)
	return err
}

// The patch is merged into the repository's entry inside a single statement so
// workers writing different keys of the same repository do not overwrite each other.
const mergeRepoSyncState = `-- name: MergeRepoSyncState :exec
UPDATE subscriptions
SET repo_sync_state = COALESCE(repo_sync_state, '{}'::jsonb)
        || jsonb_build_object($2::text, COALESCE(repo_sync_state -> $2::text, '{}'::jsonb) || $3::jsonb),
    updated_at = NOW()
WHERE id = $1`

type MergeRepoSyncStateParams struct {
	ID      int64  `json:"id"`
	RepoKey string `json:"repo_key"`
	Patch   []byte `json:"patch"`
}

func (q *Queries) MergeRepoSyncState(ctx context.Context, arg MergeRepoSyncStateParams) error {
	_, err := q.db.Exec(ctx, mergeRepoSyncState, arg.ID, arg.RepoKey, string(arg.Patch))
	return err
}

const countSubscriptionsByStatus = `-- name: CountSubscriptionsByStatus :many
SELECT sync_status, COUNT(*) AS count
FROM subscriptions
GROUP BY sync_status`

type CountSubscriptionsByStatusRow struct {
	SyncStatus string `json:"sync_status"`
	Count      int64  `json:"count"`
}

func (q *Queries) CountSubscriptionsByStatus(ctx context.Context) ([]CountSubscriptionsByStatusRow, error) {
	rows, err := q.db.Query(ctx, countSubscriptionsByStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CountSubscriptionsByStatusRow
	for rows.Next() {
		var i CountSubscriptionsByStatusRow
		if err := rows.Scan(&i.SyncStatus, &i.Count); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listStalledSubscriptions = `-- name: ListStalledSubscriptions :many
SELECT ` + subscriptionColumns + `
FROM subscriptions
WHERE sync_status = 'ACTIVE' AND updated_at < $1
ORDER BY updated_at`

func (q *Queries) ListStalledSubscriptions(ctx context.Context, updatedBefore pgtype.Timestamptz) ([]Subscription, error) {
	return q.listSubscriptions(ctx, listStalledSubscriptions, updatedBefore)
}

const listRecentFailedSubscriptions = `-- name: ListRecentFailedSubscriptions :many
SELECT ` + subscriptionColumns + `
FROM subscriptions
WHERE sync_status = 'FAILED'
ORDER BY updated_at DESC
LIMIT $1`

func (q *Queries) ListRecentFailedSubscriptions(ctx context.Context, limit int32) ([]Subscription, error) {
	return q.listSubscriptions(ctx, listRecentFailedSubscriptions, limit)
}
