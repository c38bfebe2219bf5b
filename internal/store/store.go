// internal/store/store.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/mo"

	"github-jira-sync/internal/database"
	custom_errors "github-jira-sync/internal/errors"
	"github-jira-sync/internal/model"
)

// Store persists subscriptions, Jira installations and project key usage.
type Store struct {
	q      database.Querier
	logger *slog.Logger
}

func New(q database.Querier, logger *slog.Logger) *Store {
	return &Store{q: q, logger: logger}
}

// RepoStatePatch is merged into a single repository's entry of RepoSyncState.
// Keys are RepoState JSON field names.
type RepoStatePatch map[string]any

// ResourcePatch records the progress of one resource kind after a page.
func ResourcePatch(kind model.ResourceKind, status model.ResourceStatus, cursor string) RepoStatePatch {
	return RepoStatePatch{
		kind.StatusKey(): status,
		kind.CursorKey(): cursor,
	}
}

// RepositoryPatch stores the repository identity so a resumed sync can
// re-enqueue its pending resources without listing repositories again.
func RepositoryPatch(repo model.Repository) RepoStatePatch {
	return RepoStatePatch{"repository": repo}
}

// GetSingleInstallation looks up the subscription linking installationID to jiraHost.
func (s *Store) GetSingleInstallation(ctx context.Context, jiraHost string, installationID int64) (mo.Option[model.Subscription], error) {
	row, err := s.q.GetSubscription(ctx, database.SubscriptionKeyParams{
		GithubInstallationID: installationID,
		JiraHost:             jiraHost,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return mo.None[model.Subscription](), nil
	}
	if err != nil {
		return mo.None[model.Subscription](), fmt.Errorf("failed to get subscription: %w", err)
	}

	sub, err := toSubscription(row)
	if err != nil {
		return mo.None[model.Subscription](), err
	}
	return mo.Some(sub), nil
}

// MustGet is GetSingleInstallation for callers that treat absence as an error.
func (s *Store) MustGet(ctx context.Context, jiraHost string, installationID int64) (model.Subscription, error) {
	found, err := s.GetSingleInstallation(ctx, jiraHost, installationID)
	if err != nil {
		return model.Subscription{}, err
	}
	sub, ok := found.Get()
	if !ok {
		return model.Subscription{}, &custom_errors.ErrSubscriptionNotFound{InstallationID: installationID, JiraHost: jiraHost}
	}
	return sub, nil
}

// GetAllForInstallation returns every Jira site the installation is linked to.
func (s *Store) GetAllForInstallation(ctx context.Context, installationID int64) ([]model.Subscription, error) {
	rows, err := s.q.ListSubscriptionsForInstallation(ctx, installationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions for installation %d: %w", installationID, err)
	}
	return toSubscriptions(rows)
}

// Create inserts the subscription, returning the existing one when already installed.
func (s *Store) Create(ctx context.Context, installationID int64, jiraHost string, selectedRepositories []int64) (model.Subscription, error) {
	row, err := s.q.CreateSubscription(ctx, database.CreateSubscriptionParams{
		GithubInstallationID: installationID,
		JiraHost:             jiraHost,
		SelectedRepositories: selectedRepositories,
	})
	if err != nil {
		return model.Subscription{}, fmt.Errorf("failed to create subscription: %w", err)
	}
	return toSubscription(row)
}

// Delete removes the subscription and reports whether it existed.
func (s *Store) Delete(ctx context.Context, installationID int64, jiraHost string) (bool, error) {
	n, err := s.q.DeleteSubscription(ctx, database.SubscriptionKeyParams{
		GithubInstallationID: installationID,
		JiraHost:             jiraHost,
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete subscription: %w", err)
	}
	return n > 0, nil
}

func (s *Store) UpdateSyncStatus(ctx context.Context, subscriptionID int64, status model.SyncStatus) error {
	if err := s.q.UpdateSyncStatus(ctx, database.UpdateSyncStatusParams{ID: subscriptionID, SyncStatus: string(status)}); err != nil {
		return fmt.Errorf("failed to set sync status %s: %w", status, err)
	}
	return nil
}

// SetSyncWarning records a non-fatal warning on the subscription. A missing
// subscription is ignored since it was uninstalled while the sync ran.
func (s *Store) SetSyncWarning(ctx context.Context, installationID int64, jiraHost, warning string) error {
	found, err := s.GetSingleInstallation(ctx, jiraHost, installationID)
	if err != nil {
		return err
	}
	sub, ok := found.Get()
	if !ok {
		return nil
	}
	if err := s.q.SetSyncWarning(ctx, database.SetSyncWarningParams{ID: sub.ID, SyncWarning: warning}); err != nil {
		return fmt.Errorf("failed to set sync warning: %w", err)
	}
	return nil
}

// ResetSync clears all repository progress and the warning, and sets PENDING.
func (s *Store) ResetSync(ctx context.Context, subscriptionID int64) error {
	if err := s.q.ResetSync(ctx, subscriptionID); err != nil {
		return fmt.Errorf("failed to reset sync state: %w", err)
	}
	return nil
}

// UpdateRepoState merges patch into the repository's progress in one statement.
func (s *Store) UpdateRepoState(ctx context.Context, subscriptionID, repositoryID int64, patch RepoStatePatch) error {
	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to encode repo state patch: %w", err)
	}
	err = s.q.MergeRepoSyncState(ctx, database.MergeRepoSyncStateParams{
		ID:      subscriptionID,
		RepoKey: model.RepoKey(repositoryID),
		Patch:   data,
	})
	if err != nil {
		return fmt.Errorf("failed to update state of repository %d: %w", repositoryID, err)
	}
	return nil
}

// CountByStatus returns the number of subscriptions per sync status, including zeros.
func (s *Store) CountByStatus(ctx context.Context) (map[model.SyncStatus]int64, error) {
	rows, err := s.q.CountSubscriptionsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	counts := make(map[model.SyncStatus]int64, len(model.AllSyncStatuses))
	for _, status := range model.AllSyncStatuses {
		counts[status] = 0
	}
	for _, row := range rows {
		counts[model.SyncStatus(row.SyncStatus)] = row.Count
	}
	return counts, nil
}

// Stalled returns ACTIVE subscriptions not updated within threshold of now.
func (s *Store) Stalled(ctx context.Context, now time.Time, threshold time.Duration) ([]model.Subscription, error) {
	rows, err := s.q.ListStalledSubscriptions(ctx, pgtype.Timestamptz{Time: now.Add(-threshold), Valid: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled subscriptions: %w", err)
	}
	return toSubscriptions(rows)
}

// RecentFailed returns up to limit FAILED subscriptions, most recently updated first.
func (s *Store) RecentFailed(ctx context.Context, limit int) ([]model.Subscription, error) {
	rows, err := s.q.ListRecentFailedSubscriptions(ctx, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list failed subscriptions: %w", err)
	}
	return toSubscriptions(rows)
}

func (s *Store) JiraInstallation(ctx context.Context, jiraHost string) (mo.Option[model.JiraInstallation], error) {
	row, err := s.q.GetJiraInstallation(ctx, jiraHost)
	if errors.Is(err, pgx.ErrNoRows) {
		return mo.None[model.JiraInstallation](), nil
	}
	if err != nil {
		return mo.None[model.JiraInstallation](), fmt.Errorf("failed to get jira installation: %w", err)
	}
	return mo.Some(model.JiraInstallation{
		JiraHost:     row.JiraHost,
		ClientKey:    row.ClientKey,
		SharedSecret: row.SharedSecret,
		Enabled:      row.Enabled,
	}), nil
}

func (s *Store) SaveJiraInstallation(ctx context.Context, installation model.JiraInstallation) error {
	_, err := s.q.UpsertJiraInstallation(ctx, database.UpsertJiraInstallationParams{
		JiraHost:     installation.JiraHost,
		ClientKey:    installation.ClientKey,
		SharedSecret: installation.SharedSecret,
		Enabled:      installation.Enabled,
	})
	if err != nil {
		return fmt.Errorf("failed to save jira installation: %w", err)
	}
	return nil
}

// IncrementProjectKeys adds counts[projectKey] to each project's occurrences.
func (s *Store) IncrementProjectKeys(ctx context.Context, jiraHost string, counts map[string]int64) error {
	for key, n := range counts {
		err := s.q.IncrementProjectKeyUsage(ctx, database.IncrementProjectKeyUsageParams{
			ProjectKey:  key,
			JiraHost:    jiraHost,
			Occurrences: n,
		})
		if err != nil {
			return fmt.Errorf("failed to increment usage of project %s: %w", key, err)
		}
	}
	return nil
}

func (s *Store) ProjectKeyUsage(ctx context.Context, jiraHost string) ([]model.ProjectKeyUsage, error) {
	rows, err := s.q.ListProjectKeyUsage(ctx, jiraHost)
	if err != nil {
		return nil, fmt.Errorf("failed to list project key usage: %w", err)
	}
	usage := make([]model.ProjectKeyUsage, len(rows))
	for i, row := range rows {
		usage[i] = model.ProjectKeyUsage{ProjectKey: row.ProjectKey, JiraHost: row.JiraHost, Occurrences: row.Occurrences}
	}
	return usage, nil
}

func toSubscriptions(rows []database.Subscription) ([]model.Subscription, error) {
	subs := make([]model.Subscription, 0, len(rows))
	for _, row := range rows {
		sub, err := toSubscription(row)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// toSubscription translates a database row to our internal model.Subscription.
func toSubscription(row database.Subscription) (model.Subscription, error) {
	state := model.RepoSyncState{}
	if len(row.RepoSyncState) > 0 {
		if err := json.Unmarshal(row.RepoSyncState, &state); err != nil {
			return model.Subscription{}, fmt.Errorf("failed to decode repo sync state of subscription %d: %w", row.ID, err)
		}
	}
	return model.Subscription{
		ID:                   row.ID,
		GitHubInstallationID: row.GithubInstallationID,
		JiraHost:             row.JiraHost,
		SyncStatus:           model.SyncStatus(row.SyncStatus),
		SyncWarning:          row.SyncWarning,
		RepoSyncState:        state,
		SelectedRepositories: row.SelectedRepositories,
		CreatedAt:            row.CreatedAt.Time,
		UpdatedAt:            row.UpdatedAt.Time,
	}, nil
}
