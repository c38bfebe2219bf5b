// internal/database/querier.go
package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

type Querier interface {
	CountSubscriptionsByStatus(ctx context.Context) ([]CountSubscriptionsByStatusRow, error)
	CreateSubscription(ctx context.Context, arg CreateSubscriptionParams) (Subscription, error)
	DeleteSubscription(ctx context.Context, arg SubscriptionKeyParams) (int64, error)
	GetJiraInstallation(ctx context.Context, jiraHost string) (JiraInstallation, error)
	GetSubscription(ctx context.Context, arg SubscriptionKeyParams) (Subscription, error)
	IncrementProjectKeyUsage(ctx context.Context, arg IncrementProjectKeyUsageParams) error
	ListProjectKeyUsage(ctx context.Context, jiraHost string) ([]ProjectKeyUsage, error)
	ListRecentFailedSubscriptions(ctx context.Context, limit int32) ([]Subscription, error)
	ListStalledSubscriptions(ctx context.Context, updatedBefore pgtype.Timestamptz) ([]Subscription, error)
	ListSubscriptionsForInstallation(ctx context.Context, githubInstallationID int64) ([]Subscription, error)
	MergeRepoSyncState(ctx context.Context, arg MergeRepoSyncStateParams) error
	ResetSync(ctx context.Context, id int64) error
	SetSyncWarning(ctx context.Context, arg SetSyncWarningParams) error
	UpdateSyncStatus(ctx context.Context, arg UpdateSyncStatusParams) error
	UpsertJiraInstallation(ctx context.Context, arg UpsertJiraInstallationParams) (JiraInstallation, error)
}

var _ Querier = (*Queries)(nil)
