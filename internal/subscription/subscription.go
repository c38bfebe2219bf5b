// internal/subscription/subscription.go
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	custom_errors "github-jira-sync/internal/errors"
	"github-jira-sync/internal/jira"
	"github-jira-sync/internal/model"
	"github-jira-sync/internal/queue"
)

// SyncType selects between rebuilding a subscription's sync from scratch and
// continuing from the persisted cursors.
type SyncType string

const (
	SyncTypeFull    SyncType = "full"
	SyncTypePartial SyncType = "partial"
)

func ParseSyncType(s string) (SyncType, error) {
	switch SyncType(s) {
	case SyncTypeFull, SyncTypePartial:
		return SyncType(s), nil
	case "":
		return SyncTypePartial, nil
	}
	return "", fmt.Errorf("unknown sync type %q", s)
}

type Store interface {
	Create(ctx context.Context, installationID int64, jiraHost string, selectedRepositories []int64) (model.Subscription, error)
	MustGet(ctx context.Context, jiraHost string, installationID int64) (model.Subscription, error)
	Delete(ctx context.Context, installationID int64, jiraHost string) (bool, error)
	UpdateSyncStatus(ctx context.Context, subscriptionID int64, status model.SyncStatus) error
	ResetSync(ctx context.Context, subscriptionID int64) error
	CountByStatus(ctx context.Context) (map[model.SyncStatus]int64, error)
	Stalled(ctx context.Context, now time.Time, threshold time.Duration) ([]model.Subscription, error)
	RecentFailed(ctx context.Context, limit int) ([]model.Subscription, error)
}

type Enqueuer interface {
	Add(data model.JobData, opts queue.AddOptions) (bool, error)
}

type JiraClients interface {
	Client(ctx context.Context, jiraHost string) (jira.API, error)
}

// Service owns a subscription's sync lifecycle:
// PENDING -> ACTIVE -> COMPLETE or FAILED, with FAILED re-enterable.
type Service struct {
	store            Store
	queue            Enqueuer
	jira             JiraClients
	stalledThreshold time.Duration
	logger           *slog.Logger
	now              func() time.Time
}

func New(st Store, q Enqueuer, jc JiraClients, stalledThreshold time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:            st,
		queue:            q,
		jira:             jc,
		stalledThreshold: stalledThreshold,
		logger:           logger,
		now:              time.Now,
	}
}

// Install links an installation to a Jira site and starts its first sync.
func (s *Service) Install(ctx context.Context, installationID int64, jiraHost string, selectedRepositories []int64) (model.Subscription, error) {
	sub, err := s.store.Create(ctx, installationID, jiraHost, selectedRepositories)
	if err != nil {
		return model.Subscription{}, err
	}
	s.logger.Info("Subscription installed", "installation_id", installationID, "jira_host", jiraHost, "subscription_id", sub.ID)
	if err := s.FindOrStartSync(ctx, sub, SyncTypePartial); err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

// FindOrStartSync starts a full sync when requested or when nothing was synced
// yet, resetting all progress. Otherwise it resumes from the saved cursors.
func (s *Service) FindOrStartSync(ctx context.Context, sub model.Subscription, syncType SyncType) error {
	logger := s.logger.With("installation_id", sub.GitHubInstallationID, "jira_host", sub.JiraHost, "sync_type", syncType)

	mode := model.DiscoveryResume
	if syncType == SyncTypeFull || len(sub.RepoSyncState) == 0 {
		mode = model.DiscoveryFull
		if err := s.store.ResetSync(ctx, sub.ID); err != nil {
			return err
		}
	} else if err := s.store.UpdateSyncStatus(ctx, sub.ID, model.SyncStatusPending); err != nil {
		return err
	}

	added, err := s.queue.Add(model.DiscoveryJob{
		InstallationID: sub.GitHubInstallationID,
		JiraHost:       sub.JiraHost,
		Mode:           mode,
	}, queue.AddOptions{JobID: model.DiscoveryJobID(sub.GitHubInstallationID), RemoveOnComplete: true})
	if err != nil {
		return fmt.Errorf("failed to enqueue discovery: %w", err)
	}
	if !added {
		logger.Info("Discovery already queued")
		return nil
	}
	logger.Info("Sync started", "mode", mode)
	return nil
}

// Sync is the API entry point for (re)syncing one subscription.
func (s *Service) Sync(ctx context.Context, installationID int64, jiraHost string, syncType SyncType) error {
	sub, err := s.store.MustGet(ctx, jiraHost, installationID)
	if err != nil {
		return err
	}
	return s.FindOrStartSync(ctx, sub, syncType)
}

// ResumeSync continues an interrupted sync from its cursors.
func (s *Service) ResumeSync(ctx context.Context, installationID int64, jiraHost string) error {
	return s.Sync(ctx, installationID, jiraHost, SyncTypePartial)
}

// RestartSync discards all progress and syncs everything again.
func (s *Service) RestartSync(ctx context.Context, installationID int64, jiraHost string) error {
	return s.Sync(ctx, installationID, jiraHost, SyncTypeFull)
}

func (s *Service) SyncStatusCounts(ctx context.Context) (map[model.SyncStatus]int64, error) {
	return s.store.CountByStatus(ctx)
}

// Stalled lists ACTIVE subscriptions that have not progressed within the threshold.
func (s *Service) Stalled(ctx context.Context) ([]model.Subscription, error) {
	return s.store.Stalled(ctx, s.now(), s.stalledThreshold)
}

// ResyncFailed restarts up to limit of the most recently failed subscriptions
// and returns how many were restarted.
func (s *Service) ResyncFailed(ctx context.Context, limit int) (int, error) {
	subs, err := s.store.RecentFailed(ctx, limit)
	if err != nil {
		return 0, err
	}

	restarted := 0
	var errs []error
	for _, sub := range subs {
		if err := s.FindOrStartSync(ctx, sub, SyncTypeFull); err != nil {
			s.logger.Error("Failed to restart sync", "installation_id", sub.GitHubInstallationID, "jira_host", sub.JiraHost, "error", err)
			errs = append(errs, err)
			continue
		}
		restarted++
	}
	s.logger.Info("Resynced failed subscriptions", "restarted", restarted, "failed", len(errs))
	return restarted, errors.Join(errs...)
}

// Uninstall removes the installation's data from Jira and deletes the subscription.
func (s *Service) Uninstall(ctx context.Context, installationID int64, jiraHost string) error {
	if _, err := s.store.MustGet(ctx, jiraHost, installationID); err != nil {
		return err
	}

	api, err := s.jira.Client(ctx, jiraHost)
	var notFound *custom_errors.ErrInstallationNotFound
	switch {
	case errors.As(err, &notFound):
		s.logger.Warn("Jira site no longer installed, skipping data cleanup", "jira_host", jiraHost)
	case err != nil:
		return err
	default:
		if err := api.DeleteInstallation(ctx, installationID); err != nil {
			return err
		}
	}

	deleted, err := s.store.Delete(ctx, installationID, jiraHost)
	if err != nil {
		return err
	}
	if !deleted {
		return &custom_errors.ErrSubscriptionNotFound{InstallationID: installationID, JiraHost: jiraHost}
	}
	s.logger.Info("Subscription uninstalled", "installation_id", installationID, "jira_host", jiraHost)
	return nil
}

// DevInfoExists asks Jira whether it holds development data for the installation.
func (s *Service) DevInfoExists(ctx context.Context, installationID int64, jiraHost string) (bool, error) {
	if _, err := s.store.MustGet(ctx, jiraHost, installationID); err != nil {
		return false, err
	}
	api, err := s.jira.Client(ctx, jiraHost)
	if err != nil {
		return false, err
	}
	return api.ExistsByProperties(ctx, installationID)
}
