// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/mo"

	custom_errors "github-jira-sync/internal/errors"
	"github-jira-sync/internal/jira"
	"github-jira-sync/internal/model"
	"github-jira-sync/internal/queue"
	"github-jira-sync/internal/store"
	"github-jira-sync/internal/telemetry"
)

// Store is the subscription persistence the workers read and update.
type Store interface {
	jira.WarningRecorder
	GetSingleInstallation(ctx context.Context, jiraHost string, installationID int64) (mo.Option[model.Subscription], error)
	GetAllForInstallation(ctx context.Context, installationID int64) ([]model.Subscription, error)
	UpdateSyncStatus(ctx context.Context, subscriptionID int64, status model.SyncStatus) error
	UpdateRepoState(ctx context.Context, subscriptionID, repositoryID int64, patch store.RepoStatePatch) error
	IncrementProjectKeys(ctx context.Context, jiraHost string, counts map[string]int64) error
}

// GitHub is the upstream data source, satisfied by *github.Client.
type GitHub interface {
	ListRepositories(ctx context.Context, installationID int64) ([]model.Repository, error)
	ListBranches(ctx context.Context, installationID int64, repo model.Repository, cursor string) (model.Page[model.Branch], error)
	ListCommits(ctx context.Context, installationID int64, repo model.Repository, cursor string) (model.Page[model.Commit], error)
	ListPullRequests(ctx context.Context, installationID int64, repo model.Repository, cursor string) (model.Page[model.PullRequest], error)
	GetCommit(ctx context.Context, installationID int64, repo model.Repository, sha string) (model.Commit, error)
	GetFile(ctx context.Context, installationID int64, repo model.Repository, path string) ([]byte, error)
}

// JiraClients resolves the signed client of a Jira site, satisfied by *jira.Registry.
type JiraClients interface {
	Client(ctx context.Context, jiraHost string) (jira.API, error)
}

// Enqueuer adds follow-up jobs, satisfied by *queue.Queue.
type Enqueuer interface {
	Add(data model.JobData, opts queue.AddOptions) (bool, error)
}

// Syncer runs the queue handlers of the sync pipeline.
type Syncer struct {
	store   Store
	github  GitHub
	jira    JiraClients
	queue   Enqueuer
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func New(st Store, gh GitHub, jc JiraClients, q Enqueuer, metrics *telemetry.Metrics, logger *slog.Logger) *Syncer {
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Syncer{
		store:   st,
		github:  gh,
		jira:    jc,
		queue:   q,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Register starts a worker pool per lane and subscribes the failure handler.
func (s *Syncer) Register(q *queue.Queue, lanes map[model.Lane]queue.LaneOptions, middleware ...queue.Middleware) {
	handlers := map[model.Lane]queue.Handler{
		model.LaneDiscovery:    s.HandleDiscovery,
		model.LaneBranches:     s.HandleResource,
		model.LaneCommits:      s.HandleResource,
		model.LanePullRequests: s.HandleResource,
		model.LanePush:         s.HandlePush,
		model.LaneMetrics:      s.HandleMetrics,
	}
	for lane, handler := range handlers {
		q.Process(lane, lanes[lane], handler, middleware...)
	}
	q.OnEvent(s.OnQueueEvent)
}

// subscription returns the subscription of a job, or none when it was uninstalled.
func (s *Syncer) subscription(ctx context.Context, logger *slog.Logger, installationID int64, jiraHost string) (mo.Option[model.Subscription], error) {
	found, err := s.store.GetSingleInstallation(ctx, jiraHost, installationID)
	if err != nil {
		return mo.None[model.Subscription](), err
	}
	if found.IsAbsent() {
		logger.Info("Subscription not found, skipping job")
	}
	return found, nil
}

// batcher builds a submission batcher for the subscription's Jira site. A site
// that is no longer installed fails the job without retries.
func (s *Syncer) batcher(ctx context.Context, logger *slog.Logger, installationID int64, jiraHost string) (*jira.Batcher, error) {
	api, err := s.jira.Client(ctx, jiraHost)
	if err != nil {
		var notFound *custom_errors.ErrInstallationNotFound
		if errors.As(err, &notFound) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	return jira.NewBatcher(api, s.store, installationID, jiraHost, logger), nil
}

func (s *Syncer) updateSequenceID() int64 {
	return s.now().UnixMilli()
}

// OnQueueEvent marks a subscription FAILED once one of its sync jobs runs out of attempts.
func (s *Syncer) OnQueueEvent(e queue.Event) {
	if e.Kind != queue.EventFailed || !e.Final {
		return
	}
	logger := s.logger.With("lane", e.Lane, "job_id", e.Job.ID, "attempt", e.Job.Attempt)
	if errors.Is(e.Err, context.Canceled) {
		logger.Warn("Job interrupted by shutdown, leaving sync status unchanged")
		return
	}

	var installationID int64
	var jiraHost string
	switch data := e.Job.Data.(type) {
	case model.DiscoveryJob:
		installationID, jiraHost = data.InstallationID, data.JiraHost
	case model.ResourceSyncJob:
		installationID, jiraHost = data.InstallationID, data.JiraHost
	case model.PushJob:
		logger.Error("Discarding push job after final failure", "installation_id", data.InstallationID, "repository_id", data.Repository.ID, "error", e.Err)
		return
	default:
		logger.Error("Job failed permanently", "error", e.Err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger = logger.With("installation_id", installationID, "jira_host", jiraHost)
	if err := s.markFailed(ctx, installationID, jiraHost); err != nil {
		logger.Error("Failed to mark subscription as failed", "error", err)
		return
	}
	logger.Error("Sync failed", "error", e.Err)
}

func (s *Syncer) markFailed(ctx context.Context, installationID int64, jiraHost string) error {
	found, err := s.store.GetSingleInstallation(ctx, jiraHost, installationID)
	if err != nil {
		return err
	}
	sub, ok := found.Get()
	if !ok {
		return nil
	}
	if err := s.store.UpdateSyncStatus(ctx, sub.ID, model.SyncStatusFailed); err != nil {
		return fmt.Errorf("failed to mark subscription %d failed: %w", sub.ID, err)
	}
	return nil
}
