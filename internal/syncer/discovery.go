// internal/syncer/discovery.go
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"golang.org/x/sync/errgroup"

	custom_errors "github-jira-sync/internal/errors"
	"github-jira-sync/internal/model"
	"github-jira-sync/internal/queue"
	"github-jira-sync/internal/store"
)

// seedConcurrency bounds parallel repository state writes during discovery.
const seedConcurrency = 4

// HandleDiscovery fans a subscription's sync out into one job per repository
// and resource kind. A full discovery lists repositories from GitHub; a resume
// re-enqueues the unfinished resources already recorded in the sync state.
func (s *Syncer) HandleDiscovery(ctx context.Context, job queue.Job) error {
	data, ok := job.Data.(model.DiscoveryJob)
	if !ok {
		return &custom_errors.ErrInvalidJob{Lane: string(model.LaneDiscovery), Reason: fmt.Sprintf("unexpected payload %T", job.Data)}
	}
	logger := s.logger.With("installation_id", data.InstallationID, "jira_host", data.JiraHost, "job_id", job.ID, "mode", data.Mode)

	found, err := s.subscription(ctx, logger, data.InstallationID, data.JiraHost)
	if err != nil {
		return err
	}
	sub, ok := found.Get()
	if !ok {
		return nil
	}

	var pending map[int64][]model.ResourceKind
	var repos []model.Repository
	if data.Mode == model.DiscoveryResume && len(sub.RepoSyncState) > 0 {
		repos, pending = resumableRepositories(sub.RepoSyncState)
	} else {
		repos, err = s.discoverRepositories(ctx, sub)
		if err != nil {
			return err
		}
	}

	if len(repos) == 0 {
		logger.Info("No repositories to sync")
		return s.store.UpdateSyncStatus(ctx, sub.ID, model.SyncStatusComplete)
	}
	if err := s.store.UpdateSyncStatus(ctx, sub.ID, model.SyncStatusActive); err != nil {
		return err
	}

	enqueued := 0
	for _, repo := range repos {
		kinds := model.AllResourceKinds
		if pending != nil {
			kinds = pending[repo.ID]
		}
		for _, kind := range kinds {
			added, err := s.queue.Add(model.ResourceSyncJob{
				InstallationID: data.InstallationID,
				JiraHost:       data.JiraHost,
				Repository:     repo,
				Resource:       kind,
			}, queue.AddOptions{JobID: model.ResourceJobID(kind, repo.Name), RemoveOnComplete: true})
			if err != nil {
				return fmt.Errorf("failed to enqueue %s sync of %s: %w", kind, repo.FullName, err)
			}
			if added {
				enqueued++
			}
		}
	}

	logger.Info("Discovery finished", "repositories", len(repos), "jobs", enqueued)
	return nil
}

// discoverRepositories lists the installation's repositories and records each
// one in the sync state so progress can be tracked and resumed.
func (s *Syncer) discoverRepositories(ctx context.Context, sub model.Subscription) ([]model.Repository, error) {
	repos, err := s.github.ListRepositories(ctx, sub.GitHubInstallationID)
	if err != nil {
		return nil, err
	}
	repos = filterSelected(repos, sub.SelectedRepositories)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(seedConcurrency)
	for _, repo := range repos {
		g.Go(func() error {
			return s.store.UpdateRepoState(gctx, sub.ID, repo.ID, store.RepositoryPatch(repo))
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return repos, nil
}

func filterSelected(repos []model.Repository, selected []int64) []model.Repository {
	if len(selected) == 0 {
		return repos
	}
	return slices.DeleteFunc(repos, func(r model.Repository) bool {
		return !slices.Contains(selected, r.ID)
	})
}

// resumableRepositories returns the repositories with unfinished resources,
// ordered by id, and the pending kinds of each.
func resumableRepositories(state model.RepoSyncState) ([]model.Repository, map[int64][]model.ResourceKind) {
	var repos []model.Repository
	pending := map[int64][]model.ResourceKind{}
	for _, key := range slices.Sorted(maps.Keys(state)) {
		st := state[key]
		if st == nil || st.Repository == nil {
			continue
		}
		kinds := st.PendingResources()
		if len(kinds) == 0 {
			continue
		}
		repos = append(repos, *st.Repository)
		pending[st.Repository.ID] = kinds
	}
	return repos, pending
}

// enqueueProjectKeys records which Jira projects a submission touched.
func (s *Syncer) enqueueProjectKeys(logger *slog.Logger, jiraHost string, issueKeys []string) {
	projects := projectKeys(issueKeys)
	if len(projects) == 0 {
		return
	}
	if _, err := s.queue.Add(model.MetricsJob{JiraHost: jiraHost, ProjectKeys: projects}, queue.AddOptions{}); err != nil {
		logger.Warn("Failed to enqueue project key usage", "error", err)
	}
}
