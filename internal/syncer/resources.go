// internal/syncer/resources.go
package syncer

import (
	"context"
	"fmt"
	"log/slog"

	custom_errors "github-jira-sync/internal/errors"
	"github-jira-sync/internal/jira"
	"github-jira-sync/internal/model"
	"github-jira-sync/internal/queue"
	"github-jira-sync/internal/store"
	"github-jira-sync/internal/transforms"
)

// backfillOptions tag backfilled data so Jira neither transitions issues nor
// notifies watchers about historic activity.
var backfillOptions = jira.SubmitOptions{PreventTransitions: true, OperationType: jira.OperationBackfill}

// HandleResource backfills one resource kind of one repository, page by page,
// starting from the persisted cursor. The cursor is saved after every page.
func (s *Syncer) HandleResource(ctx context.Context, job queue.Job) error {
	data, ok := job.Data.(model.ResourceSyncJob)
	if !ok {
		return &custom_errors.ErrInvalidJob{Lane: string(job.Data.Lane()), Reason: fmt.Sprintf("unexpected payload %T", job.Data)}
	}
	repo := data.Repository
	logger := s.logger.With(
		"installation_id", data.InstallationID,
		"jira_host", data.JiraHost,
		"repository_id", repo.ID,
		"resource", data.Resource,
		"job_id", job.ID,
	)

	found, err := s.subscription(ctx, logger, data.InstallationID, data.JiraHost)
	if err != nil {
		return err
	}
	sub, ok := found.Get()
	if !ok {
		return nil
	}

	state := sub.RepoSyncState.Get(repo.ID)
	if state.Status(data.Resource) == model.ResourceStatusComplete {
		logger.Debug("Resource already synced")
		return s.completeIfDone(ctx, logger, data.InstallationID, data.JiraHost)
	}
	if sub.SyncStatus != model.SyncStatusActive {
		if err := s.store.UpdateSyncStatus(ctx, sub.ID, model.SyncStatusActive); err != nil {
			return err
		}
	}

	batcher, err := s.batcher(ctx, logger, data.InstallationID, data.JiraHost)
	if err != nil {
		return err
	}

	cursor := state.Cursor(data.Resource)
	if cursor != "" {
		logger.Info("Resuming resource sync", "cursor", cursor)
	}
	pages := 0
	for {
		payload, next, err := s.fetchPage(ctx, data, cursor)
		if err != nil {
			return err
		}

		if !payload.IsEmpty() {
			err := batcher.SubmitRepository(ctx, payload, backfillOptions)
			s.metrics.RecordSubmission(ctx, "devinfo", err)
			if err != nil {
				return err
			}
			s.enqueueProjectKeys(logger, data.JiraHost, payload.AllIssueKeys())
		}

		status := model.ResourceStatusPending
		if next == "" {
			status = model.ResourceStatusComplete
		}
		if err := s.store.UpdateRepoState(ctx, sub.ID, repo.ID, store.ResourcePatch(data.Resource, status, next)); err != nil {
			return err
		}
		pages++

		if next == "" {
			break
		}
		cursor = next
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	logger.Info("Resource synced", "pages", pages)
	return s.completeIfDone(ctx, logger, data.InstallationID, data.JiraHost)
}

// fetchPage loads one page and maps it into a DevInfo payload for the repository.
func (s *Syncer) fetchPage(ctx context.Context, data model.ResourceSyncJob, cursor string) (jira.Repository, string, error) {
	seq := s.updateSequenceID()
	switch data.Resource {
	case model.ResourceBranches:
		page, err := s.github.ListBranches(ctx, data.InstallationID, data.Repository, cursor)
		if err != nil {
			return jira.Repository{}, "", err
		}
		return transforms.Branches(page.Items, data.Repository, seq), page.NextCursor, nil
	case model.ResourceCommits:
		page, err := s.github.ListCommits(ctx, data.InstallationID, data.Repository, cursor)
		if err != nil {
			return jira.Repository{}, "", err
		}
		return transforms.Commits(page.Items, data.Repository, seq), page.NextCursor, nil
	case model.ResourcePullRequests:
		page, err := s.github.ListPullRequests(ctx, data.InstallationID, data.Repository, cursor)
		if err != nil {
			return jira.Repository{}, "", err
		}
		return transforms.PullRequests(page.Items, data.Repository, seq), page.NextCursor, nil
	}
	return jira.Repository{}, "", &custom_errors.ErrInvalidJob{Lane: string(data.Lane()), Reason: fmt.Sprintf("unknown resource %q", data.Resource)}
}

// completeIfDone sets COMPLETE once every resource of every discovered
// repository has reported its last page. An empty state means the sync was
// reset and discovery has not run again, so it never completes the sync.
func (s *Syncer) completeIfDone(ctx context.Context, logger *slog.Logger, installationID int64, jiraHost string) error {
	found, err := s.store.GetSingleInstallation(ctx, jiraHost, installationID)
	if err != nil {
		return err
	}
	sub, ok := found.Get()
	if !ok || sub.SyncStatus == model.SyncStatusComplete {
		return nil
	}
	if len(sub.RepoSyncState) == 0 {
		logger.Debug("No repositories in sync state, leaving sync status unchanged", "sync_status", sub.SyncStatus)
		return nil
	}
	if !sub.RepoSyncState.AllComplete() {
		return nil
	}
	if err := s.store.UpdateSyncStatus(ctx, sub.ID, model.SyncStatusComplete); err != nil {
		return err
	}
	logger.Info("Subscription sync complete", "repositories", len(sub.RepoSyncState))
	return nil
}
