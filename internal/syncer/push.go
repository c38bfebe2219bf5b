// internal/syncer/push.go
package syncer

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	custom_errors "github-jira-sync/internal/errors"
	"github-jira-sync/internal/jira"
	"github-jira-sync/internal/model"
	"github-jira-sync/internal/queue"
	"github-jira-sync/internal/smartcommit"
	"github-jira-sync/internal/transforms"
)

// commitFetchConcurrency bounds parallel commit lookups of one push.
const commitFetchConcurrency = 5

// PushJobFor keeps only the pushed commits whose message references an issue,
// trimmed to their sha and keys. It returns false when no commit survives.
func PushJobFor(installationID int64, jiraHost string, repo model.Repository, commits []model.Commit, webhookID string) (model.PushJob, bool) {
	var shas []model.PushCommit
	for _, c := range commits {
		keys := smartcommit.IssueKeys(c.Message)
		if len(keys) == 0 {
			continue
		}
		shas = append(shas, model.PushCommit{ID: c.SHA, IssueKeys: keys})
	}
	if len(shas) == 0 {
		return model.PushJob{}, false
	}
	return model.PushJob{
		InstallationID: installationID,
		JiraHost:       jiraHost,
		Repository: model.Repository{
			ID:       repo.ID,
			Owner:    repo.Owner,
			Name:     repo.Name,
			FullName: repo.FullName,
			HTMLURL:  repo.HTMLURL,
		},
		Commits:   shas,
		WebhookID: webhookID,
	}, true
}

// HandlePush fetches full detail for every commit of a push and submits them to Jira.
func (s *Syncer) HandlePush(ctx context.Context, job queue.Job) error {
	data, ok := job.Data.(model.PushJob)
	if !ok {
		return &custom_errors.ErrInvalidJob{Lane: string(model.LanePush), Reason: fmt.Sprintf("unexpected payload %T", job.Data)}
	}
	logger := s.logger.With(
		"installation_id", data.InstallationID,
		"jira_host", data.JiraHost,
		"repository_id", data.Repository.ID,
		"job_id", job.ID,
		"webhook_id", data.WebhookID,
	)

	found, err := s.subscription(ctx, logger, data.InstallationID, data.JiraHost)
	if err != nil {
		return err
	}
	if found.IsAbsent() {
		return nil
	}

	seq := s.updateSequenceID()
	commits := make([]jira.Commit, len(data.Commits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(commitFetchConcurrency)
	for i, pushed := range data.Commits {
		g.Go(func() error {
			full, err := s.github.GetCommit(gctx, data.InstallationID, data.Repository, pushed.ID)
			if err != nil {
				return fmt.Errorf("failed to fetch commit %s: %w", pushed.ID, err)
			}
			commits[i] = transforms.PushCommit(full, pushed.IssueKeys, seq)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	batcher, err := s.batcher(ctx, logger, data.InstallationID, data.JiraHost)
	if err != nil {
		return err
	}
	payload := transforms.RepositoryPayload(data.Repository, seq)
	payload.Commits = commits

	err = batcher.SubmitRepository(ctx, payload, jira.SubmitOptions{})
	s.metrics.RecordSubmission(ctx, "devinfo", err)
	if err != nil {
		return err
	}
	s.enqueueProjectKeys(logger, data.JiraHost, payload.AllIssueKeys())
	logger.Info("Push processed", "commits", len(commits))
	return nil
}
