// internal/syncer/webhooks.go
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	custom_errors "github-jira-sync/internal/errors"
	"github-jira-sync/internal/github"
	"github-jira-sync/internal/jira"
	"github-jira-sync/internal/model"
	"github-jira-sync/internal/queue"
	"github-jira-sync/internal/transforms"
)

// WebhookResult summarises what a delivery caused across the installation's subscriptions.
type WebhookResult struct {
	Subscriptions int  `json:"subscriptions"`
	Processed     int  `json:"processed"`
	Failed        int  `json:"failed"`
	TimedOut      bool `json:"timedOut"`
}

// HandleEvent routes a webhook to every Jira site the installation is linked to.
// Pushes are enqueued; workflow runs and deployments are submitted directly.
// A site that fails is logged and counted, and the remaining sites still get
// the event. Once deadline passes the remaining subscriptions are skipped; work
// already enqueued or submitted is unaffected.
func (s *Syncer) HandleEvent(ctx context.Context, event *github.Event, webhookID string, deadline time.Time) (WebhookResult, error) {
	var result WebhookResult
	if webhookID == "" {
		webhookID = uuid.NewString()
	}
	logger := s.logger.With("installation_id", event.InstallationID, "repository_id", event.Repository.ID, "event", event.Kind, "webhook_id", webhookID)
	s.metrics.RecordWebhook(ctx, event.Kind)

	subs, err := s.store.GetAllForInstallation(ctx, event.InstallationID)
	if err != nil {
		return result, err
	}
	result.Subscriptions = len(subs)
	if len(subs) == 0 {
		logger.Info("No subscriptions for installation, ignoring webhook")
		return result, nil
	}

	submit, err := s.prepareEvent(ctx, logger, event, webhookID)
	if err != nil {
		return result, err
	}
	if submit == nil {
		return result, nil
	}

	for _, sub := range subs {
		if !deadline.IsZero() && s.now().After(deadline) {
			result.TimedOut = true
			logger.Warn("Webhook processing timed out", "processed", result.Processed, "subscriptions", len(subs))
			break
		}
		subLogger := logger.With("jira_host", sub.JiraHost)
		if err := submit(ctx, subLogger, sub); err != nil {
			result.Failed++
			var notFound *custom_errors.ErrInstallationNotFound
			if errors.As(err, &notFound) {
				subLogger.Debug("Jira site not installed, skipping")
				s.metrics.RecordWebhookSiteFailure(ctx, event.Kind, "skipped")
				continue
			}
			subLogger.Error("Failed to process webhook for subscription", "error", err)
			s.metrics.RecordWebhookSiteFailure(ctx, event.Kind, "error")
			continue
		}
		result.Processed++
	}
	return result, nil
}

type eventSubmitter func(ctx context.Context, logger *slog.Logger, sub model.Subscription) error

// prepareEvent does the per-delivery work once and returns the per-subscription
// step, or nil when the event references no issue.
func (s *Syncer) prepareEvent(ctx context.Context, logger *slog.Logger, event *github.Event, webhookID string) (eventSubmitter, error) {
	switch event.Kind {
	case github.EventPush:
		return s.pushSubmitter(event, webhookID), nil
	case github.EventWorkflowRun:
		return s.workflowSubmitter(logger, event), nil
	case github.EventDeploymentStatus:
		return s.deploymentSubmitter(ctx, logger, event)
	}
	logger.Debug("Ignoring unsupported event")
	return nil, nil
}

func (s *Syncer) pushSubmitter(event *github.Event, webhookID string) eventSubmitter {
	return func(ctx context.Context, logger *slog.Logger, sub model.Subscription) error {
		job, ok := PushJobFor(event.InstallationID, sub.JiraHost, event.Repository, event.Commits, webhookID)
		if !ok {
			logger.Debug("Push references no issues")
			return nil
		}
		if _, err := s.queue.Add(job, queue.AddOptions{RemoveOnComplete: true}); err != nil {
			return err
		}
		logger.Info("Push enqueued", "commits", len(job.Commits))
		return nil
	}
}

func (s *Syncer) workflowSubmitter(logger *slog.Logger, event *github.Event) eventSubmitter {
	build := transforms.Workflow(*event.WorkflowRun, s.updateSequenceID())
	if build == nil {
		logger.Debug("Workflow run references no issues")
		return nil
	}
	return func(ctx context.Context, logger *slog.Logger, sub model.Subscription) error {
		batcher, err := s.batcher(ctx, logger, event.InstallationID, sub.JiraHost)
		if err != nil {
			return err
		}
		err = batcher.SubmitBuilds(ctx, []jira.Build{*build}, event.Repository.ID, transforms.BuildsProduct, jira.SubmitOptions{})
		s.metrics.RecordSubmission(ctx, "builds", err)
		if err != nil {
			return err
		}
		s.enqueueProjectKeys(logger, sub.JiraHost, build.IssueKeys)
		return nil
	}
}

func (s *Syncer) deploymentSubmitter(ctx context.Context, logger *slog.Logger, event *github.Event) (eventSubmitter, error) {
	d := *event.Deployment
	if d.CommitMessage == "" && d.SHA != "" {
		c, err := s.github.GetCommit(ctx, event.InstallationID, event.Repository, d.SHA)
		if err != nil {
			return nil, err
		}
		d.CommitMessage = c.Message
	}

	deployment := transforms.Deployment(d, s.repoConfig(ctx, logger, event.InstallationID, event.Repository))
	if deployment == nil {
		logger.Debug("Deployment references no issues")
		return nil, nil
	}
	return func(ctx context.Context, logger *slog.Logger, sub model.Subscription) error {
		batcher, err := s.batcher(ctx, logger, event.InstallationID, sub.JiraHost)
		if err != nil {
			return err
		}
		resp, err := batcher.SubmitDeployments(ctx, []jira.Deployment{*deployment}, event.Repository.ID, jira.SubmitOptions{})
		s.metrics.RecordSubmission(ctx, "deployments", err)
		if err != nil {
			return err
		}
		if resp != nil && len(resp.RejectedDeployments) > 0 {
			logger.Warn("Jira rejected deployment", "rejected", resp.RejectedDeployments)
		}
		s.enqueueProjectKeys(logger, sub.JiraHost, deployment.IssueKeys)
		return nil
	}, nil
}

// repoConfig loads the repository's deployment settings. A missing or invalid
// file falls back to the built-in environment mapping.
func (s *Syncer) repoConfig(ctx context.Context, logger *slog.Logger, installationID int64, repo model.Repository) *transforms.RepoConfig {
	raw, err := s.github.GetFile(ctx, installationID, repo, transforms.RepoConfigPath)
	if err != nil {
		logger.Warn("Failed to fetch repository config", "path", transforms.RepoConfigPath, "error", err)
		return nil
	}
	if raw == nil {
		return nil
	}
	cfg, err := transforms.ParseRepoConfig(raw)
	if err != nil {
		logger.Warn("Ignoring invalid repository config", "path", transforms.RepoConfigPath, "error", err)
		return nil
	}
	return cfg
}
