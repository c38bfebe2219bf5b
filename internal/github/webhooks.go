// internal/github/webhooks.go
package github

import (
	"fmt"

	"github.com/google/go-github/v62/github"

	"github-jira-sync/internal/model"
)

// Webhook event names handled by the service.
const (
	EventPush             = "push"
	EventWorkflowRun      = "workflow_run"
	EventDeploymentStatus = "deployment_status"
)

// Event is the part of a webhook delivery the sync pipeline acts on.
// Exactly one of Commits, WorkflowRun or Deployment is set, matching Kind.
type Event struct {
	Kind           string
	InstallationID int64
	Repository     model.Repository
	Commits        []model.Commit
	WorkflowRun    *model.WorkflowRun
	Deployment     *model.Deployment
}

// ParseEvent decodes a webhook payload. Unsupported event types yield a nil
// event and no error so callers can acknowledge them.
func ParseEvent(eventType string, payload []byte) (*Event, error) {
	switch eventType {
	case EventPush, EventWorkflowRun, EventDeploymentStatus:
	default:
		return nil, nil
	}

	raw, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s webhook: %w", eventType, err)
	}

	switch e := raw.(type) {
	case *github.PushEvent:
		return pushEvent(e), nil
	case *github.WorkflowRunEvent:
		return workflowRunEvent(e), nil
	case *github.DeploymentStatusEvent:
		return deploymentStatusEvent(e), nil
	}
	return nil, nil
}

func pushEvent(e *github.PushEvent) *Event {
	repo := e.GetRepo()
	owner := repo.GetOwner().GetLogin()
	if owner == "" {
		owner = repo.GetOwner().GetName()
	}

	event := &Event{
		Kind:           EventPush,
		InstallationID: e.GetInstallation().GetID(),
		Repository: model.Repository{
			ID:            repo.GetID(),
			NodeID:        repo.GetNodeID(),
			Owner:         owner,
			Name:          repo.GetName(),
			FullName:      repo.GetFullName(),
			HTMLURL:       repo.GetHTMLURL(),
			DefaultBranch: repo.GetDefaultBranch(),
		},
	}
	for _, c := range e.Commits {
		event.Commits = append(event.Commits, model.Commit{
			SHA:     c.GetID(),
			Message: c.GetMessage(),
			Author: model.Author{
				Login: c.GetAuthor().GetLogin(),
				Name:  c.GetAuthor().GetName(),
				Email: c.GetAuthor().GetEmail(),
			},
			AuthoredAt: c.GetTimestamp().Time,
			URL:        c.GetURL(),
		})
	}
	return event
}

func workflowRunEvent(e *github.WorkflowRunEvent) *Event {
	run := e.GetWorkflowRun()
	wr := &model.WorkflowRun{
		ID:                run.GetID(),
		WorkflowID:        run.GetWorkflowID(),
		Name:              run.GetName(),
		HeadBranch:        run.GetHeadBranch(),
		HeadSHA:           run.GetHeadSHA(),
		HeadCommitMessage: run.GetHeadCommit().GetMessage(),
		Status:            run.GetStatus(),
		Conclusion:        run.GetConclusion(),
		HTMLURL:           run.GetHTMLURL(),
		RunNumber:         run.GetRunNumber(),
		UpdatedAt:         run.GetUpdatedAt().Time,
	}
	for _, pr := range run.PullRequests {
		wr.PullRequests = append(wr.PullRequests, model.PullRequestRef{
			HeadRef:     pr.GetHead().GetRef(),
			HeadSHA:     pr.GetHead().GetSHA(),
			HeadRepoURL: pr.GetHead().GetRepo().GetURL(),
		})
	}

	return &Event{
		Kind:           EventWorkflowRun,
		InstallationID: e.GetInstallation().GetID(),
		Repository:     toInternalRepository(e.GetRepo()),
		WorkflowRun:    wr,
	}
}

func deploymentStatusEvent(e *github.DeploymentStatusEvent) *Event {
	d := e.GetDeployment()
	s := e.GetDeploymentStatus()

	environment := s.GetEnvironment()
	if environment == "" {
		environment = d.GetEnvironment()
	}

	return &Event{
		Kind:           EventDeploymentStatus,
		InstallationID: e.GetInstallation().GetID(),
		Repository:     toInternalRepository(e.GetRepo()),
		Deployment: &model.Deployment{
			ID:                d.GetID(),
			SHA:               d.GetSHA(),
			Ref:               d.GetRef(),
			Task:              d.GetTask(),
			Description:       d.GetDescription(),
			URL:               d.GetURL(),
			StatusID:          s.GetID(),
			State:             s.GetState(),
			Environment:       environment,
			TargetURL:         s.GetTargetURL(),
			StatusDescription: s.GetDescription(),
			UpdatedAt:         s.GetUpdatedAt().Time,
		},
	}
}
