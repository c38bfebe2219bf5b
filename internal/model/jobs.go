// internal/model/jobs.go
package model

import (
	"fmt"

	custom_errors "github-jira-sync/internal/errors"
)

// Lane names a queue lane. Each lane has its own worker pool.
type Lane string

const (
	LaneDiscovery    Lane = "discovery"
	LaneBranches     Lane = "branches"
	LaneCommits      Lane = "commits"
	LanePullRequests Lane = "pullRequests"
	LanePush         Lane = "push"
	LaneMetrics      Lane = "metrics"
)

// LaneFor returns the lane that syncs the given resource kind.
func LaneFor(kind ResourceKind) Lane {
	switch kind {
	case ResourceBranches:
		return LaneBranches
	case ResourceCommits:
		return LaneCommits
	default:
		return LanePullRequests
	}
}

// JobData is the payload of a queued job. Every lane accepts exactly one concrete type.
type JobData interface {
	Lane() Lane
	// Scope partitions job-id de-duplication, typically per installation and site.
	Scope() string
	Validate() error
}

// InstallationJob is implemented by payloads that act on behalf of one GitHub installation.
type InstallationJob interface {
	GitHubInstallation() int64
}

// DiscoveryMode selects between a fresh backfill and continuing existing cursors.
type DiscoveryMode string

const (
	DiscoveryFull   DiscoveryMode = "full"
	DiscoveryResume DiscoveryMode = "resume"
)

type DiscoveryJob struct {
	InstallationID int64
	JiraHost       string
	Mode           DiscoveryMode
}

func (j DiscoveryJob) Lane() Lane { return LaneDiscovery }

func (j DiscoveryJob) GitHubInstallation() int64 { return j.InstallationID }

func (j DiscoveryJob) Scope() string { return subscriptionScope(j.InstallationID, j.JiraHost) }

func (j DiscoveryJob) Validate() error {
	if err := validateTarget(LaneDiscovery, j.InstallationID, j.JiraHost); err != nil {
		return err
	}
	if j.Mode != DiscoveryFull && j.Mode != DiscoveryResume {
		return &custom_errors.ErrInvalidJob{Lane: string(LaneDiscovery), Reason: fmt.Sprintf("unknown mode %q", j.Mode)}
	}
	return nil
}

// DiscoveryJobID is the deterministic id of an installation's discovery job.
func DiscoveryJobID(installationID int64) string {
	return fmt.Sprintf("Discovery-%d", installationID)
}

// ResourceSyncJob backfills one resource kind of one repository.
type ResourceSyncJob struct {
	InstallationID int64
	JiraHost       string
	Repository     Repository
	Resource       ResourceKind
}

func (j ResourceSyncJob) Lane() Lane { return LaneFor(j.Resource) }

func (j ResourceSyncJob) GitHubInstallation() int64 { return j.InstallationID }

func (j ResourceSyncJob) Scope() string { return subscriptionScope(j.InstallationID, j.JiraHost) }

func (j ResourceSyncJob) Validate() error {
	lane := j.Lane()
	if err := validateTarget(lane, j.InstallationID, j.JiraHost); err != nil {
		return err
	}
	switch j.Resource {
	case ResourceBranches, ResourceCommits, ResourcePullRequests:
	default:
		return &custom_errors.ErrInvalidJob{Lane: string(lane), Reason: fmt.Sprintf("unknown resource %q", j.Resource)}
	}
	if j.Repository.ID == 0 || j.Repository.Name == "" {
		return &custom_errors.ErrInvalidJob{Lane: string(lane), Reason: "repository id and name are required"}
	}
	return nil
}

// ResourceJobID returns "<Kind>-<repositoryName>", e.g. "Branches-repoA".
func ResourceJobID(kind ResourceKind, repositoryName string) string {
	return kind.JobPrefix() + "-" + repositoryName
}

// PushCommit is the trimmed form of a pushed commit kept in the job payload.
type PushCommit struct {
	ID        string   `json:"id"`
	IssueKeys []string `json:"issueKeys"`
}

type PushJob struct {
	InstallationID int64
	JiraHost       string
	Repository     Repository
	Commits        []PushCommit
	WebhookID      string
}

func (j PushJob) Lane() Lane { return LanePush }

func (j PushJob) GitHubInstallation() int64 { return j.InstallationID }

func (j PushJob) Scope() string { return subscriptionScope(j.InstallationID, j.JiraHost) }

func (j PushJob) Validate() error {
	if err := validateTarget(LanePush, j.InstallationID, j.JiraHost); err != nil {
		return err
	}
	if len(j.Commits) == 0 {
		return &custom_errors.ErrInvalidJob{Lane: string(LanePush), Reason: "no commits"}
	}
	for _, c := range j.Commits {
		if c.ID == "" || len(c.IssueKeys) == 0 {
			return &custom_errors.ErrInvalidJob{Lane: string(LanePush), Reason: "commit without id or issue keys"}
		}
	}
	return nil
}

// MetricsJob records project key usage for a Jira site.
type MetricsJob struct {
	JiraHost    string
	ProjectKeys []string
}

func (j MetricsJob) Lane() Lane { return LaneMetrics }

func (j MetricsJob) Scope() string { return j.JiraHost }

func (j MetricsJob) Validate() error {
	if j.JiraHost == "" {
		return &custom_errors.ErrInvalidJob{Lane: string(LaneMetrics), Reason: "jira host is required"}
	}
	if len(j.ProjectKeys) == 0 {
		return &custom_errors.ErrInvalidJob{Lane: string(LaneMetrics), Reason: "no project keys"}
	}
	return nil
}

func subscriptionScope(installationID int64, jiraHost string) string {
	return fmt.Sprintf("%d@%s", installationID, jiraHost)
}

func validateTarget(lane Lane, installationID int64, jiraHost string) error {
	if installationID <= 0 {
		return &custom_errors.ErrInvalidJob{Lane: string(lane), Reason: "installation id is required"}
	}
	if jiraHost == "" {
		return &custom_errors.ErrInvalidJob{Lane: string(lane), Reason: "jira host is required"}
	}
	return nil
}
