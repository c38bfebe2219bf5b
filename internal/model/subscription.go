// internal/model/subscription.go
package model

import (
	"strconv"
	"time"
)

// SyncStatus is the lifecycle state of a subscription's backfill.
type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "PENDING"
	SyncStatusActive   SyncStatus = "ACTIVE"
	SyncStatusComplete SyncStatus = "COMPLETE"
	SyncStatusFailed   SyncStatus = "FAILED"
)

// AllSyncStatuses lists every status in lifecycle order.
var AllSyncStatuses = []SyncStatus{SyncStatusPending, SyncStatusActive, SyncStatusComplete, SyncStatusFailed}

// ResourceStatus tracks one resource kind of one repository.
type ResourceStatus string

const (
	ResourceStatusPending  ResourceStatus = "pending"
	ResourceStatusComplete ResourceStatus = "complete"
)

// ResourceKind names a per-repository resource that is backfilled page by page.
type ResourceKind string

const (
	ResourceBranches     ResourceKind = "branches"
	ResourceCommits      ResourceKind = "commits"
	ResourcePullRequests ResourceKind = "pullRequests"
)

// AllResourceKinds is the fixed order discovery enqueues jobs in.
var AllResourceKinds = []ResourceKind{ResourceBranches, ResourceCommits, ResourcePullRequests}

// JobPrefix is the capitalised name used in deterministic job ids.
func (k ResourceKind) JobPrefix() string {
	switch k {
	case ResourceBranches:
		return "Branches"
	case ResourceCommits:
		return "Commits"
	case ResourcePullRequests:
		return "PullRequests"
	}
	return string(k)
}

// StatusKey and CursorKey are the RepoState JSON field names for the kind.
func (k ResourceKind) StatusKey() string {
	switch k {
	case ResourceBranches:
		return "branchStatus"
	case ResourceCommits:
		return "commitStatus"
	default:
		return "pullStatus"
	}
}

func (k ResourceKind) CursorKey() string {
	switch k {
	case ResourceBranches:
		return "lastBranchCursor"
	case ResourceCommits:
		return "lastCommitCursor"
	default:
		return "lastPullCursor"
	}
}

// RepoState is the resumable progress of one repository.
type RepoState struct {
	Repository       *Repository    `json:"repository,omitempty"`
	BranchStatus     ResourceStatus `json:"branchStatus,omitempty"`
	LastBranchCursor string         `json:"lastBranchCursor,omitempty"`
	CommitStatus     ResourceStatus `json:"commitStatus,omitempty"`
	LastCommitCursor string         `json:"lastCommitCursor,omitempty"`
	PullStatus       ResourceStatus `json:"pullStatus,omitempty"`
	LastPullCursor   string         `json:"lastPullCursor,omitempty"`
}

func (s RepoState) Status(kind ResourceKind) ResourceStatus {
	switch kind {
	case ResourceBranches:
		return s.BranchStatus
	case ResourceCommits:
		return s.CommitStatus
	default:
		return s.PullStatus
	}
}

func (s RepoState) Cursor(kind ResourceKind) string {
	switch kind {
	case ResourceBranches:
		return s.LastBranchCursor
	case ResourceCommits:
		return s.LastCommitCursor
	default:
		return s.LastPullCursor
	}
}

// PendingResources returns the kinds that have not reported their last page yet.
func (s RepoState) PendingResources() []ResourceKind {
	var pending []ResourceKind
	for _, kind := range AllResourceKinds {
		if s.Status(kind) != ResourceStatusComplete {
			pending = append(pending, kind)
		}
	}
	return pending
}

// RepoSyncState maps a repository id (decimal string, as stored in JSON) to its progress.
type RepoSyncState map[string]*RepoState

func RepoKey(repositoryID int64) string {
	return strconv.FormatInt(repositoryID, 10)
}

func (r RepoSyncState) Get(repositoryID int64) RepoState {
	if st, ok := r[RepoKey(repositoryID)]; ok && st != nil {
		return *st
	}
	return RepoState{}
}

// AllComplete reports whether every resource of every known repository finished.
func (r RepoSyncState) AllComplete() bool {
	for _, st := range r {
		if st == nil || len(st.PendingResources()) > 0 {
			return false
		}
	}
	return true
}

// Subscription links one GitHub installation to one Jira site.
type Subscription struct {
	ID                   int64
	GitHubInstallationID int64
	JiraHost             string
	SyncStatus           SyncStatus
	SyncWarning          string
	RepoSyncState        RepoSyncState
	SelectedRepositories []int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsStalled reports an ACTIVE sync that has not been touched within threshold.
func (s *Subscription) IsStalled(now time.Time, threshold time.Duration) bool {
	return s.SyncStatus == SyncStatusActive && s.UpdatedAt.Before(now.Add(-threshold))
}

// ProjectKeyUsage counts how often a sync touched issues of a Jira project.
type ProjectKeyUsage struct {
	ProjectKey  string
	JiraHost    string
	Occurrences int64
}

// JiraInstallation holds the Connect credentials a Jira site registered with.
type JiraInstallation struct {
	JiraHost     string
	ClientKey    string
	SharedSecret string
	Enabled      bool
}
