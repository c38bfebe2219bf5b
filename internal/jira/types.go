// internal/jira/types.go
package jira

import (
	"time"
)

// Operation types accepted by the bulk endpoints.
const (
	OperationNormal   = "NORMAL"
	OperationBackfill = "BACKFILL"
)

// FlagMergeCommit marks commits with more than one parent.
const FlagMergeCommit = "MERGE_COMMIT"

type Author struct {
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	URL      string `json:"url,omitempty"`
}

type File struct {
	Path         string `json:"path"`
	URL          string `json:"url"`
	ChangeType   string `json:"changeType"`
	LinesAdded   int    `json:"linesAdded"`
	LinesRemoved int    `json:"linesRemoved"`
}

type Commit struct {
	ID               string    `json:"id"`
	Hash             string    `json:"hash"`
	DisplayID        string    `json:"displayId"`
	Message          string    `json:"message"`
	Author           Author    `json:"author"`
	AuthorTimestamp  time.Time `json:"authorTimestamp"`
	URL              string    `json:"url"`
	FileCount        int       `json:"fileCount"`
	Files            []File    `json:"files,omitempty"`
	Flags            []string  `json:"flags,omitempty"`
	IssueKeys        []string  `json:"issueKeys"`
	UpdateSequenceID int64     `json:"updateSequenceId"`
}

type Branch struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	IssueKeys            []string `json:"issueKeys"`
	URL                  string   `json:"url"`
	CreatePullRequestURL string   `json:"createPullRequestUrl"`
	LastCommit           Commit   `json:"lastCommit"`
	UpdateSequenceID     int64    `json:"updateSequenceId"`
}

type PullRequest struct {
	ID                   string    `json:"id"`
	DisplayID            string    `json:"displayId"`
	IssueKeys            []string  `json:"issueKeys"`
	Status               string    `json:"status"`
	Title                string    `json:"title"`
	URL                  string    `json:"url"`
	Author               Author    `json:"author"`
	CommentCount         int       `json:"commentCount"`
	SourceBranch         string    `json:"sourceBranch"`
	SourceBranchURL      string    `json:"sourceBranchUrl"`
	DestinationBranch    string    `json:"destinationBranch"`
	DestinationBranchURL string    `json:"destinationBranchUrl"`
	LastUpdate           time.Time `json:"lastUpdate"`
	UpdateSequenceID     int64     `json:"updateSequenceId"`
}

// Repository is the DevInfo payload for one GitHub repository.
type Repository struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	URL              string        `json:"url"`
	Branches         []Branch      `json:"branches,omitempty"`
	Commits          []Commit      `json:"commits,omitempty"`
	PullRequests     []PullRequest `json:"pullRequests,omitempty"`
	UpdateSequenceID int64         `json:"updateSequenceId"`
}

// IsEmpty reports whether the payload carries no linkable entities.
func (r *Repository) IsEmpty() bool {
	return r == nil || (len(r.Branches) == 0 && len(r.Commits) == 0 && len(r.PullRequests) == 0)
}

// AllIssueKeys returns every issue key referenced by the payload, possibly repeated.
func (r *Repository) AllIssueKeys() []string {
	var keys []string
	for _, b := range r.Branches {
		keys = append(keys, b.IssueKeys...)
		keys = append(keys, b.LastCommit.IssueKeys...)
	}
	for _, c := range r.Commits {
		keys = append(keys, c.IssueKeys...)
	}
	for _, p := range r.PullRequests {
		keys = append(keys, p.IssueKeys...)
	}
	return keys
}

type DevInfoProperties struct {
	InstallationID int64 `json:"installationId"`
}

// DevInfoRequest is the body of POST /rest/devinfo/0.10/bulk.
type DevInfoRequest struct {
	PreventTransitions bool              `json:"preventTransitions"`
	OperationType      string            `json:"operationType,omitempty"`
	Repositories       []Repository      `json:"repositories"`
	Properties         DevInfoProperties `json:"properties"`
}

type CommitReference struct {
	ID            string `json:"id"`
	RepositoryURI string `json:"repositoryUri"`
}

type RefReference struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

type BuildReference struct {
	Commit CommitReference `json:"commit"`
	Ref    RefReference    `json:"ref"`
}

type Build struct {
	SchemaVersion        string           `json:"schemaVersion"`
	PipelineID           string           `json:"pipelineId"`
	BuildNumber          int              `json:"buildNumber"`
	UpdateSequenceNumber int64            `json:"updateSequenceNumber"`
	DisplayName          string           `json:"displayName"`
	URL                  string           `json:"url"`
	State                string           `json:"state"`
	LastUpdated          time.Time        `json:"lastUpdated"`
	IssueKeys            []string         `json:"issueKeys"`
	References           []BuildReference `json:"references,omitempty"`
}

type SubmissionProperties struct {
	GitHubInstallationID int64 `json:"gitHubInstallationId"`
	RepositoryID         int64 `json:"repositoryId"`
}

type ProviderMetadata struct {
	Product string `json:"product,omitempty"`
}

// BuildsRequest is the body of POST /rest/builds/0.1/bulk.
type BuildsRequest struct {
	Builds             []Build              `json:"builds"`
	Properties         SubmissionProperties `json:"properties"`
	ProviderMetadata   *ProviderMetadata    `json:"providerMetadata,omitempty"`
	PreventTransitions bool                 `json:"preventTransitions"`
	OperationType      string               `json:"operationType,omitempty"`
}

type Pipeline struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	URL         string `json:"url"`
}

type Environment struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Type        string `json:"type"`
}

type Deployment struct {
	SchemaVersion            string      `json:"schemaVersion"`
	DeploymentSequenceNumber int64       `json:"deploymentSequenceNumber"`
	UpdateSequenceNumber     int64       `json:"updateSequenceNumber"`
	IssueKeys                []string    `json:"issueKeys"`
	DisplayName              string      `json:"displayName"`
	URL                      string      `json:"url"`
	Description              string      `json:"description"`
	LastUpdated              time.Time   `json:"lastUpdated"`
	State                    string      `json:"state"`
	Pipeline                 Pipeline    `json:"pipeline"`
	Environment              Environment `json:"environment"`
}

// DeploymentsRequest is the body of POST /rest/deployments/0.1/bulk.
type DeploymentsRequest struct {
	Deployments        []Deployment         `json:"deployments"`
	Properties         SubmissionProperties `json:"properties"`
	PreventTransitions bool                 `json:"preventTransitions"`
	OperationType      string               `json:"operationType,omitempty"`
}

type RejectedDeployment struct {
	Key    map[string]any `json:"key"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type DeploymentsResponse struct {
	AcceptedDeployments []map[string]any     `json:"acceptedDeployments,omitempty"`
	RejectedDeployments []RejectedDeployment `json:"rejectedDeployments,omitempty"`
	UnknownIssueKeys    []string             `json:"unknownIssueKeys,omitempty"`
}

// SubmitOptions are forwarded to every bulk request.
type SubmitOptions struct {
	PreventTransitions bool
	OperationType      string
}

func (o SubmitOptions) operationType() string {
	if o.OperationType == "" {
		return OperationNormal
	}
	return o.OperationType
}
