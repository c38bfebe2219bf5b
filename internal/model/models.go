// internal/model/models.go
package model

import (
	"time"
)

// Repository represents a GitHub repository visible to an installation.
type Repository struct {
	ID            int64     `json:"id"`
	NodeID        string    `json:"nodeId,omitempty"`
	Owner         string    `json:"owner"`
	Name          string    `json:"name"`
	FullName      string    `json:"fullName"`
	HTMLURL       string    `json:"htmlUrl"`
	DefaultBranch string    `json:"defaultBranch,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`
}

// Author is a GitHub user or git identity.
type Author struct {
	Login     string
	Name      string
	Email     string
	AvatarURL string
	HTMLURL   string
}

type CommitFile struct {
	Filename  string
	Status    string
	Additions int
	Deletions int
	BlobURL   string
}

type Commit struct {
	SHA         string
	Message     string
	Author      Author
	AuthoredAt  time.Time
	URL         string
	FileCount   int
	Files       []CommitFile
	ParentCount int
}

// Branch is a branch head together with its most recent commit.
type Branch struct {
	Name             string
	LastCommit       Commit
	PullRequestTitle string
}

type PullRequest struct {
	ID           int64
	Number       int
	Title        string
	Body         string
	State        string
	Draft        bool
	MergedAt     *time.Time
	HeadRef      string
	HeadSHA      string
	HeadRepoURL  string
	BaseRef      string
	URL          string
	Author       Author
	CommentCount int
	UpdatedAt    time.Time
}

// PullRequestRef is the head of a pull request attached to a workflow run.
type PullRequestRef struct {
	HeadRef     string
	HeadSHA     string
	HeadRepoURL string
}

type WorkflowRun struct {
	ID                int64
	WorkflowID        int64
	Name              string
	HeadBranch        string
	HeadSHA           string
	HeadCommitMessage string
	Status            string
	Conclusion        string
	HTMLURL           string
	RunNumber         int
	UpdatedAt         time.Time
	PullRequests      []PullRequestRef
}

// Deployment is a GitHub deployment joined with the status that triggered the event.
type Deployment struct {
	ID                int64
	SHA               string
	Ref               string
	Task              string
	Description       string
	URL               string
	CommitMessage     string
	StatusID          int64
	State             string
	Environment       string
	TargetURL         string
	StatusDescription string
	UpdatedAt         time.Time
}

// Page is one page of a paged upstream listing. An empty NextCursor marks the last page.
type Page[T any] struct {
	Items      []T
	NextCursor string
}
