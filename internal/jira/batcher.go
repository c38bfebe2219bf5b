// internal/jira/batcher.go
package jira

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

const (
	// IssueKeyLimit is the most issue keys Jira accepts on a single entity.
	IssueKeyLimit = 100
	// CommitChunkSize is the most commits sent in one devinfo request.
	CommitChunkSize = 400

	IssueKeyLimitWarning = "Exceeded issue key reference limit. Some issues may not be linked."
)

// Submitter is the subset of the Jira API the batcher sends requests through.
type Submitter interface {
	SubmitDevInfo(ctx context.Context, req DevInfoRequest) error
	SubmitBuilds(ctx context.Context, req BuildsRequest) error
	SubmitDeployments(ctx context.Context, req DeploymentsRequest) (*DeploymentsResponse, error)
}

// WarningRecorder stores a non-fatal warning on the subscription.
type WarningRecorder interface {
	SetSyncWarning(ctx context.Context, installationID int64, jiraHost, warning string) error
}

// Batcher enforces Jira's payload limits before submitting for one subscription.
type Batcher struct {
	api            Submitter
	warnings       WarningRecorder
	installationID int64
	jiraHost       string
	logger         *slog.Logger
}

func NewBatcher(api Submitter, warnings WarningRecorder, installationID int64, jiraHost string, logger *slog.Logger) *Batcher {
	return &Batcher{
		api:            api,
		warnings:       warnings,
		installationID: installationID,
		jiraHost:       jiraHost,
		logger:         logger,
	}
}

// SubmitRepository de-duplicates, truncates and chunks a repository payload and
// sends every chunk concurrently. The first failing chunk's error is returned
// once all chunks have finished.
func (b *Batcher) SubmitRepository(ctx context.Context, repo Repository, opts SubmitOptions) error {
	repo.Commits = DedupCommits(repo.Commits)
	dedupRepositoryIssueKeys(&repo)

	if exceedsIssueKeyLimit(&repo) {
		b.logger.Warn(IssueKeyLimitWarning, "repository_id", repo.ID)
		truncateRepositoryIssueKeys(&repo)
		b.recordWarning(ctx)
	}

	chunks := ChunkCommits(repo.Commits, CommitChunkSize)
	var g errgroup.Group
	for i, chunk := range chunks {
		payload := repo
		payload.Commits = chunk
		// Branches and pull requests only need to reach Jira once.
		if i > 0 {
			payload.Branches = nil
			payload.PullRequests = nil
		}
		req := DevInfoRequest{
			PreventTransitions: opts.PreventTransitions,
			OperationType:      opts.operationType(),
			Repositories:       []Repository{payload},
			Properties:         DevInfoProperties{InstallationID: b.installationID},
		}
		g.Go(func() error {
			return b.api.SubmitDevInfo(ctx, req)
		})
	}
	return g.Wait()
}

// SubmitBuilds sends builds as a single request after de-duplicating and truncating issue keys.
func (b *Batcher) SubmitBuilds(ctx context.Context, builds []Build, repositoryID int64, product string, opts SubmitOptions) error {
	truncated := false
	for i := range builds {
		builds[i].IssueKeys = Dedup(builds[i].IssueKeys)
		if len(builds[i].IssueKeys) > IssueKeyLimit {
			builds[i].IssueKeys = builds[i].IssueKeys[:IssueKeyLimit]
			truncated = true
		}
	}
	if truncated {
		b.logger.Warn(IssueKeyLimitWarning, "repository_id", repositoryID)
		b.recordWarning(ctx)
	}

	req := BuildsRequest{
		Builds:             builds,
		Properties:         SubmissionProperties{GitHubInstallationID: b.installationID, RepositoryID: repositoryID},
		PreventTransitions: opts.PreventTransitions,
		OperationType:      opts.operationType(),
	}
	if product != "" {
		req.ProviderMetadata = &ProviderMetadata{Product: product}
	}
	return b.api.SubmitBuilds(ctx, req)
}

// SubmitDeployments sends deployments as a single request after de-duplicating and truncating issue keys.
func (b *Batcher) SubmitDeployments(ctx context.Context, deployments []Deployment, repositoryID int64, opts SubmitOptions) (*DeploymentsResponse, error) {
	truncated := false
	for i := range deployments {
		deployments[i].IssueKeys = Dedup(deployments[i].IssueKeys)
		if len(deployments[i].IssueKeys) > IssueKeyLimit {
			deployments[i].IssueKeys = deployments[i].IssueKeys[:IssueKeyLimit]
			truncated = true
		}
	}
	if truncated {
		b.logger.Warn(IssueKeyLimitWarning, "repository_id", repositoryID)
		b.recordWarning(ctx)
	}

	return b.api.SubmitDeployments(ctx, DeploymentsRequest{
		Deployments:        deployments,
		Properties:         SubmissionProperties{GitHubInstallationID: b.installationID, RepositoryID: repositoryID},
		PreventTransitions: opts.PreventTransitions,
		OperationType:      opts.operationType(),
	})
}

func (b *Batcher) recordWarning(ctx context.Context) {
	if b.warnings == nil {
		return
	}
	if err := b.warnings.SetSyncWarning(ctx, b.installationID, b.jiraHost, IssueKeyLimitWarning); err != nil {
		b.logger.Error("Failed to record sync warning", "error", err)
	}
}

// Dedup returns xs without repeated elements, keeping the first occurrence.
func Dedup[T comparable](xs []T) []T {
	if xs == nil {
		return nil
	}
	seen := make(map[T]struct{}, len(xs))
	out := make([]T, 0, len(xs))
	for _, x := range xs {
		if _, ok := seen[x]; ok {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
	}
	return out
}

// DedupCommits drops commits whose id was already seen.
func DedupCommits(commits []Commit) []Commit {
	if commits == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(commits))
	out := make([]Commit, 0, len(commits))
	for _, c := range commits {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

// ChunkCommits splits commits into groups of at most size. It always returns at
// least one (possibly empty) chunk.
func ChunkCommits(commits []Commit, size int) [][]Commit {
	if len(commits) == 0 {
		return [][]Commit{commits}
	}
	chunks := make([][]Commit, 0, (len(commits)+size-1)/size)
	for start := 0; start < len(commits); start += size {
		end := min(start+size, len(commits))
		chunks = append(chunks, commits[start:end])
	}
	return chunks
}

func dedupRepositoryIssueKeys(repo *Repository) {
	repo.Commits = cloneCommits(repo.Commits)
	for i := range repo.Commits {
		repo.Commits[i].IssueKeys = Dedup(repo.Commits[i].IssueKeys)
	}
	repo.Branches = append([]Branch(nil), repo.Branches...)
	for i := range repo.Branches {
		repo.Branches[i].IssueKeys = Dedup(repo.Branches[i].IssueKeys)
		repo.Branches[i].LastCommit.IssueKeys = Dedup(repo.Branches[i].LastCommit.IssueKeys)
	}
	repo.PullRequests = append([]PullRequest(nil), repo.PullRequests...)
	for i := range repo.PullRequests {
		repo.PullRequests[i].IssueKeys = Dedup(repo.PullRequests[i].IssueKeys)
	}
}

func exceedsIssueKeyLimit(repo *Repository) bool {
	for _, c := range repo.Commits {
		if len(c.IssueKeys) > IssueKeyLimit {
			return true
		}
	}
	for _, b := range repo.Branches {
		if len(b.IssueKeys) > IssueKeyLimit || len(b.LastCommit.IssueKeys) > IssueKeyLimit {
			return true
		}
	}
	for _, p := range repo.PullRequests {
		if len(p.IssueKeys) > IssueKeyLimit {
			return true
		}
	}
	return false
}

func truncateRepositoryIssueKeys(repo *Repository) {
	for i := range repo.Commits {
		repo.Commits[i].IssueKeys = truncate(repo.Commits[i].IssueKeys)
	}
	for i := range repo.Branches {
		repo.Branches[i].IssueKeys = truncate(repo.Branches[i].IssueKeys)
		repo.Branches[i].LastCommit.IssueKeys = truncate(repo.Branches[i].LastCommit.IssueKeys)
	}
	for i := range repo.PullRequests {
		repo.PullRequests[i].IssueKeys = truncate(repo.PullRequests[i].IssueKeys)
	}
}

func truncate(keys []string) []string {
	if len(keys) > IssueKeyLimit {
		return keys[:IssueKeyLimit]
	}
	return keys
}

func cloneCommits(commits []Commit) []Commit {
	if commits == nil {
		return nil
	}
	return append([]Commit(nil), commits...)
}
