// internal/github/client.go
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github-jira-sync/internal/model"
)

const (
	defaultPageSize = 50
	// GitHub's maximum page size for the files of a single commit.
	commitFilesPerPage = 100
	// Branch and pull request pages fan out into per-item lookups bounded by this.
	detailConcurrency = 4
	installationCacheSize   = 1024
	installationCacheTTL    = time.Hour
)

// Config describes the GitHub App the client authenticates as.
type Config struct {
	AppID      int64
	PrivateKey string
	// BaseURL points at GitHub Enterprise or a test server; empty means github.com.
	BaseURL  string
	PageSize int
	// Transport is the base round tripper, http.DefaultTransport when nil.
	Transport http.RoundTripper
}

// Client is a wrapper around the go-github client that acts on behalf of
// individual installations of a GitHub App.
type Client struct {
	app           *github.Client
	logger        *slog.Logger
	baseURL       string
	pageSize      int
	transport     http.RoundTripper
	installations *expirable.LRU[int64, *github.Client]
}

// NewClient creates and configures a new Client instance.
// The app JWT is signed with the configured private key and used to mint
// installation tokens on demand.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	appTokens, err := newAppTokenSource(cfg.AppID, cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	c := &Client{
		logger:        logger,
		baseURL:       cfg.BaseURL,
		pageSize:      pageSize,
		transport:     newRetryTransport(cfg.Transport, logger),
		installations: expirable.NewLRU[int64, *github.Client](installationCacheSize, nil, installationCacheTTL),
	}

	app, err := c.newGitHub(&oauth2.Transport{
		Source: oauth2.ReuseTokenSourceWithExpiry(nil, appTokens, tokenEarlyExpiry),
		Base:   c.transport,
	})
	if err != nil {
		return nil, err
	}
	c.app = app
	return c, nil
}

func (c *Client) newGitHub(rt http.RoundTripper) (*github.Client, error) {
	gh := github.NewClient(&http.Client{Transport: rt})
	if c.baseURL == "" {
		return gh, nil
	}
	gh, err := gh.WithEnterpriseURLs(c.baseURL, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub base URL %q: %w", c.baseURL, err)
	}
	return gh, nil
}

// forInstallation returns a client authenticated as the installation, reusing
// cached clients so installation tokens are shared between jobs.
func (c *Client) forInstallation(installationID int64) (*github.Client, error) {
	if gh, ok := c.installations.Get(installationID); ok {
		return gh, nil
	}
	ts := oauth2.ReuseTokenSourceWithExpiry(nil, &installationTokenSource{app: c.app, installationID: installationID}, tokenEarlyExpiry)
	gh, err := c.newGitHub(&oauth2.Transport{Source: ts, Base: c.transport})
	if err != nil {
		return nil, err
	}
	c.installations.Add(installationID, gh)
	return gh, nil
}

// ListRepositories fetches every repository the installation can access.
// It handles API pagination transparently.
func (c *Client) ListRepositories(ctx context.Context, installationID int64) ([]model.Repository, error) {
	gh, err := c.forInstallation(installationID)
	if err != nil {
		return nil, err
	}

	var all []model.Repository
	opts := &github.ListOptions{PerPage: 100}
	for {
		c.logger.Debug("Fetching installation repositories page", "installation_id", installationID, "page", opts.Page)

		repos, resp, err := gh.Apps.ListRepos(ctx, opts)
		if err != nil {
			return nil, err
		}
		for _, r := range repos.Repositories {
			all = append(all, toInternalRepository(r))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// ListBranches fetches one page of branches, each with its head commit and the
// title of a pull request opened from it, if any.
func (c *Client) ListBranches(ctx context.Context, installationID int64, repo model.Repository, cursor string) (model.Page[model.Branch], error) {
	var page model.Page[model.Branch]
	gh, opts, err := c.pageRequest(installationID, cursor)
	if err != nil {
		return page, err
	}

	branches, resp, err := gh.Repositories.ListBranches(ctx, repo.Owner, repo.Name, &github.BranchListOptions{ListOptions: opts})
	if err != nil {
		return page, err
	}

	items := make([]model.Branch, len(branches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailConcurrency)
	for i, b := range branches {
		g.Go(func() error {
			branch, err := c.branchDetails(gctx, gh, repo, b)
			if err != nil {
				return err
			}
			items[i] = branch
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return page, err
	}

	page.Items = items
	page.NextCursor = nextCursor(resp)
	return page, nil
}

func (c *Client) branchDetails(ctx context.Context, gh *github.Client, repo model.Repository, b *github.Branch) (model.Branch, error) {
	sha := b.GetCommit().GetSHA()
	branch := model.Branch{Name: b.GetName()}

	commit, _, err := gh.Repositories.GetCommit(ctx, repo.Owner, repo.Name, sha, nil)
	if err != nil {
		return branch, fmt.Errorf("failed to get head commit of branch %s: %w", b.GetName(), err)
	}
	branch.LastCommit = toInternalCommit(commit)

	pulls, _, err := gh.PullRequests.ListPullRequestsWithCommit(ctx, repo.Owner, repo.Name, sha, &github.ListOptions{PerPage: 1})
	if err != nil {
		return branch, fmt.Errorf("failed to list pull requests for branch %s: %w", b.GetName(), err)
	}
	if len(pulls) > 0 {
		branch.PullRequestTitle = pulls[0].GetTitle()
	}
	return branch, nil
}

// ListCommits fetches one page of the default branch history, newest first.
func (c *Client) ListCommits(ctx context.Context, installationID int64, repo model.Repository, cursor string) (model.Page[model.Commit], error) {
	var page model.Page[model.Commit]
	gh, opts, err := c.pageRequest(installationID, cursor)
	if err != nil {
		return page, err
	}

	commits, resp, err := gh.Repositories.ListCommits(ctx, repo.Owner, repo.Name, &github.CommitsListOptions{
		SHA:         repo.DefaultBranch,
		ListOptions: opts,
	})
	if err != nil {
		if isStatus(err, http.StatusConflict) {
			// An empty repository has no history to page through.
			return page, nil
		}
		return page, err
	}

	for _, commit := range commits {
		page.Items = append(page.Items, toInternalCommit(commit))
	}
	page.NextCursor = nextCursor(resp)
	return page, nil
}

// ListPullRequests fetches one page of pull requests in every state.
func (c *Client) ListPullRequests(ctx context.Context, installationID int64, repo model.Repository, cursor string) (model.Page[model.PullRequest], error) {
	var page model.Page[model.PullRequest]
	gh, opts, err := c.pageRequest(installationID, cursor)
	if err != nil {
		return page, err
	}

	pulls, resp, err := gh.PullRequests.List(ctx, repo.Owner, repo.Name, &github.PullRequestListOptions{
		State:       "all",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: opts,
	})
	if err != nil {
		return page, err
	}

	// The list endpoint omits comment counts, so each pull request is fetched on its own.
	items := make([]model.PullRequest, len(pulls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailConcurrency)
	for i, pr := range pulls {
		g.Go(func() error {
			full, _, err := gh.PullRequests.Get(gctx, repo.Owner, repo.Name, pr.GetNumber())
			if err != nil {
				return fmt.Errorf("failed to get pull request #%d: %w", pr.GetNumber(), err)
			}
			items[i] = toInternalPullRequest(full)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return page, err
	}

	page.Items = items
	page.NextCursor = nextCursor(resp)
	return page, nil
}

// GetCommit fetches a commit with its parents and the files of the first page.
// FileCount covers every page of files, which GitHub paginates for large commits.
func (c *Client) GetCommit(ctx context.Context, installationID int64, repo model.Repository, sha string) (model.Commit, error) {
	gh, err := c.forInstallation(installationID)
	if err != nil {
		return model.Commit{}, err
	}
	opts := &github.ListOptions{PerPage: commitFilesPerPage}
	commit, resp, err := gh.Repositories.GetCommit(ctx, repo.Owner, repo.Name, sha, opts)
	if err != nil {
		return model.Commit{}, err
	}
	out := toInternalCommit(commit)

	for resp != nil && resp.NextPage != 0 {
		opts.Page = resp.NextPage
		var more *github.RepositoryCommit
		more, resp, err = gh.Repositories.GetCommit(ctx, repo.Owner, repo.Name, sha, opts)
		if err != nil {
			return model.Commit{}, fmt.Errorf("failed to list files of commit %s page %d: %w", sha, opts.Page, err)
		}
		out.FileCount += len(more.Files)
	}
	return out, nil
}

// GetFile returns the decoded content of path on the default branch, or nil
// when the file does not exist.
func (c *Client) GetFile(ctx context.Context, installationID int64, repo model.Repository, path string) ([]byte, error) {
	gh, err := c.forInstallation(installationID)
	if err != nil {
		return nil, err
	}
	file, _, _, err := gh.Repositories.GetContents(ctx, repo.Owner, repo.Name, path, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if file == nil {
		return nil, nil
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return []byte(content), nil
}

func (c *Client) pageRequest(installationID int64, cursor string) (*github.Client, github.ListOptions, error) {
	opts := github.ListOptions{PerPage: c.pageSize, Page: 1}
	if cursor != "" {
		page, err := strconv.Atoi(cursor)
		if err != nil || page < 1 {
			return nil, opts, fmt.Errorf("invalid page cursor %q", cursor)
		}
		opts.Page = page
	}
	gh, err := c.forInstallation(installationID)
	return gh, opts, err
}

// nextCursor turns GitHub's Link header into the cursor of the following page.
func nextCursor(resp *github.Response) string {
	if resp == nil || resp.NextPage == 0 {
		return ""
	}
	return strconv.Itoa(resp.NextPage)
}

func isStatus(err error, status int) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == status
}

// toInternalRepository translates a github.Repository object to our internal model.Repository.
func toInternalRepository(r *github.Repository) model.Repository {
	return model.Repository{
		ID:            r.GetID(),
		NodeID:        r.GetNodeID(),
		Owner:         r.GetOwner().GetLogin(),
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		HTMLURL:       r.GetHTMLURL(),
		DefaultBranch: r.GetDefaultBranch(),
		UpdatedAt:     r.GetUpdatedAt().Time,
	}
}

// toInternalCommit translates a github.RepositoryCommit object to our internal model.Commit.
func toInternalCommit(c *github.RepositoryCommit) model.Commit {
	commit := model.Commit{
		SHA:     c.GetSHA(),
		Message: c.GetCommit().GetMessage(),
		Author: model.Author{
			Login:     c.GetAuthor().GetLogin(),
			Name:      c.GetCommit().GetAuthor().GetName(),
			Email:     c.GetCommit().GetAuthor().GetEmail(),
			AvatarURL: c.GetAuthor().GetAvatarURL(),
			HTMLURL:   c.GetAuthor().GetHTMLURL(),
		},
		AuthoredAt:  c.GetCommit().GetAuthor().GetDate().Time,
		URL:         c.GetHTMLURL(),
		FileCount:   len(c.Files),
		ParentCount: len(c.Parents),
	}
	for _, f := range c.Files {
		commit.Files = append(commit.Files, model.CommitFile{
			Filename:  f.GetFilename(),
			Status:    f.GetStatus(),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
			BlobURL:   f.GetBlobURL(),
		})
	}
	return commit
}

// toInternalPullRequest translates a github.PullRequest object to our internal model.PullRequest.
func toInternalPullRequest(pr *github.PullRequest) model.PullRequest {
	out := model.PullRequest{
		ID:          pr.GetID(),
		Number:      pr.GetNumber(),
		Title:       pr.GetTitle(),
		Body:        pr.GetBody(),
		State:       pr.GetState(),
		Draft:       pr.GetDraft(),
		HeadRef:     pr.GetHead().GetRef(),
		HeadSHA:     pr.GetHead().GetSHA(),
		HeadRepoURL: pr.GetHead().GetRepo().GetHTMLURL(),
		BaseRef:     pr.GetBase().GetRef(),
		URL:         pr.GetHTMLURL(),
		Author: model.Author{
			Login:     pr.GetUser().GetLogin(),
			Name:      pr.GetUser().GetName(),
			Email:     pr.GetUser().GetEmail(),
			AvatarURL: pr.GetUser().GetAvatarURL(),
			HTMLURL:   pr.GetUser().GetHTMLURL(),
		},
		CommentCount: pr.GetComments(),
		UpdatedAt:    pr.GetUpdatedAt().Time,
	}
	if pr.MergedAt != nil {
		merged := pr.MergedAt.Time
		out.MergedAt = &merged
	}
	return out
}
