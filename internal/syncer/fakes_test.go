// internal/syncer/fakes_test.go
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/samber/mo"

	"github-jira-sync/internal/jira"
	"github-jira-sync/internal/model"
	"github-jira-sync/internal/queue"
	"github-jira-sync/internal/store"
)

const testHost = "https://example.atlassian.net"

var testRepo = model.Repository{
	ID:            42,
	Owner:         "acme",
	Name:          "repoA",
	FullName:      "acme/repoA",
	HTMLURL:       "https://github.com/acme/repoA",
	DefaultBranch: "main",
}

// fakeStore keeps subscriptions in memory and merges repo state patches the
// way the JSONB merge in the database does.
type fakeStore struct {
	mu       sync.Mutex
	subs     map[string]*model.Subscription
	statuses []model.SyncStatus
	warnings []string
	usage    map[string]int64
}

func newFakeStore(subs ...model.Subscription) *fakeStore {
	s := &fakeStore{subs: map[string]*model.Subscription{}, usage: map[string]int64{}}
	for _, sub := range subs {
		sub := sub
		if sub.RepoSyncState == nil {
			sub.RepoSyncState = model.RepoSyncState{}
		}
		s.subs[subKey(sub.GitHubInstallationID, sub.JiraHost)] = &sub
	}
	return s
}

func subKey(installationID int64, jiraHost string) string {
	return fmt.Sprintf("%d@%s", installationID, jiraHost)
}

func (s *fakeStore) byID(id int64) *model.Subscription {
	for _, sub := range s.subs {
		if sub.ID == id {
			return sub
		}
	}
	return nil
}

// clone deep-copies through JSON so callers never share state with the store.
func clone(sub model.Subscription) model.Subscription {
	data, _ := json.Marshal(sub.RepoSyncState)
	state := model.RepoSyncState{}
	_ = json.Unmarshal(data, &state)
	sub.RepoSyncState = state
	return sub
}

func (s *fakeStore) GetSingleInstallation(ctx context.Context, jiraHost string, installationID int64) (mo.Option[model.Subscription], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[subKey(installationID, jiraHost)]
	if !ok {
		return mo.None[model.Subscription](), nil
	}
	return mo.Some(clone(*sub)), nil
}

func (s *fakeStore) GetAllForInstallation(ctx context.Context, installationID int64) ([]model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Subscription
	for _, sub := range s.subs {
		if sub.GitHubInstallationID == installationID {
			out = append(out, clone(*sub))
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateSyncStatus(ctx context.Context, subscriptionID int64, status model.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.byID(subscriptionID)
	if sub == nil {
		return errors.New("no such subscription")
	}
	sub.SyncStatus = status
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *fakeStore) UpdateRepoState(ctx context.Context, subscriptionID, repositoryID int64, patch store.RepoStatePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.byID(subscriptionID)
	if sub == nil {
		return errors.New("no such subscription")
	}

	merged := map[string]any{}
	if current, ok := sub.RepoSyncState[model.RepoKey(repositoryID)]; ok {
		data, _ := json.Marshal(current)
		_ = json.Unmarshal(data, &merged)
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	var overlay map[string]any
	_ = json.Unmarshal(data, &overlay)
	for k, v := range overlay {
		merged[k] = v
	}

	data, _ = json.Marshal(merged)
	var state model.RepoState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	sub.RepoSyncState[model.RepoKey(repositoryID)] = &state
	return nil
}

func (s *fakeStore) SetSyncWarning(ctx context.Context, installationID int64, jiraHost, warning string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, warning)
	return nil
}

func (s *fakeStore) IncrementProjectKeys(ctx context.Context, jiraHost string, counts map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, n := range counts {
		s.usage[jiraHost+"/"+k] += n
	}
	return nil
}

func (s *fakeStore) get(installationID int64, jiraHost string) model.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(*s.subs[subKey(installationID, jiraHost)])
}

// fakeGitHub serves pages keyed by cursor and records every fetch.
type fakeGitHub struct {
	mu       sync.Mutex
	repos    []model.Repository
	branches map[string]model.Page[model.Branch]
	commits  map[string]model.Page[model.Commit]
	pulls    map[string]model.Page[model.PullRequest]
	detail   map[string]model.Commit
	files    map[string][]byte
	failOn   map[string]error
	fetched  []string
}

func (g *fakeGitHub) record(kind, cursor string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := kind + ":" + cursor
	g.fetched = append(g.fetched, key)
	return g.failOn[key]
}

func (g *fakeGitHub) ListRepositories(ctx context.Context, installationID int64) ([]model.Repository, error) {
	if err := g.record("repositories", ""); err != nil {
		return nil, err
	}
	return append([]model.Repository(nil), g.repos...), nil
}

func (g *fakeGitHub) ListBranches(ctx context.Context, installationID int64, repo model.Repository, cursor string) (model.Page[model.Branch], error) {
	if err := g.record("branches", cursor); err != nil {
		return model.Page[model.Branch]{}, err
	}
	return g.branches[cursor], nil
}

func (g *fakeGitHub) ListCommits(ctx context.Context, installationID int64, repo model.Repository, cursor string) (model.Page[model.Commit], error) {
	if err := g.record("commits", cursor); err != nil {
		return model.Page[model.Commit]{}, err
	}
	return g.commits[cursor], nil
}

func (g *fakeGitHub) ListPullRequests(ctx context.Context, installationID int64, repo model.Repository, cursor string) (model.Page[model.PullRequest], error) {
	if err := g.record("pulls", cursor); err != nil {
		return model.Page[model.PullRequest]{}, err
	}
	return g.pulls[cursor], nil
}

func (g *fakeGitHub) GetCommit(ctx context.Context, installationID int64, repo model.Repository, sha string) (model.Commit, error) {
	if err := g.record("commit", sha); err != nil {
		return model.Commit{}, err
	}
	c, ok := g.detail[sha]
	if !ok {
		return model.Commit{}, fmt.Errorf("commit %s not found", sha)
	}
	return c, nil
}

func (g *fakeGitHub) GetFile(ctx context.Context, installationID int64, repo model.Repository, path string) ([]byte, error) {
	if err := g.record("file", path); err != nil {
		return nil, err
	}
	return g.files[path], nil
}

func (g *fakeGitHub) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.fetched...)
}

// fakeJira records every request sent to the Jira site.
type fakeJira struct {
	mu          sync.Mutex
	devinfo     []jira.DevInfoRequest
	builds      []jira.BuildsRequest
	deployments []jira.DeploymentsRequest
	err         error
	// hostErrs fails client lookups for the listed sites.
	hostErrs    map[string]error
}

func (j *fakeJira) Client(ctx context.Context, jiraHost string) (jira.API, error) {
	if err := j.hostErrs[jiraHost]; err != nil {
		return nil, err
	}
	return j, nil
}

func (j *fakeJira) SubmitDevInfo(ctx context.Context, req jira.DevInfoRequest) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.devinfo = append(j.devinfo, req)
	return nil
}

func (j *fakeJira) SubmitBuilds(ctx context.Context, req jira.BuildsRequest) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.builds = append(j.builds, req)
	return j.err
}

func (j *fakeJira) SubmitDeployments(ctx context.Context, req jira.DeploymentsRequest) (*jira.DeploymentsResponse, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.deployments = append(j.deployments, req)
	return &jira.DeploymentsResponse{}, j.err
}

func (j *fakeJira) ExistsByProperties(ctx context.Context, installationID int64) (bool, error) {
	return true, nil
}

func (j *fakeJira) DeleteInstallation(ctx context.Context, installationID int64) error {
	return nil
}

// submittedCommitIDs lists commit ids across all devinfo requests, in order.
func (j *fakeJira) submittedCommitIDs() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var ids []string
	for _, req := range j.devinfo {
		for _, repo := range req.Repositories {
			for _, c := range repo.Commits {
				ids = append(ids, c.ID)
			}
		}
	}
	return ids
}

type addCall struct {
	data model.JobData
	opts queue.AddOptions
}

// fakeQueue records enqueued jobs instead of running them.
type fakeQueue struct {
	mu    sync.Mutex
	added []addCall
}

func (q *fakeQueue) Add(data model.JobData, opts queue.AddOptions) (bool, error) {
	if err := data.Validate(); err != nil {
		return false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.added = append(q.added, addCall{data: data, opts: opts})
	return true, nil
}

func (q *fakeQueue) jobsOn(lane model.Lane) []addCall {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []addCall
	for _, c := range q.added {
		if c.data.Lane() == lane {
			out = append(out, c)
		}
	}
	return out
}

type testEnv struct {
	syncer *Syncer
	store  *fakeStore
	github *fakeGitHub
	jira   *fakeJira
	queue  *fakeQueue
}

func newTestEnv(t *testing.T, subs ...model.Subscription) *testEnv {
	t.Helper()
	env := &testEnv{
		store:  newFakeStore(subs...),
		github: &fakeGitHub{failOn: map[string]error{}},
		jira:   &fakeJira{},
		queue:  &fakeQueue{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.syncer = New(env.store, env.github, env.jira, env.queue, nil, logger)
	env.syncer.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	return env
}

func testSubscription() model.Subscription {
	return model.Subscription{
		ID:                   1,
		GitHubInstallationID: 7,
		JiraHost:             testHost,
		SyncStatus:           model.SyncStatusPending,
	}
}
