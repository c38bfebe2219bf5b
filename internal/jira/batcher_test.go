// internal/jira/batcher_test.go
package jira

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingSubmitter struct {
	mu          sync.Mutex
	devInfo     []DevInfoRequest
	builds      []BuildsRequest
	deployments []DeploymentsRequest
	failOn      int // 1-based devinfo call that fails; 0 never fails
	calls       int
}

func (r *recordingSubmitter) SubmitDevInfo(_ context.Context, req DevInfoRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.devInfo = append(r.devInfo, req)
	if r.failOn != 0 && r.calls == r.failOn {
		return errors.New("jira unavailable")
	}
	return nil
}

func (r *recordingSubmitter) SubmitBuilds(_ context.Context, req BuildsRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builds = append(r.builds, req)
	return nil
}

func (r *recordingSubmitter) SubmitDeployments(_ context.Context, req DeploymentsRequest) (*DeploymentsResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deployments = append(r.deployments, req)
	return &DeploymentsResponse{}, nil
}

type MockWarningRecorder struct {
	mock.Mock
}

func (m *MockWarningRecorder) SetSyncWarning(ctx context.Context, installationID int64, jiraHost, warning string) error {
	args := m.Called(ctx, installationID, jiraHost, warning)
	return args.Error(0)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makeCommits(n int) []Commit {
	commits := make([]Commit, n)
	for i := range commits {
		commits[i] = Commit{ID: fmt.Sprintf("sha-%d", i), IssueKeys: []string{"TEST-1"}}
	}
	return commits
}

func makeKeys(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("TEST-%d", i+1)
	}
	return keys
}

func TestDedup_Idempotent(t *testing.T) {
	inputs := [][]string{
		nil,
		{},
		{"A-1"},
		{"A-1", "A-1", "B-2", "A-1", "C-3", "B-2"},
	}
	for _, xs := range inputs {
		once := Dedup(xs)
		assert.Equal(t, once, Dedup(once))
		assert.LessOrEqual(t, len(once), len(xs))
	}
	assert.Equal(t, []string{"A-1", "B-2", "C-3"}, Dedup(inputs[3]))
}

func TestDedupCommits_FirstOccurrenceWins(t *testing.T) {
	commits := []Commit{
		{ID: "a", Message: "first"},
		{ID: "b"},
		{ID: "a", Message: "second"},
	}
	got := DedupCommits(commits)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Message)
	assert.Equal(t, "b", got[1].ID)
}

func TestChunkCommits(t *testing.T) {
	for _, n := range []int{0, 1, 399, 400, 401, 800, 1001} {
		t.Run(fmt.Sprintf("%d commits", n), func(t *testing.T) {
			chunks := ChunkCommits(makeCommits(n), CommitChunkSize)

			want := (n + CommitChunkSize - 1) / CommitChunkSize
			if want == 0 {
				want = 1
			}
			assert.Len(t, chunks, want)

			total := 0
			for _, c := range chunks {
				assert.LessOrEqual(t, len(c), CommitChunkSize)
				total += len(c)
			}
			assert.Equal(t, n, total)
		})
	}
}

func TestBatcher_SubmitRepository_Chunks(t *testing.T) {
	for _, n := range []int{0, 400, 401, 1200} {
		t.Run(fmt.Sprintf("%d commits", n), func(t *testing.T) {
			api := &recordingSubmitter{}
			b := NewBatcher(api, nil, 42, "https://test.atlassian.net", discardLogger())

			repo := Repository{
				ID:       "1",
				Name:     "repo",
				Commits:  makeCommits(n),
				Branches: []Branch{{ID: "main", IssueKeys: []string{"TEST-1"}}},
			}
			err := b.SubmitRepository(context.Background(), repo, SubmitOptions{PreventTransitions: true})
			require.NoError(t, err)

			want := max(1, (n+CommitChunkSize-1)/CommitChunkSize)
			require.Len(t, api.devInfo, want)

			branchCarriers := 0
			for _, req := range api.devInfo {
				assert.True(t, req.PreventTransitions)
				assert.Equal(t, OperationNormal, req.OperationType)
				assert.Equal(t, int64(42), req.Properties.InstallationID)
				require.Len(t, req.Repositories, 1)
				assert.LessOrEqual(t, len(req.Repositories[0].Commits), CommitChunkSize)
				branchCarriers += len(req.Repositories[0].Branches)
			}
			assert.Equal(t, 1, branchCarriers)
		})
	}
}

func TestBatcher_SubmitRepository_DedupsCommitsAcrossPages(t *testing.T) {
	api := &recordingSubmitter{}
	b := NewBatcher(api, nil, 1, "https://test.atlassian.net", discardLogger())

	repo := Repository{ID: "1", Commits: []Commit{
		{ID: "a", IssueKeys: []string{"TEST-1", "TEST-1"}},
		{ID: "a", IssueKeys: []string{"TEST-2"}},
	}}
	require.NoError(t, b.SubmitRepository(context.Background(), repo, SubmitOptions{}))

	require.Len(t, api.devInfo, 1)
	commits := api.devInfo[0].Repositories[0].Commits
	require.Len(t, commits, 1)
	assert.Equal(t, []string{"TEST-1"}, commits[0].IssueKeys)
}

func TestBatcher_SubmitRepository_TruncatesIssueKeys(t *testing.T) {
	ctx := context.Background()
	warnings := new(MockWarningRecorder)
	warnings.On("SetSyncWarning", ctx, int64(7), "https://test.atlassian.net", IssueKeyLimitWarning).Return(nil).Once()

	api := &recordingSubmitter{}
	b := NewBatcher(api, warnings, 7, "https://test.atlassian.net", discardLogger())

	repo := Repository{
		ID:      "1",
		Commits: []Commit{{ID: "a", IssueKeys: makeKeys(150)}, {ID: "b", IssueKeys: makeKeys(3)}},
		Branches: []Branch{{
			ID:         "main",
			IssueKeys:  makeKeys(101),
			LastCommit: Commit{ID: "c", IssueKeys: makeKeys(250)},
		}},
		PullRequests: []PullRequest{{ID: "1", IssueKeys: makeKeys(120)}},
	}
	require.NoError(t, b.SubmitRepository(ctx, repo, SubmitOptions{}))

	sent := api.devInfo[0].Repositories[0]
	for _, c := range sent.Commits {
		assert.LessOrEqual(t, len(c.IssueKeys), IssueKeyLimit)
	}
	assert.Equal(t, makeKeys(100), sent.Commits[0].IssueKeys)
	assert.Len(t, sent.Commits[1].IssueKeys, 3)
	assert.Len(t, sent.Branches[0].IssueKeys, IssueKeyLimit)
	assert.Len(t, sent.Branches[0].LastCommit.IssueKeys, IssueKeyLimit)
	assert.Len(t, sent.PullRequests[0].IssueKeys, IssueKeyLimit)
	warnings.AssertExpectations(t)

	// the caller's payload is left untouched
	assert.Len(t, repo.Commits[0].IssueKeys, 150)
}

func TestBatcher_SubmitRepository_NoWarningWithinLimit(t *testing.T) {
	warnings := new(MockWarningRecorder)
	api := &recordingSubmitter{}
	b := NewBatcher(api, warnings, 7, "https://test.atlassian.net", discardLogger())

	repo := Repository{ID: "1", Commits: []Commit{{ID: "a", IssueKeys: makeKeys(IssueKeyLimit)}}}
	require.NoError(t, b.SubmitRepository(context.Background(), repo, SubmitOptions{}))

	warnings.AssertNotCalled(t, "SetSyncWarning", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBatcher_SubmitRepository_SurfacesChunkFailure(t *testing.T) {
	api := &recordingSubmitter{failOn: 2}
	b := NewBatcher(api, nil, 1, "https://test.atlassian.net", discardLogger())

	err := b.SubmitRepository(context.Background(), Repository{ID: "1", Commits: makeCommits(1000)}, SubmitOptions{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "jira unavailable")
	// every chunk is still attempted
	assert.Len(t, api.devInfo, 3)
}

func TestBatcher_SubmitBuildsAndDeployments(t *testing.T) {
	ctx := context.Background()
	warnings := new(MockWarningRecorder)
	warnings.On("SetSyncWarning", ctx, int64(3), "https://test.atlassian.net", IssueKeyLimitWarning).Return(errors.New("db down")).Twice()

	api := &recordingSubmitter{}
	b := NewBatcher(api, warnings, 3, "https://test.atlassian.net", discardLogger())

	keys := append(makeKeys(120), "TEST-1")
	err := b.SubmitBuilds(ctx, []Build{{PipelineID: "1", IssueKeys: keys}}, 99, "GitHub Actions", SubmitOptions{})
	require.NoError(t, err)
	_, err = b.SubmitDeployments(ctx, []Deployment{{DisplayName: "d", IssueKeys: keys}}, 99, SubmitOptions{OperationType: OperationBackfill})
	require.NoError(t, err)

	require.Len(t, api.builds, 1)
	assert.Len(t, api.builds[0].Builds[0].IssueKeys, IssueKeyLimit)
	assert.Equal(t, SubmissionProperties{GitHubInstallationID: 3, RepositoryID: 99}, api.builds[0].Properties)
	assert.Equal(t, "GitHub Actions", api.builds[0].ProviderMetadata.Product)

	require.Len(t, api.deployments, 1)
	assert.Len(t, api.deployments[0].Deployments[0].IssueKeys, IssueKeyLimit)
	assert.Equal(t, OperationBackfill, api.deployments[0].OperationType)
	warnings.AssertExpectations(t)
}
