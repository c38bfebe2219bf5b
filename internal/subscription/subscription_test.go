// internal/subscription/subscription_test.go
package subscription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	custom_errors "github-jira-sync/internal/errors"
	"github-jira-sync/internal/jira"
	"github-jira-sync/internal/model"
	"github-jira-sync/internal/queue"
)

// MockStore is a mock of the Store interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Create(ctx context.Context, installationID int64, jiraHost string, selected []int64) (model.Subscription, error) {
	args := m.Called(ctx, installationID, jiraHost, selected)
	return args.Get(0).(model.Subscription), args.Error(1)
}
func (m *MockStore) MustGet(ctx context.Context, jiraHost string, installationID int64) (model.Subscription, error) {
	args := m.Called(ctx, jiraHost, installationID)
	return args.Get(0).(model.Subscription), args.Error(1)
}
func (m *MockStore) Delete(ctx context.Context, installationID int64, jiraHost string) (bool, error) {
	args := m.Called(ctx, installationID, jiraHost)
	return args.Bool(0), args.Error(1)
}
func (m *MockStore) UpdateSyncStatus(ctx context.Context, subscriptionID int64, status model.SyncStatus) error {
	return m.Called(ctx, subscriptionID, status).Error(0)
}
func (m *MockStore) ResetSync(ctx context.Context, subscriptionID int64) error {
	return m.Called(ctx, subscriptionID).Error(0)
}
func (m *MockStore) CountByStatus(ctx context.Context) (map[model.SyncStatus]int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(map[model.SyncStatus]int64), args.Error(1)
}
func (m *MockStore) Stalled(ctx context.Context, now time.Time, threshold time.Duration) ([]model.Subscription, error) {
	args := m.Called(ctx, now, threshold)
	return args.Get(0).([]model.Subscription), args.Error(1)
}
func (m *MockStore) RecentFailed(ctx context.Context, limit int) ([]model.Subscription, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]model.Subscription), args.Error(1)
}

type recordingQueue struct {
	jobs []model.JobData
	ids  []string
	dup  bool
}

func (q *recordingQueue) Add(data model.JobData, opts queue.AddOptions) (bool, error) {
	if err := data.Validate(); err != nil {
		return false, err
	}
	if q.dup {
		return false, nil
	}
	q.jobs = append(q.jobs, data)
	q.ids = append(q.ids, opts.JobID)
	return true, nil
}

type fakeJira struct {
	jira.API
	clientErr error
	deleted   []int64
	exists    bool
}

func (j *fakeJira) Client(ctx context.Context, jiraHost string) (jira.API, error) {
	if j.clientErr != nil {
		return nil, j.clientErr
	}
	return j, nil
}

func (j *fakeJira) DeleteInstallation(ctx context.Context, installationID int64) error {
	j.deleted = append(j.deleted, installationID)
	return nil
}

func (j *fakeJira) ExistsByProperties(ctx context.Context, installationID int64) (bool, error) {
	return j.exists, nil
}

const testHost = "https://example.atlassian.net"

func newTestService() (*Service, *MockStore, *recordingQueue, *fakeJira) {
	st := new(MockStore)
	q := &recordingQueue{}
	jc := &fakeJira{}
	svc := New(st, q, jc, 15*time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, st, q, jc
}

func TestParseSyncType(t *testing.T) {
	for input, want := range map[string]SyncType{"full": SyncTypeFull, "partial": SyncTypePartial, "": SyncTypePartial} {
		got, err := ParseSyncType(input)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseSyncType("everything")
	assert.Error(t, err)
}

func TestService_Install(t *testing.T) {
	ctx := context.Background()
	svc, st, q, _ := newTestService()
	sub := model.Subscription{ID: 5, GitHubInstallationID: 7, JiraHost: testHost, SyncStatus: model.SyncStatusPending}
	st.On("Create", ctx, int64(7), testHost, []int64(nil)).Return(sub, nil).Once()
	st.On("ResetSync", ctx, int64(5)).Return(nil).Once()

	got, err := svc.Install(ctx, 7, testHost, nil)

	require.NoError(t, err)
	assert.Equal(t, sub, got)
	assert.Equal(t, []model.JobData{model.DiscoveryJob{InstallationID: 7, JiraHost: testHost, Mode: model.DiscoveryFull}}, q.jobs)
	assert.Equal(t, []string{"Discovery-7"}, q.ids)
	st.AssertExpectations(t)
}

func TestService_FindOrStartSync(t *testing.T) {
	ctx := context.Background()
	synced := model.Subscription{
		ID: 5, GitHubInstallationID: 7, JiraHost: testHost, SyncStatus: model.SyncStatusFailed,
		RepoSyncState: model.RepoSyncState{"42": {BranchStatus: model.ResourceStatusComplete}},
	}

	t.Run("partial with progress resumes", func(t *testing.T) {
		svc, st, q, _ := newTestService()
		st.On("UpdateSyncStatus", ctx, int64(5), model.SyncStatusPending).Return(nil).Once()

		require.NoError(t, svc.FindOrStartSync(ctx, synced, SyncTypePartial))

		require.Len(t, q.jobs, 1)
		assert.Equal(t, model.DiscoveryResume, q.jobs[0].(model.DiscoveryJob).Mode)
		st.AssertNotCalled(t, "ResetSync", mock.Anything, mock.Anything)
	})

	t.Run("full resets progress", func(t *testing.T) {
		svc, st, q, _ := newTestService()
		st.On("ResetSync", ctx, int64(5)).Return(nil).Once()

		require.NoError(t, svc.FindOrStartSync(ctx, synced, SyncTypeFull))

		require.Len(t, q.jobs, 1)
		assert.Equal(t, model.DiscoveryFull, q.jobs[0].(model.DiscoveryJob).Mode)
		st.AssertExpectations(t)
	})

	t.Run("already queued discovery is not an error", func(t *testing.T) {
		svc, st, q, _ := newTestService()
		q.dup = true
		st.On("ResetSync", ctx, int64(5)).Return(nil).Once()

		assert.NoError(t, svc.FindOrStartSync(ctx, synced, SyncTypeFull))
		assert.Empty(t, q.jobs)
	})

	t.Run("reset failure aborts", func(t *testing.T) {
		svc, st, q, _ := newTestService()
		st.On("ResetSync", ctx, int64(5)).Return(errors.New("db down")).Once()

		assert.Error(t, svc.FindOrStartSync(ctx, synced, SyncTypeFull))
		assert.Empty(t, q.jobs)
	})
}

func TestService_Sync_NotFound(t *testing.T) {
	ctx := context.Background()
	svc, st, q, _ := newTestService()
	notFound := &custom_errors.ErrSubscriptionNotFound{InstallationID: 7, JiraHost: testHost}
	st.On("MustGet", ctx, testHost, int64(7)).Return(model.Subscription{}, notFound).Twice()

	err := svc.RestartSync(ctx, 7, testHost)
	assert.ErrorAs(t, err, &notFound)
	err = svc.ResumeSync(ctx, 7, testHost)
	assert.ErrorAs(t, err, &notFound)
	assert.Empty(t, q.jobs)
}

func TestService_Stalled(t *testing.T) {
	ctx := context.Background()
	svc, st, _, _ := newTestService()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	st.On("Stalled", ctx, now, 15*time.Minute).Return([]model.Subscription{{ID: 1}}, nil).Once()

	subs, err := svc.Stalled(ctx)

	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestService_ResyncFailed(t *testing.T) {
	ctx := context.Background()
	svc, st, q, _ := newTestService()
	st.On("RecentFailed", ctx, 2).Return([]model.Subscription{
		{ID: 1, GitHubInstallationID: 10, JiraHost: testHost, SyncStatus: model.SyncStatusFailed},
		{ID: 2, GitHubInstallationID: 11, JiraHost: testHost, SyncStatus: model.SyncStatusFailed},
	}, nil).Once()
	st.On("ResetSync", ctx, int64(1)).Return(nil).Once()
	st.On("ResetSync", ctx, int64(2)).Return(errors.New("db down")).Once()

	n, err := svc.ResyncFailed(ctx, 2)

	assert.Equal(t, 1, n)
	assert.ErrorContains(t, err, "db down")
	assert.Equal(t, []string{"Discovery-10"}, q.ids)
}

func TestService_Uninstall(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes Jira data then the subscription", func(t *testing.T) {
		svc, st, _, jc := newTestService()
		st.On("MustGet", ctx, testHost, int64(7)).Return(model.Subscription{ID: 5}, nil).Once()
		st.On("Delete", ctx, int64(7), testHost).Return(true, nil).Once()

		require.NoError(t, svc.Uninstall(ctx, 7, testHost))
		assert.Equal(t, []int64{7}, jc.deleted)
		st.AssertExpectations(t)
	})

	t.Run("skips cleanup when the Jira site is gone", func(t *testing.T) {
		svc, st, _, jc := newTestService()
		jc.clientErr = &custom_errors.ErrInstallationNotFound{JiraHost: testHost}
		st.On("MustGet", ctx, testHost, int64(7)).Return(model.Subscription{ID: 5}, nil).Once()
		st.On("Delete", ctx, int64(7), testHost).Return(true, nil).Once()

		require.NoError(t, svc.Uninstall(ctx, 7, testHost))
		assert.Empty(t, jc.deleted)
	})

	t.Run("missing subscription", func(t *testing.T) {
		svc, st, _, jc := newTestService()
		st.On("MustGet", ctx, testHost, int64(7)).Return(model.Subscription{}, &custom_errors.ErrSubscriptionNotFound{InstallationID: 7, JiraHost: testHost}).Once()

		var notFound *custom_errors.ErrSubscriptionNotFound
		assert.ErrorAs(t, svc.Uninstall(ctx, 7, testHost), &notFound)
		assert.Empty(t, jc.deleted)
	})
}

func TestService_DevInfoExists(t *testing.T) {
	ctx := context.Background()
	svc, st, _, jc := newTestService()
	jc.exists = true
	st.On("MustGet", ctx, testHost, int64(7)).Return(model.Subscription{ID: 5}, nil).Once()

	exists, err := svc.DevInfoExists(ctx, 7, testHost)

	require.NoError(t, err)
	assert.True(t, exists)
}
