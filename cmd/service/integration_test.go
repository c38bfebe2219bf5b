//go:build integration

// cmd/service/integration_test.go
package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github-jira-sync/internal/database"
	"github-jira-sync/internal/jira"
	"github-jira-sync/internal/model"
	"github-jira-sync/internal/queue"
	"github-jira-sync/internal/store"
	"github-jira-sync/internal/subscription"
)

func setupTestDatabase(ctx context.Context, t *testing.T) (*pgxpool.Pool, func()) {
	// Start a postgres container
	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	// Get the connection string
	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Run migrations
	m, err := migrate.New("file://../../migrations", connStr)
	require.NoError(t, err)
	err = m.Up()
	require.NoError(t, err)

	// Create a connection pool
	dbpool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	// Teardown function to be called by the test
	teardown := func() {
		dbpool.Close()
		err := pgContainer.Terminate(ctx)
		require.NoError(t, err)
	}

	return dbpool, teardown
}

func TestStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	dbpool, teardown := setupTestDatabase(ctx, t)
	defer teardown()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	st := store.New(database.New(dbpool), logger)
	const host = "https://example.atlassian.net"

	sub, err := st.Create(ctx, 7, host, []int64{42})
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusPending, sub.SyncStatus)
	assert.Equal(t, []int64{42}, sub.SelectedRepositories)

	// Patches of different resources on the same repository must merge, not overwrite.
	repo := model.Repository{ID: 42, Owner: "acme", Name: "repoA"}
	require.NoError(t, st.UpdateRepoState(ctx, sub.ID, repo.ID, store.RepositoryPatch(repo)))
	require.NoError(t, st.UpdateRepoState(ctx, sub.ID, repo.ID, store.ResourcePatch(model.ResourceCommits, model.ResourceStatusPending, "3")))
	require.NoError(t, st.UpdateRepoState(ctx, sub.ID, repo.ID, store.ResourcePatch(model.ResourceBranches, model.ResourceStatusComplete, "")))

	got, err := st.GetSingleInstallation(ctx, host, 7)
	require.NoError(t, err)
	require.True(t, got.IsPresent())
	state := got.MustGet().RepoSyncState.Get(42)
	require.NotNil(t, state.Repository)
	assert.Equal(t, "repoA", state.Repository.Name)
	assert.Equal(t, "3", state.Cursor(model.ResourceCommits))
	assert.Equal(t, model.ResourceStatusComplete, state.Status(model.ResourceBranches))
	assert.Equal(t, []model.ResourceKind{model.ResourceCommits, model.ResourcePullRequests}, state.PendingResources())

	require.NoError(t, st.UpdateSyncStatus(ctx, sub.ID, model.SyncStatusFailed))
	counts, err := st.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[model.SyncStatusFailed])
	assert.Equal(t, int64(0), counts[model.SyncStatusActive])

	failed, err := st.RecentFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, sub.ID, failed[0].ID)

	require.NoError(t, st.ResetSync(ctx, sub.ID))
	got, err = st.GetSingleInstallation(ctx, host, 7)
	require.NoError(t, err)
	assert.Empty(t, got.MustGet().RepoSyncState)
	assert.Equal(t, model.SyncStatusPending, got.MustGet().SyncStatus)

	require.NoError(t, st.IncrementProjectKeys(ctx, host, map[string]int64{"TEST": 2}))
	require.NoError(t, st.IncrementProjectKeys(ctx, host, map[string]int64{"TEST": 1, "OPS": 1}))
	usage, err := st.ProjectKeyUsage(ctx, host)
	require.NoError(t, err)
	occurrences := map[string]int64{}
	for _, u := range usage {
		occurrences[u.ProjectKey] = u.Occurrences
	}
	assert.Equal(t, map[string]int64{"TEST": 3, "OPS": 1}, occurrences)

	deleted, err := st.Delete(ctx, 7, host)
	require.NoError(t, err)
	assert.True(t, deleted)
	got, err = st.GetSingleInstallation(ctx, host, 7)
	require.NoError(t, err)
	assert.False(t, got.IsPresent())
}

func TestSubscriptionLifecycle_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	dbpool, teardown := setupTestDatabase(ctx, t)
	defer teardown()

	// Setup a mock Jira site that accepts the uninstall cleanup calls
	var mu sync.Mutex
	var cleanup []string
	jiraServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "JWT "))
		mu.Lock()
		cleanup = append(cleanup, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer jiraServer.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New(database.New(dbpool), logger)
	require.NoError(t, st.SaveJiraInstallation(ctx, model.JiraInstallation{
		JiraHost: jiraServer.URL, ClientKey: "client-1", SharedSecret: "s3cret", Enabled: true,
	}))
	jiraClients := jira.NewRegistry(st, jira.ClientConfig{AppKey: "com.github.integration", TokenTTL: 30 * time.Second}, logger)

	q := queue.New(logger)
	defer q.Close(ctx)
	discovered := make(chan model.DiscoveryJob, 1)
	q.Process(model.LaneDiscovery, queue.LaneOptions{Concurrency: 1, MaxAttempts: 1}, func(ctx context.Context, job queue.Job) error {
		discovered <- job.Data.(model.DiscoveryJob)
		return nil
	})

	svc := subscription.New(st, q, jiraClients, 15*time.Minute, logger)

	sub, err := svc.Install(ctx, 7, jiraServer.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), sub.GitHubInstallationID)

	select {
	case job := <-discovered:
		assert.Equal(t, model.DiscoveryFull, job.Mode)
		assert.Equal(t, jiraServer.URL, job.JiraHost)
	case <-time.After(5 * time.Second):
		t.Fatal("discovery job was not dispatched")
	}

	require.NoError(t, svc.Uninstall(ctx, 7, jiraServer.URL))
	mu.Lock()
	assert.ElementsMatch(t, []string{
		"DELETE /rest/devinfo/0.10/bulkByProperties",
		"DELETE /rest/builds/0.1/bulkByProperties",
		"DELETE /rest/deployments/0.1/bulkByProperties",
	}, cleanup)
	mu.Unlock()

	_, err = st.MustGet(ctx, jiraServer.URL, 7)
	assert.Error(t, err)
}
