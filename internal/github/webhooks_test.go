// internal/github/webhooks_test.go
package github

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvent_Push(t *testing.T) {
	payload := []byte(`{
		"ref": "refs/heads/main",
		"installation": {"id": 7},
		"repository": {"id": 1, "name": "repo", "full_name": "owner/repo", "owner": {"name": "owner"}, "html_url": "https://github.com/owner/repo"},
		"commits": [
			{"id": "sha1", "message": "no key"},
			{"id": "sha2", "message": "TEST-1 fix", "author": {"name": "Jane", "email": "jane@example.com", "username": "jane"}}
		]
	}`)

	event, err := ParseEvent(EventPush, payload)
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, EventPush, event.Kind)
	assert.Equal(t, int64(7), event.InstallationID)
	assert.Equal(t, "owner", event.Repository.Owner)
	assert.Equal(t, "repo", event.Repository.Name)
	require.Len(t, event.Commits, 2)
	assert.Equal(t, "sha2", event.Commits[1].SHA)
	assert.Equal(t, "jane", event.Commits[1].Author.Login)
}

func TestParseEvent_WorkflowRun(t *testing.T) {
	payload := []byte(`{
		"action": "completed",
		"installation": {"id": 7},
		"repository": {"id": 1, "name": "repo", "owner": {"login": "owner"}},
		"workflow_run": {
			"id": 555, "workflow_id": 77, "name": "CI", "head_branch": "TEST-3-ci", "head_sha": "abc",
			"run_number": 12, "status": "completed", "conclusion": "success",
			"head_commit": {"message": "TEST-4 fix tests"},
			"pull_requests": [{"head": {"ref": "TEST-3-ci", "sha": "abc", "repo": {"url": "https://api.github.com/repos/owner/repo"}}}]
		}
	}`)

	event, err := ParseEvent(EventWorkflowRun, payload)
	require.NoError(t, err)
	require.NotNil(t, event.WorkflowRun)

	run := event.WorkflowRun
	assert.Equal(t, int64(77), run.WorkflowID)
	assert.Equal(t, "TEST-4 fix tests", run.HeadCommitMessage)
	assert.Equal(t, "success", run.Conclusion)
	require.Len(t, run.PullRequests, 1)
	assert.Equal(t, "https://api.github.com/repos/owner/repo", run.PullRequests[0].HeadRepoURL)
}

func TestParseEvent_DeploymentStatus(t *testing.T) {
	payload := []byte(`{
		"installation": {"id": 7},
		"repository": {"id": 1, "name": "repo", "owner": {"login": "owner"}},
		"deployment": {"id": 1001, "sha": "def", "ref": "main", "task": "deploy", "environment": "staging"},
		"deployment_status": {"id": 2002, "state": "success", "environment": "Prod-East", "target_url": "https://example.com/deploys/1001"}
	}`)

	event, err := ParseEvent(EventDeploymentStatus, payload)
	require.NoError(t, err)
	require.NotNil(t, event.Deployment)

	d := event.Deployment
	assert.Equal(t, int64(1001), d.ID)
	assert.Equal(t, int64(2002), d.StatusID)
	assert.Equal(t, "Prod-East", d.Environment, "the status environment wins")
	assert.Equal(t, "https://example.com/deploys/1001", d.TargetURL)
}

func TestParseEvent_Unsupported(t *testing.T) {
	event, err := ParseEvent("issues", []byte(`{}`))
	assert.NoError(t, err)
	assert.Nil(t, event)

	_, err = ParseEvent(EventPush, []byte(`not json`))
	assert.Error(t, err)
}
