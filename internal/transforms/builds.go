// internal/transforms/builds.go
package transforms

import (
	"strconv"

	"github-jira-sync/internal/jira"
	"github-jira-sync/internal/model"
	"github-jira-sync/internal/smartcommit"
)

// BuildsProduct is reported to Jira as the build provider.
const BuildsProduct = "GitHub Actions"

const maxPullRequestReferences = 5

// Workflow maps a workflow run to a Jira build. It returns nil when neither the
// head branch nor the head commit message references an issue.
func Workflow(run model.WorkflowRun, updateSequenceNumber int64) *jira.Build {
	keys := smartcommit.IssueKeys(run.HeadBranch + "\n" + run.HeadCommitMessage)
	if len(keys) == 0 {
		return nil
	}

	var refs []jira.BuildReference
	for _, pr := range run.PullRequests {
		if len(refs) == maxPullRequestReferences {
			break
		}
		refs = append(refs, jira.BuildReference{
			Commit: jira.CommitReference{ID: pr.HeadSHA, RepositoryURI: pr.HeadRepoURL},
			Ref:    jira.RefReference{Name: pr.HeadRef, URI: pr.HeadRepoURL + "/tree/" + pr.HeadRef},
		})
	}

	return &jira.Build{
		SchemaVersion:        "1.0",
		PipelineID:           strconv.FormatInt(run.WorkflowID, 10),
		BuildNumber:          run.RunNumber,
		UpdateSequenceNumber: updateSequenceNumber,
		DisplayName:          run.Name,
		URL:                  run.HTMLURL,
		State:                BuildState(run.Status, run.Conclusion),
		LastUpdated:          run.UpdatedAt,
		IssueKeys:            keys,
		References:           refs,
	}
}

// BuildState maps a workflow status and conclusion to a Jira build state.
func BuildState(status, conclusion string) string {
	key := status
	if conclusion != "" {
		key += "." + conclusion
	}
	switch key {
	case "queued", "in_progress":
		return "in_progress"
	case "completed.success", "completed.neutral", "completed.skipped":
		return "successful"
	case "completed.failure", "completed.timed_out":
		return "failed"
	case "completed.cancelled", "completed.stale":
		return "cancelled"
	case "completed.action_required":
		return "pending"
	}
	return "unknown"
}
