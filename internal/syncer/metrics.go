// internal/syncer/metrics.go
package syncer

import (
	"context"
	"fmt"

	custom_errors "github-jira-sync/internal/errors"
	"github-jira-sync/internal/jira"
	"github-jira-sync/internal/model"
	"github-jira-sync/internal/queue"
	"github-jira-sync/internal/smartcommit"
)

// HandleMetrics adds one occurrence per listed project key to the site's usage counters.
func (s *Syncer) HandleMetrics(ctx context.Context, job queue.Job) error {
	data, ok := job.Data.(model.MetricsJob)
	if !ok {
		return &custom_errors.ErrInvalidJob{Lane: string(model.LaneMetrics), Reason: fmt.Sprintf("unexpected payload %T", job.Data)}
	}

	counts := make(map[string]int64, len(data.ProjectKeys))
	for _, key := range data.ProjectKeys {
		counts[key]++
	}
	return s.store.IncrementProjectKeys(ctx, data.JiraHost, counts)
}

// projectKeys returns the distinct projects of issueKeys, in first-seen order.
func projectKeys(issueKeys []string) []string {
	var projects []string
	for _, key := range issueKeys {
		if p := smartcommit.ProjectKey(key); p != "" {
			projects = append(projects, p)
		}
	}
	return jira.Dedup(projects)
}
