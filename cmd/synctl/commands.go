// cmd/synctl/commands.go
package main

import (
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// Display order of sync statuses, matching the subscription lifecycle.
var statusOrder = []string{"PENDING", "ACTIVE", "COMPLETE", "FAILED"}

func newCountsCmd(newClient func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "counts",
		Short: "Show how many subscriptions are in each sync status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			counts, err := newClient().Counts(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, status := range statusOrder {
				fmt.Fprintf(w, "%s\t%d\n", status, counts[status])
			}
			return w.Flush()
		},
	}
}

func newStalledCmd(newClient func() *client) *cobra.Command {
	return &cobra.Command{
		Use:   "stalled",
		Short: "List active syncs that stopped making progress",
		RunE: func(cmd *cobra.Command, _ []string) error {
			subs, err := newClient().Stalled(cmd.Context())
			if err != nil {
				return err
			}
			if len(subs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No stalled syncs.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INSTALLATION\tJIRA HOST\tLAST UPDATE")
			for _, sub := range subs {
				fmt.Fprintf(w, "%d\t%s\t%s\n", sub.GitHubInstallationID, sub.JiraHost, sub.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newResyncCmd(newClient func() *client) *cobra.Command {
	var installationID int64
	var jiraHost string
	var full bool

	resyncCmd := &cobra.Command{
		Use:   "resync",
		Short: "Restart the sync of one subscription",
		Long: `Resume a subscription's sync from its saved cursors, or with --full
discard all progress and sync every repository again.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if installationID <= 0 {
				return errors.New("--installation must be a positive installation id")
			}
			syncType := "partial"
			if full {
				syncType = "full"
			}
			if err := newClient().Resync(cmd.Context(), installationID, jiraHost, syncType); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started %s sync of installation %d on %s\n", syncType, installationID, jiraHost)
			return nil
		},
	}

	resyncCmd.Flags().Int64Var(&installationID, "installation", 0, "GitHub installation id")
	resyncCmd.Flags().StringVar(&jiraHost, "jira-host", "", "Jira site URL")
	resyncCmd.Flags().BoolVar(&full, "full", false, "Discard progress and sync everything again")
	_ = resyncCmd.MarkFlagRequired("installation")
	_ = resyncCmd.MarkFlagRequired("jira-host")

	return resyncCmd
}

func newResyncFailedCmd(newClient func() *client) *cobra.Command {
	var limit int

	resyncFailedCmd := &cobra.Command{
		Use:   "resync-failed",
		Short: "Restart the most recently failed syncs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			restarted, err := newClient().ResyncFailed(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restarted %d failed syncs\n", restarted)
			return nil
		},
	}

	resyncFailedCmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of subscriptions to restart")

	return resyncFailedCmd
}

func newProjectKeysCmd(newClient func() *client) *cobra.Command {
	var jiraHost string

	projectKeysCmd := &cobra.Command{
		Use:   "project-keys",
		Short: "Show how often each Jira project was referenced on a site",
		RunE: func(cmd *cobra.Command, _ []string) error {
			usage, err := newClient().ProjectKeys(cmd.Context(), jiraHost)
			if err != nil {
				return err
			}
			sort.Slice(usage, func(i, j int) bool {
				if usage[i].Occurrences != usage[j].Occurrences {
					return usage[i].Occurrences > usage[j].Occurrences
				}
				return usage[i].ProjectKey < usage[j].ProjectKey
			})
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, u := range usage {
				fmt.Fprintf(w, "%s\t%d\n", u.ProjectKey, u.Occurrences)
			}
			return w.Flush()
		},
	}

	projectKeysCmd.Flags().StringVar(&jiraHost, "jira-host", "", "Jira site URL")
	_ = projectKeysCmd.MarkFlagRequired("jira-host")

	return projectKeysCmd
}
