// internal/jira/registry.go
package jira

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/samber/mo"

	custom_errors "github-jira-sync/internal/errors"
	"github-jira-sync/internal/model"
)

// API is the subset of the Jira client the sync pipeline depends on.
type API interface {
	Submitter
	ExistsByProperties(ctx context.Context, installationID int64) (bool, error)
	DeleteInstallation(ctx context.Context, installationID int64) error
}

var _ API = (*Client)(nil)

// InstallationLookup resolves the Connect credentials of a Jira site.
type InstallationLookup interface {
	JiraInstallation(ctx context.Context, jiraHost string) (mo.Option[model.JiraInstallation], error)
}

// Registry hands out signed clients per Jira site, caching them briefly so a
// rotated shared secret is picked up without a restart.
type Registry struct {
	lookup  InstallationLookup
	cfg     ClientConfig
	logger  *slog.Logger
	clients *expirable.LRU[string, *Client]
}

func NewRegistry(lookup InstallationLookup, cfg ClientConfig, logger *slog.Logger) *Registry {
	return &Registry{
		lookup:  lookup,
		cfg:     cfg,
		logger:  logger,
		clients: expirable.NewLRU[string, *Client](256, nil, 5*time.Minute),
	}
}

// Client returns a client for jiraHost or ErrInstallationNotFound when the
// site never installed the app or has disabled it.
func (r *Registry) Client(ctx context.Context, jiraHost string) (API, error) {
	if c, ok := r.clients.Get(jiraHost); ok {
		return c, nil
	}

	found, err := r.lookup.JiraInstallation(ctx, jiraHost)
	if err != nil {
		return nil, err
	}
	installation, ok := found.Get()
	if !ok || !installation.Enabled {
		return nil, &custom_errors.ErrInstallationNotFound{JiraHost: jiraHost}
	}

	c, err := NewClient(jiraHost, installation.SharedSecret, r.cfg, r.logger)
	if err != nil {
		return nil, err
	}
	r.clients.Add(jiraHost, c)
	return c, nil
}
