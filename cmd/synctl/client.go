// cmd/synctl/client.go
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// client calls the service's operator API.
type client struct {
	baseURL string
	http    *http.Client
}

func newOperatorClient(baseURL string, timeout time.Duration) *client {
	return &client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type subscriptionView struct {
	ID                   int64     `json:"id"`
	GitHubInstallationID int64     `json:"gitHubInstallationId"`
	JiraHost             string    `json:"jiraHost"`
	SyncStatus           string    `json:"syncStatus"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

type projectKeyView struct {
	ProjectKey  string `json:"projectKey"`
	Occurrences int64  `json:"occurrences"`
}

func (c *client) Counts(ctx context.Context) (map[string]int64, error) {
	var counts map[string]int64
	err := c.do(ctx, http.MethodGet, "/api/sync/counts", nil, nil, &counts)
	return counts, err
}

func (c *client) Stalled(ctx context.Context) ([]subscriptionView, error) {
	var subs []subscriptionView
	err := c.do(ctx, http.MethodGet, "/api/sync/stalled", nil, nil, &subs)
	return subs, err
}

func (c *client) Resync(ctx context.Context, installationID int64, jiraHost, syncType string) error {
	body := map[string]string{"jiraHost": jiraHost, "syncType": syncType}
	return c.do(ctx, http.MethodPost, "/api/"+strconv.FormatInt(installationID, 10)+"/sync", nil, body, nil)
}

func (c *client) ResyncFailed(ctx context.Context, limit int) (int, error) {
	var out struct {
		Restarted int `json:"restarted"`
	}
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	err := c.do(ctx, http.MethodPost, "/api/sync/resync-failed", query, nil, &out)
	return out.Restarted, err
}

func (c *client) ProjectKeys(ctx context.Context, jiraHost string) ([]projectKeyView, error) {
	var usage []projectKeyView
	err := c.do(ctx, http.MethodGet, "/api/project-keys", url.Values{"jiraHost": {jiraHost}}, nil, &usage)
	return usage, err
}

func (c *client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	slog.Debug("Calling sync service", "method", method, "url", target)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response of %s: %w", path, err)
	}
	return nil
}
