// internal/jira/client.go
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	custom_errors "github-jira-sync/internal/errors"
)

const (
	devInfoBulkPath     = "/rest/devinfo/0.10/bulk"
	devInfoExistsPath   = "/rest/devinfo/0.10/existsByProperties"
	devInfoByPropsPath  = "/rest/devinfo/0.10/bulkByProperties"
	buildsBulkPath      = "/rest/builds/0.1/bulk"
	buildsByPropsPath   = "/rest/builds/0.1/bulkByProperties"
	deployBulkPath      = "/rest/deployments/0.1/bulk"
	deployByPropsPath   = "/rest/deployments/0.1/bulkByProperties"
	maxErrorBodyLength  = 512
	defaultRetryBackoff = 500 * time.Millisecond
)

// ClientConfig tunes token minting and transport retries.
type ClientConfig struct {
	AppKey    string
	TokenTTL  time.Duration
	ClockSkew time.Duration
	// MaxRetries bounds retries of 429 and 5xx responses. Zero disables retrying.
	MaxRetries      uint64
	InitialInterval time.Duration
	HTTPClient      *http.Client
}

// Client talks to one Jira site on behalf of the app.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	signer     *TokenSigner
	logger     *slog.Logger
	maxRetries uint64
	interval   time.Duration
}

// NewClient creates a client for jiraHost that signs requests with the site's shared secret.
func NewClient(jiraHost, sharedSecret string, cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(jiraHost, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid jira host %q", jiraHost)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	interval := cfg.InitialInterval
	if interval <= 0 {
		interval = defaultRetryBackoff
	}

	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		signer:     NewTokenSigner(cfg.AppKey, sharedSecret, cfg.TokenTTL, cfg.ClockSkew),
		logger:     logger.With("jira_host", jiraHost),
		maxRetries: cfg.MaxRetries,
		interval:   interval,
	}, nil
}

// SubmitDevInfo posts one repository bulk request.
func (c *Client) SubmitDevInfo(ctx context.Context, req DevInfoRequest) error {
	return c.do(ctx, http.MethodPost, devInfoBulkPath, nil, req, nil)
}

func (c *Client) SubmitBuilds(ctx context.Context, req BuildsRequest) error {
	return c.do(ctx, http.MethodPost, buildsBulkPath, nil, req, nil)
}

func (c *Client) SubmitDeployments(ctx context.Context, req DeploymentsRequest) (*DeploymentsResponse, error) {
	var resp DeploymentsResponse
	if err := c.do(ctx, http.MethodPost, deployBulkPath, nil, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.RejectedDeployments) > 0 {
		c.logger.Warn("Jira rejected deployments", "rejected", len(resp.RejectedDeployments))
	}
	return &resp, nil
}

// ExistsByProperties reports whether Jira holds any dev info tagged with the installation.
func (c *Client) ExistsByProperties(ctx context.Context, installationID int64) (bool, error) {
	var resp struct {
		HasDataMatchingProperties bool `json:"hasDataMatchingProperties"`
	}
	q := url.Values{"installationId": {strconv.FormatInt(installationID, 10)}}
	if err := c.do(ctx, http.MethodGet, devInfoExistsPath, q, nil, &resp); err != nil {
		return false, err
	}
	return resp.HasDataMatchingProperties, nil
}

// DeleteInstallation removes all dev info, builds and deployments sent for the installation.
func (c *Client) DeleteInstallation(ctx context.Context, installationID int64) error {
	id := strconv.FormatInt(installationID, 10)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.do(gctx, http.MethodDelete, devInfoByPropsPath, url.Values{"installationId": {id}}, nil, nil)
	})
	g.Go(func() error {
		return c.do(gctx, http.MethodDelete, buildsByPropsPath, url.Values{"gitHubInstallationId": {id}}, nil, nil)
	})
	g.Go(func() error {
		return c.do(gctx, http.MethodDelete, deployByPropsPath, url.Values{"gitHubInstallationId": {id}}, nil, nil)
	})
	return g.Wait()
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.interval
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx)
}

// do performs a signed request. Retryable failures are retried with exponential
// backoff; everything else is returned as is.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode jira request: %w", err)
		}
	}

	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = query.Encode()

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := c.send(ctx, method, &u, payload, out)
		if err == nil {
			return nil
		}
		var apiErr *custom_errors.JiraAPIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		c.logger.Warn("Jira request failed, retrying", "method", method, "path", path, "attempt", attempt, "error", err)
		return err
	}, c.newBackOff(ctx))
}

func (c *Client) send(ctx context.Context, method string, u *url.URL, payload []byte, out any) error {
	token, err := c.signer.Sign(method, u)
	if err != nil {
		return err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "JWT "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLength))
		return &custom_errors.JiraAPIError{
			Method:     method,
			Path:       u.Path,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
	}

	c.logger.Debug("Jira request", "method", method, "path", u.Path, "status", resp.StatusCode)
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode jira response: %w", err)
	}
	return nil
}
