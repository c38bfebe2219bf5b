// internal/errors/errors.go
package errors

import (
	"fmt"
	"net/http"
)

// ErrSubscriptionNotFound is returned when no subscription links the installation to the Jira site.
type ErrSubscriptionNotFound struct {
	InstallationID int64
	JiraHost       string
}

func (e *ErrSubscriptionNotFound) Error() string {
	return fmt.Sprintf("no subscription for installation %d on %s", e.InstallationID, e.JiraHost)
}

// ErrInstallationNotFound is returned when the Jira site never installed the app or disabled it.
type ErrInstallationNotFound struct {
	JiraHost string
}

func (e *ErrInstallationNotFound) Error() string {
	return fmt.Sprintf("no enabled jira installation for %s", e.JiraHost)
}

// ErrInvalidJob is returned when a queue payload does not satisfy its lane's contract.
type ErrInvalidJob struct {
	Lane   string
	Reason string
}

func (e *ErrInvalidJob) Error() string {
	return fmt.Sprintf("invalid %s job: %s", e.Lane, e.Reason)
}

// JiraAPIError describes a non-2xx response from Jira.
type JiraAPIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *JiraAPIError) Error() string {
	return fmt.Sprintf("jira API %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Retryable reports whether the failure is transient (rate limited or server side).
func (e *JiraAPIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}
