// internal/transforms/devinfo.go
package transforms

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github-jira-sync/internal/jira"
	"github-jira-sync/internal/model"
	"github-jira-sync/internal/smartcommit"
)

const (
	maxCommitMessageLength = 1024
	maxFilesPerCommit      = 10
	displayIDLength        = 6
)

var unsafeJiraIDChars = regexp.MustCompile(`[^a-zA-Z0-9~.\-_]`)

// JiraID returns name unchanged when Jira accepts it as an id, otherwise a
// "~"-prefixed hex encoding of it.
func JiraID(name string) string {
	if unsafeJiraIDChars.MatchString(name) {
		return "~" + hex.EncodeToString([]byte(name))
	}
	return name
}

// RepositoryPayload returns an empty DevInfo payload identifying repo.
func RepositoryPayload(repo model.Repository, updateSequenceID int64) jira.Repository {
	return jira.Repository{
		ID:               strconv.FormatInt(repo.ID, 10),
		Name:             repo.Name,
		URL:              repo.HTMLURL,
		UpdateSequenceID: updateSequenceID,
	}
}

// Branches maps a page of branches, dropping those that reference no issue.
func Branches(branches []model.Branch, repo model.Repository, updateSequenceID int64) jira.Repository {
	payload := RepositoryPayload(repo, updateSequenceID)
	for _, b := range branches {
		if jb := Branch(b, repo, updateSequenceID); jb != nil {
			payload.Branches = append(payload.Branches, *jb)
		}
	}
	return payload
}

// Branch looks for issue keys in the branch name, its pull request title and the
// last commit message. It returns nil when none are found.
func Branch(b model.Branch, repo model.Repository, updateSequenceID int64) *jira.Branch {
	branchKeys := smartcommit.IssueKeys(b.Name)
	pullKeys := smartcommit.IssueKeys(b.PullRequestTitle)
	commitKeys := smartcommit.IssueKeys(b.LastCommit.Message)

	var all []string
	all = append(all, branchKeys...)
	all = append(all, pullKeys...)
	all = append(all, commitKeys...)
	if len(all) == 0 {
		return nil
	}

	// The last commit carries the most specific non-empty set only.
	lastCommitKeys := commitKeys
	if len(lastCommitKeys) == 0 {
		lastCommitKeys = branchKeys
	}
	if len(lastCommitKeys) == 0 {
		lastCommitKeys = pullKeys
	}

	lastCommit := commit(b.LastCommit, lastCommitKeys, updateSequenceID)
	return &jira.Branch{
		ID:                   JiraID(b.Name),
		Name:                 b.Name,
		IssueKeys:            all,
		URL:                  fmt.Sprintf("%s/tree/%s", repo.HTMLURL, b.Name),
		CreatePullRequestURL: fmt.Sprintf("%s/pull/new/%s", repo.HTMLURL, b.Name),
		LastCommit:           lastCommit,
		UpdateSequenceID:     updateSequenceID,
	}
}

// Commits maps a page of commits, dropping those whose message references no issue.
func Commits(commits []model.Commit, repo model.Repository, updateSequenceID int64) jira.Repository {
	payload := RepositoryPayload(repo, updateSequenceID)
	for _, c := range commits {
		if jc := Commit(c, updateSequenceID); jc != nil {
			payload.Commits = append(payload.Commits, *jc)
		}
	}
	return payload
}

func Commit(c model.Commit, updateSequenceID int64) *jira.Commit {
	keys := smartcommit.IssueKeys(c.Message)
	if len(keys) == 0 {
		return nil
	}
	jc := commit(c, keys, updateSequenceID)
	return &jc
}

// PushCommit maps a fully fetched pushed commit using the issue keys found when
// the push was received. Files are capped while FileCount keeps the real total.
func PushCommit(c model.Commit, issueKeys []string, updateSequenceID int64) jira.Commit {
	jc := commit(c, issueKeys, updateSequenceID)

	files := c.Files
	if len(files) > maxFilesPerCommit {
		files = files[:maxFilesPerCommit]
	}
	for _, f := range files {
		jc.Files = append(jc.Files, jira.File{
			Path:         f.Filename,
			URL:          f.BlobURL,
			ChangeType:   mapChangeType(f.Status),
			LinesAdded:   f.Additions,
			LinesRemoved: f.Deletions,
		})
	}
	if c.ParentCount > 1 {
		jc.Flags = []string{jira.FlagMergeCommit}
	}
	return jc
}

// PullRequests maps a page of pull requests, dropping those that reference no issue.
func PullRequests(pulls []model.PullRequest, repo model.Repository, updateSequenceID int64) jira.Repository {
	payload := RepositoryPayload(repo, updateSequenceID)
	for _, pr := range pulls {
		if jp := PullRequest(pr, repo, updateSequenceID); jp != nil {
			payload.PullRequests = append(payload.PullRequests, *jp)
		}
	}
	return payload
}

// PullRequest looks for issue keys in the title, head ref and body.
func PullRequest(pr model.PullRequest, repo model.Repository, updateSequenceID int64) *jira.PullRequest {
	keys := smartcommit.IssueKeys(pr.Title + "\n" + pr.HeadRef + "\n" + pr.Body)
	if len(keys) == 0 {
		return nil
	}

	sourceRepoURL := pr.HeadRepoURL
	if sourceRepoURL == "" {
		sourceRepoURL = repo.HTMLURL
	}
	return &jira.PullRequest{
		ID:                   strconv.Itoa(pr.Number),
		DisplayID:            "#" + strconv.Itoa(pr.Number),
		IssueKeys:            keys,
		Status:               PullRequestStatus(pr.State, pr.Draft, pr.MergedAt != nil),
		Title:                pr.Title,
		URL:                  pr.URL,
		Author:               author(pr.Author),
		CommentCount:         pr.CommentCount,
		SourceBranch:         pr.HeadRef,
		SourceBranchURL:      fmt.Sprintf("%s/tree/%s", sourceRepoURL, pr.HeadRef),
		DestinationBranch:    pr.BaseRef,
		DestinationBranchURL: fmt.Sprintf("%s/tree/%s", repo.HTMLURL, pr.BaseRef),
		LastUpdate:           pr.UpdatedAt,
		UpdateSequenceID:     updateSequenceID,
	}
}

// PullRequestStatus maps GitHub's state to OPEN, DRAFT, MERGED, DECLINED or UNKNOWN.
func PullRequestStatus(state string, draft, merged bool) string {
	switch strings.ToLower(state) {
	case "merged":
		return "MERGED"
	case "open":
		if draft {
			return "DRAFT"
		}
		return "OPEN"
	case "closed":
		if merged {
			return "MERGED"
		}
		return "DECLINED"
	case "declined":
		return "DECLINED"
	}
	return "UNKNOWN"
}

func commit(c model.Commit, issueKeys []string, updateSequenceID int64) jira.Commit {
	return jira.Commit{
		ID:               c.SHA,
		Hash:             c.SHA,
		DisplayID:        shortSHA(c.SHA),
		Message:          LimitCommitMessage(c.Message),
		Author:           author(c.Author),
		AuthorTimestamp:  c.AuthoredAt,
		URL:              c.URL,
		FileCount:        c.FileCount,
		IssueKeys:        issueKeys,
		UpdateSequenceID: updateSequenceID,
	}
}

// LimitCommitMessage truncates message to the length Jira stores.
func LimitCommitMessage(message string) string {
	runes := []rune(message)
	if len(runes) > maxCommitMessageLength {
		return string(runes[:maxCommitMessageLength])
	}
	return message
}

func shortSHA(sha string) string {
	if len(sha) > displayIDLength {
		return sha[:displayIDLength]
	}
	return sha
}

func author(a model.Author) jira.Author {
	if a.Login == "" && a.Name == "" {
		return jira.Author{
			Name:   "Deleted User",
			Email:  "deleted@noreply.user.github.com",
			Avatar: "https://github.com/ghost.png",
			URL:    "https://github.com/ghost",
		}
	}

	ja := jira.Author{
		Name:   a.Name,
		Email:  a.Email,
		Avatar: a.AvatarURL,
		URL:    a.HTMLURL,
	}
	if ja.Name == "" {
		ja.Name = a.Login
	}
	if ja.Email == "" && a.Login != "" {
		ja.Email = a.Login + "@noreply.user.github.com"
	}
	if ja.Avatar == "" && a.Login != "" {
		ja.Avatar = "https://github.com/users/" + a.Login + ".png"
	}
	if ja.URL == "" && a.Login != "" {
		ja.URL = "https://github.com/users/" + a.Login
	}
	return ja
}

// Jira's changeType enum: ADDED, COPIED, DELETED, MODIFIED, MOVED, UNKNOWN.
func mapChangeType(status string) string {
	switch status {
	case "added":
		return "ADDED"
	case "removed":
		return "DELETED"
	case "modified":
		return "MODIFIED"
	case "renamed":
		return "MOVED"
	case "copied":
		return "COPIED"
	}
	return "UNKNOWN"
}
