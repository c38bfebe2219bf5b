// internal/smartcommit/parser.go
package smartcommit

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// CommandKind classifies a #command found in a smart commit.
type CommandKind string

const (
	KindComment    CommandKind = "comment"
	KindWorklog    CommandKind = "worklog"
	KindTransition CommandKind = "transition"
)

// Command is one directive parsed from the command segment.
type Command struct {
	Kind CommandKind `json:"kind"`
	// Name is set for transitions only.
	Name string `json:"name,omitempty"`
	Text string `json:"text,omitempty"`
	// Time is the logged work in seconds, set for worklogs only.
	Time      int64    `json:"time,omitempty"`
	IssueKeys []string `json:"issueKeys,omitempty"`
}

// Result holds the issue keys and commands found in a piece of text.
// IssueKeys is nil when the text references no issue.
type Result struct {
	IssueKeys []string  `json:"issueKeys,omitempty"`
	Commands  []Command `json:"commands,omitempty"`
}

var (
	issueKeyPattern = regexp.MustCompile(`(?:^|[^A-Za-z0-9])([A-Z][A-Z0-9]+-[0-9]+)`)
	wholeKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]+-[0-9]+$`)
	commandPattern  = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_-]*)`)
	durationPattern = regexp.MustCompile(`^\s*([0-9]+(?:\.[0-9]+)?)([wdhm])(?:\s+|$)`)
)

var unitSeconds = map[string]float64{
	"w": 7 * 24 * 60 * 60,
	"d": 24 * 60 * 60,
	"h": 60 * 60,
	"m": 60,
}

// Parse extracts issue keys from the text preceding the first command and
// classifies every command that follows. It has no side effects.
func Parse(text string) Result {
	starts := commandStarts(text)

	segment := text
	if len(starts) > 0 {
		segment = text[:starts[0].hash]
	}

	result := Result{IssueKeys: IssueKeys(segment)}
	for i, s := range starts {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1].hash
		}
		body := strings.TrimSpace(text[s.bodyStart:end])
		cmd := newCommand(s.word, body)
		cmd.IssueKeys = result.IssueKeys
		result.Commands = append(result.Commands, cmd)
	}
	return result
}

// IssueKeys returns the distinct issue keys in text in order of appearance, or nil.
func IssueKeys(text string) []string {
	matches := issueKeyPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	var keys []string
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		keys = append(keys, m[1])
	}
	return keys
}

// ProjectKey returns the project part of an issue key ("JRA" for "JRA-12").
func ProjectKey(issueKey string) string {
	if i := strings.LastIndexByte(issueKey, '-'); i > 0 {
		return issueKey[:i]
	}
	return issueKey
}

type commandStart struct {
	hash      int
	bodyStart int
	word      string
}

func commandStarts(text string) []commandStart {
	var starts []commandStart
	for _, loc := range commandPattern.FindAllStringSubmatchIndex(text, -1) {
		word := text[loc[2]:loc[3]]
		// "#JRA-123" references an issue rather than issuing a command.
		if wholeKeyPattern.MatchString(word) {
			continue
		}
		starts = append(starts, commandStart{hash: loc[2] - 1, bodyStart: loc[3], word: word})
	}
	return starts
}

func newCommand(word, body string) Command {
	switch strings.ToLower(word) {
	case "comment":
		return Command{Kind: KindComment, Text: body}
	case "time":
		seconds, rest := parseDuration(body)
		return Command{Kind: KindWorklog, Time: seconds, Text: rest}
	default:
		return Command{Kind: KindTransition, Name: word, Text: body}
	}
}

// parseDuration consumes leading "<amount><unit>" tokens. The first token that is
// not a duration ends the duration, and it and everything after become the text.
func parseDuration(body string) (int64, string) {
	var total float64
	rest := body
	for {
		m := durationPattern.FindStringSubmatch(rest)
		if m == nil {
			break
		}
		amount, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			break
		}
		total += amount * unitSeconds[m[2]]
		rest = rest[len(m[0]):]
	}
	return int64(math.Round(total)), strings.TrimSpace(rest)
}
