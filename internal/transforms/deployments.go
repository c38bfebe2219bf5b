// internal/transforms/deployments.go
package transforms

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/tidwall/match"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github-jira-sync/internal/jira"
	"github-jira-sync/internal/model"
	"github-jira-sync/internal/smartcommit"
)

// RepoConfigPath is where a repository keeps its Jira settings.
const RepoConfigPath = ".jira/config.yml"

const (
	EnvironmentUnmapped    = "unmapped"
	EnvironmentDevelopment = "development"
	EnvironmentTesting     = "testing"
	EnvironmentStaging     = "staging"
	EnvironmentProduction  = "production"

	maxDeploymentTextLength = 255
)

// RepoConfig is the parsed form of a repository's .jira/config.yml.
type RepoConfig struct {
	Deployments struct {
		EnvironmentMapping EnvironmentMapping `yaml:"environmentMapping"`
	} `yaml:"deployments"`
}

// EnvironmentGlobs lists the environment name globs of one environment type.
type EnvironmentGlobs struct {
	Type  string
	Globs []string
}

// EnvironmentMapping keeps the environment types in the order the file lists them,
// so the first listed type wins when globs of several types match.
type EnvironmentMapping []EnvironmentGlobs

func (m *EnvironmentMapping) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: environmentMapping must be a mapping", node.Line)
	}
	out := make(EnvironmentMapping, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var entry EnvironmentGlobs
		if err := node.Content[i].Decode(&entry.Type); err != nil {
			return err
		}
		if err := node.Content[i+1].Decode(&entry.Globs); err != nil {
			return err
		}
		out = append(out, entry)
	}
	*m = out
	return nil
}

func ParseRepoConfig(data []byte) (*RepoConfig, error) {
	var cfg RepoConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", RepoConfigPath, err)
	}
	return &cfg, nil
}

type environmentAliases struct {
	kind    string
	pattern *regexp.Regexp
}

var environmentTable = []environmentAliases{
	{EnvironmentDevelopment, aliasPattern("development", "dev", "trunk", "develop")},
	{EnvironmentTesting, aliasPattern("testing", "test", "tests", "tst", "integration", "integ", "intg", "int",
		"acceptance", "accept", "acpt", "qa", "qc", "control", "quality", "uat", "sit")},
	{EnvironmentStaging, aliasPattern("staging", "stage", "stg", "sta", "preprod", "model", "internal")},
	{EnvironmentProduction, aliasPattern("production", "prod", "prd", "live")},
}

// aliasPattern matches an alias with an optional prefix or suffix split off by a
// separator, so "prod-east" and "us:prod" both match "prod".
func aliasPattern(aliases ...string) *regexp.Regexp {
	return regexp.MustCompile(`^(.*[^a-z0-9])?(` + strings.Join(aliases, "|") + `)([^a-z0-9].*)?$`)
}

var validEnvironmentTypes = map[string]bool{
	EnvironmentDevelopment: true,
	EnvironmentTesting:     true,
	EnvironmentStaging:     true,
	EnvironmentProduction:  true,
}

// MapEnvironment classifies a GitHub environment name. A matching glob in cfg wins
// over the built-in alias table.
func MapEnvironment(environment string, cfg *RepoConfig) string {
	if cfg != nil {
		for _, entry := range cfg.Deployments.EnvironmentMapping {
			for _, glob := range entry.Globs {
				if match.Match(environment, glob) {
					if validEnvironmentTypes[entry.Type] {
						return entry.Type
					}
					return EnvironmentUnmapped
				}
			}
		}
	}

	normalized := strings.ToLower(deburr(environment))
	for _, env := range environmentTable {
		if env.pattern.MatchString(normalized) {
			return env.kind
		}
	}
	return EnvironmentUnmapped
}

// DeploymentState maps a GitHub deployment status to a Jira deployment state.
func DeploymentState(state string) string {
	switch strings.ToLower(state) {
	case "queued", "waiting":
		return "pending"
	// GitHub goes straight from pending to success, so pending reads better as in progress.
	case "pending", "in_progress":
		return "in_progress"
	case "success":
		return "successful"
	case "error", "failure":
		return "failed"
	case "inactive":
		return "rolled_back"
	}
	return "unknown"
}

// Deployment maps a deployment status event. Issue keys come from the deployed
// ref and commit message; nil is returned when there are none.
func Deployment(d model.Deployment, cfg *RepoConfig) *jira.Deployment {
	keys := smartcommit.IssueKeys(d.Ref + "\n" + d.CommitMessage)
	if len(keys) == 0 {
		return nil
	}

	url := d.TargetURL
	if url == "" {
		url = d.URL
	}
	displayName := d.CommitMessage
	if displayName == "" {
		displayName = strconv.FormatInt(d.ID, 10)
	}
	description := firstNonEmpty(d.Description, d.StatusDescription, d.Task)

	return &jira.Deployment{
		SchemaVersion:            "1.0",
		DeploymentSequenceNumber: d.ID,
		UpdateSequenceNumber:     d.StatusID,
		IssueKeys:                keys,
		DisplayName:              limitRunes(displayName, maxDeploymentTextLength),
		URL:                      url,
		Description:              limitRunes(description, maxDeploymentTextLength),
		LastUpdated:              d.UpdatedAt,
		State:                    DeploymentState(d.State),
		Pipeline: jira.Pipeline{
			ID:          d.Task,
			DisplayName: d.Task,
			URL:         url,
		},
		Environment: jira.Environment{
			ID:          d.Environment,
			DisplayName: d.Environment,
			Type:        MapEnvironment(d.Environment, cfg),
		},
	}
}

// deburr strips combining marks, turning "prödüction" into "production".
func deburr(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func limitRunes(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
