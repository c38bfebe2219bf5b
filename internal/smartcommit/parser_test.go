// internal/smartcommit/parser_test.go
package smartcommit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_IssueKeys(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"single key", "JRA-090", []string{"JRA-090"}},
		{"underscore in project key", "J_1993A-090", nil},
		{"leading underscore or digit", "_1993A-090 1993A-090", nil},
		{"bracket wrapped", "[DEV-4189][DEV-4191]", []string{"DEV-4189", "DEV-4191"}},
		{"hyphen separated", "JRA-090 JRA-091 JRA-092-JRA-093, JRA-094", []string{"JRA-090", "JRA-091", "JRA-092", "JRA-093", "JRA-094"}},
		{"surrounded by text", "Ignored text JRA-090 JRA-091 ignored text", []string{"JRA-090", "JRA-091"}},
		{"hash prefixed", "#JRA-123 [#JRA-456]", []string{"JRA-123", "JRA-456"}},
		{"branch name", "branchname_JRA-096", []string{"JRA-096"}},
		{"pull request title", "[TEST-123] body of the test pull request.\n", []string{"TEST-123"}},
		{"duplicates collapse", "JRA-1 JRA-1 JRA-2", []string{"JRA-1", "JRA-2"}},
		{"no keys", "fix typo", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.text)
			assert.Equal(t, tt.want, got.IssueKeys)
		})
	}
}

func TestParse_Commands(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Result
	}{
		{
			name: "comment inherits segment keys",
			text: "JRA-123 #comment This is a comment",
			want: Result{
				IssueKeys: []string{"JRA-123"},
				Commands:  []Command{{Kind: KindComment, Text: "This is a comment", IssueKeys: []string{"JRA-123"}}},
			},
		},
		{
			name: "transition with text",
			text: "JRA-090 #resolve Finally finished",
			want: Result{
				IssueKeys: []string{"JRA-090"},
				Commands:  []Command{{Kind: KindTransition, Name: "resolve", Text: "Finally finished", IssueKeys: []string{"JRA-090"}}},
			},
		},
		{
			name: "transition without keys",
			text: "#start-development",
			want: Result{Commands: []Command{{Kind: KindTransition, Name: "start-development"}}},
		},
		{
			name: "commands in a row",
			text: "#comment This is a comment #start-development #time 4m",
			want: Result{Commands: []Command{
				{Kind: KindComment, Text: "This is a comment"},
				{Kind: KindTransition, Name: "start-development"},
				{Kind: KindWorklog, Time: 240},
			}},
		},
		{
			name: "keys inside commands are ignored",
			text: "JRA-090 #comment JRA-091 #transition JRA-092",
			want: Result{
				IssueKeys: []string{"JRA-090"},
				Commands: []Command{
					{Kind: KindComment, Text: "JRA-091", IssueKeys: []string{"JRA-090"}},
					{Kind: KindTransition, Name: "transition", Text: "JRA-092", IssueKeys: []string{"JRA-090"}},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.text))
		})
	}
}

func TestParse_Worklog(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantTime int64
		wantText string
	}{
		{"all units", "#time 1w 2d 3h 4m", 604800 + 172800 + 10800 + 240, ""},
		{"with comment", "#time 1w 2d 3h 4m This is a comment", 604800 + 172800 + 10800 + 240, "This is a comment"},
		{"any order", "#time 1h 2m 3w 4d This is a different comment", 3600 + 120 + 1814400 + 345600, "This is a different comment"},
		{"decimals", "#time 1.5h 0.5m", 5400 + 30, ""},
		{"unknown unit stops parsing", "#time 1q This is a comment", 0, "1q This is a comment"},
		{"unknown unit after valid ones", "#time 2h 3x left over", 7200, "3x left over"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.text)
			if assert.Len(t, got.Commands, 1) {
				assert.Equal(t, KindWorklog, got.Commands[0].Kind)
				assert.Equal(t, tt.wantTime, got.Commands[0].Time)
				assert.Equal(t, tt.wantText, got.Commands[0].Text)
			}
		})
	}
}

func TestParse_Deterministic(t *testing.T) {
	inputs := []string{
		"JRA-123 JRA-234 JRA-345 #resolve #time 2d 5h #comment ahead of schedule",
		"",
		"####",
		"feature/ABC-1-thing",
	}
	for _, in := range inputs {
		assert.Equal(t, Parse(in), Parse(in), in)
	}

	got := Parse(inputs[0])
	assert.Equal(t, []string{"JRA-123", "JRA-234", "JRA-345"}, got.IssueKeys)
	if assert.Len(t, got.Commands, 3) {
		assert.Equal(t, "resolve", got.Commands[0].Name)
		assert.Equal(t, int64(190800), got.Commands[1].Time)
		assert.Equal(t, "ahead of schedule", got.Commands[2].Text)
	}
}

func TestProjectKey(t *testing.T) {
	assert.Equal(t, "JRA", ProjectKey("JRA-123"))
	assert.Equal(t, "AB2", ProjectKey("AB2-9"))
	assert.Equal(t, "nokey", ProjectKey("nokey"))
}
