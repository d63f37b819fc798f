package pipeline

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/zen-systems/careerflow/pkg/normalize"
)

// ToolKind names a capability attached to a stage's agent.
type ToolKind string

const (
	ToolPDFRetrieval ToolKind = "pdf_retrieval"
	ToolWebSearch    ToolKind = "web_search"
	ToolNone         ToolKind = "none"
)

// ParseToolKind validates a tool name from a manifest.
func ParseToolKind(s string) (ToolKind, error) {
	switch ToolKind(strings.ToLower(strings.TrimSpace(s))) {
	case ToolPDFRetrieval:
		return ToolPDFRetrieval, nil
	case ToolWebSearch:
		return ToolWebSearch, nil
	case ToolNone, "":
		return ToolNone, nil
	default:
		return "", fmt.Errorf("unknown tool %q", s)
	}
}

// Agent personas a stage may name. An empty agent uses the executor's
// default persona.
var agentNames = []string{
	"resume_analyzer",
	"job_finder",
	"ats_scorer",
	"resume_writer",
	"cover_letter_writer",
	"interview_coach",
}

// AgentNames returns the persona names accepted in manifests.
func AgentNames() []string {
	return append([]string(nil), agentNames...)
}

func knownAgent(name string) bool {
	for _, n := range agentNames {
		if n == name {
			return true
		}
	}
	return false
}

// Stage declares a single step in a pipeline. It is immutable once its
// pipeline has been validated.
type Stage struct {
	ID        string          `yaml:"id"`
	Agent     string          `yaml:"agent"`
	Model     string          `yaml:"model,omitempty"`
	Prompt    string          `yaml:"prompt"`
	DependsOn []string        `yaml:"depends_on,omitempty"`
	Shape     normalize.Shape `yaml:"shape"`
	Tools     []ToolKind      `yaml:"tools,omitempty"`
	Schema    string          `yaml:"schema,omitempty"`
	Output    string          `yaml:"output,omitempty"`

	tmpl       *template.Template
	implicit   []string
	normalizer *normalize.Normalizer
}

// OutputKey is the key the stage's value is reported under.
func (s *Stage) OutputKey() string {
	if s.Output != "" {
		return s.Output
	}
	return s.ID
}

// ToolSet returns the stage's tools with "none" entries removed.
func (s *Stage) ToolSet() []ToolKind {
	var tools []ToolKind
	seen := make(map[ToolKind]struct{})
	for _, t := range s.Tools {
		if t == ToolNone || t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		tools = append(tools, t)
	}
	return tools
}

// HasTool reports whether the stage declares the given tool.
func (s *Stage) HasTool(kind ToolKind) bool {
	for _, t := range s.ToolSet() {
		if t == kind {
			return true
		}
	}
	return false
}

// Normalizer returns the normalizer configured for this stage. It is only
// available after validation.
func (s *Stage) Normalizer() *normalize.Normalizer {
	return s.normalizer
}
