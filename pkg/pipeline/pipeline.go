package pipeline

import "github.com/zen-systems/careerflow/pkg/normalize"

// Pipeline is an ordered list of stages. The declaration order must already
// be a valid dependency order; Validate rejects anything else.
type Pipeline struct {
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	Normalization string   `yaml:"normalization,omitempty"`
	Stages        []*Stage `yaml:"stages"`

	strategy  normalize.Strategy
	validated bool
}

// Stage returns the stage with the given id.
func (p *Pipeline) Stage(id string) (*Stage, bool) {
	for _, s := range p.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// StageIDs returns stage ids in declaration order.
func (p *Pipeline) StageIDs() []string {
	ids := make([]string, 0, len(p.Stages))
	for _, s := range p.Stages {
		ids = append(ids, s.ID)
	}
	return ids
}

// NeedsTool reports whether any stage declares the given tool.
func (p *Pipeline) NeedsTool(kind ToolKind) bool {
	for _, s := range p.Stages {
		if s.HasTool(kind) {
			return true
		}
	}
	return false
}
