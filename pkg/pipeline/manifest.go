package pipeline

import (
	"embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/zen-systems/careerflow/pkg/normalize"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// LoadManifest reads a pipeline definition from a YAML file.
func LoadManifest(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseManifest(data)
}

// ParseManifest decodes a pipeline definition.
func ParseManifest(data []byte) (*Pipeline, error) {
	var pipeline Pipeline
	if err := yaml.Unmarshal(data, &pipeline); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &pipeline, nil
}

// Builtin returns a fresh copy of a bundled pipeline ("basic" or "full").
func Builtin(name string) (*Pipeline, error) {
	data, err := builtinFS.ReadFile("builtin/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown builtin pipeline %q (available: %s)", name, strings.Join(BuiltinNames(), ", "))
	}
	p, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// BuiltinNames lists the bundled pipelines.
func BuiltinNames() []string {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// Resolve loads a manifest when ref looks like a file path and a builtin
// pipeline otherwise.
func Resolve(ref string) (*Pipeline, error) {
	if ref == "" {
		ref = "basic"
	}
	if strings.HasSuffix(ref, ".yaml") || strings.HasSuffix(ref, ".yml") || strings.ContainsRune(ref, os.PathSeparator) {
		p, err := LoadManifest(ref)
		if err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		return p, nil
	}
	return Builtin(ref)
}

// Validate checks the pipeline configuration and prepares stage templates
// and normalizers. Declaration order must be a dependency order: a stage
// may only depend on stages listed before it.
func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return &ConfigError{Reason: "pipeline name is required"}
	}
	if len(p.Stages) == 0 {
		return &ConfigError{Pipeline: p.Name, Reason: "pipeline must define at least one stage"}
	}

	strategy, err := normalize.ParseStrategy(p.Normalization)
	if err != nil {
		return &ConfigError{Pipeline: p.Name, Reason: err.Error()}
	}
	p.strategy = strategy

	declared := make(map[string]int, len(p.Stages))
	for i, stage := range p.Stages {
		if stage == nil {
			return &ConfigError{Pipeline: p.Name, Reason: fmt.Sprintf("stage %d is empty", i)}
		}
		if stage.ID == "" {
			return &ConfigError{Pipeline: p.Name, Reason: fmt.Sprintf("stage %d has no id", i)}
		}
		if _, ok := declared[stage.ID]; ok {
			return &ConfigError{Pipeline: p.Name, Stage: stage.ID, Reason: "duplicate stage id"}
		}
		declared[stage.ID] = i
	}

	outputs := make(map[string]string, len(p.Stages))
	for i, stage := range p.Stages {
		if err := p.validateStage(stage, i, declared); err != nil {
			return err
		}
		key := stage.OutputKey()
		if other, ok := outputs[key]; ok {
			return &ConfigError{Pipeline: p.Name, Stage: stage.ID, Reason: fmt.Sprintf("output key %q already used by stage %s", key, other)}
		}
		outputs[key] = stage.ID
	}

	p.validated = true
	return nil
}

func (p *Pipeline) validateStage(stage *Stage, index int, declared map[string]int) error {
	fail := func(format string, args ...any) error {
		return &ConfigError{Pipeline: p.Name, Stage: stage.ID, Reason: fmt.Sprintf(format, args...)}
	}

	if strings.TrimSpace(stage.Prompt) == "" {
		return fail("prompt is required")
	}
	if stage.Agent != "" && !knownAgent(stage.Agent) {
		return fail("unknown agent %q", stage.Agent)
	}
	if stage.Shape == "" {
		return fail("shape is required (object, array or text)")
	}
	shape, err := normalize.ParseShape(string(stage.Shape))
	if err != nil {
		return fail("%v", err)
	}
	stage.Shape = shape

	for i, t := range stage.Tools {
		kind, err := ParseToolKind(string(t))
		if err != nil {
			return fail("%v", err)
		}
		stage.Tools[i] = kind
	}

	seen := make(map[string]struct{}, len(stage.DependsOn))
	for _, dep := range stage.DependsOn {
		if dep == stage.ID {
			return fail("stage depends on itself")
		}
		pos, ok := declared[dep]
		if !ok {
			return fail("unknown dependency %s", dep)
		}
		if pos > index {
			return fail("depends on %s which is declared later; stages must be listed in dependency order", dep)
		}
		if _, dup := seen[dep]; dup {
			return fail("dependency %s listed twice", dep)
		}
		seen[dep] = struct{}{}
	}

	tmpl, err := template.New(stage.ID).Option("missingkey=error").Parse(stage.Prompt)
	if err != nil {
		return fail("parse prompt template: %v", err)
	}
	implicit, err := probeTemplate(tmpl, stage.DependsOn)
	if err != nil {
		return fail("prompt template: %v", err)
	}
	stage.tmpl = tmpl
	stage.implicit = implicit

	opts := []normalize.Option{normalize.WithStrategy(p.strategy)}
	if stage.Schema != "" {
		if shape == normalize.ShapeText {
			return fail("schema cannot apply to a text stage")
		}
		schema, err := normalize.CompileSchema(stage.Schema)
		if err != nil {
			return fail("%v", err)
		}
		opts = append(opts, normalize.WithSchema(schema))
	}
	stage.normalizer = normalize.New(opts...)

	return nil
}

// probeTemplate renders tmpl with marker values and returns the
// dependencies the template never references. Those are appended to the
// prompt as context at run time. References to undeclared dependencies fail
// here instead of mid-run.
func probeTemplate(tmpl *template.Template, deps []string) ([]string, error) {
	markers := make(map[string]string, len(deps))
	for _, dep := range deps {
		markers[dep] = "@@dep:" + dep + "@@"
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, promptData("document", markers)); err != nil {
		return nil, err
	}
	out := sb.String()

	var implicit []string
	for _, dep := range deps {
		if !strings.Contains(out, markers[dep]) {
			implicit = append(implicit, dep)
		}
	}
	return implicit, nil
}
