package pipeline

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Step kinds a definition file may declare. An empty kind means builtin.
const (
	StepKindBuiltin = "builtin"
	StepKindLLM     = "llm"
)

var (
	ErrDefinitionNoSteps   = errors.New("definition has no steps")
	ErrStepNameRequired    = errors.New("step name is required")
	ErrUnknownStepKind     = errors.New("unknown step kind")
	ErrPromptRequired      = errors.New("llm step requires a prompt")
	ErrPromptNotAllowed    = errors.New("prompt is only valid on llm steps")
	ErrThresholdOutOfRange = errors.New("threshold must be between 0 and 1")
)

// Definition is a declarative pipeline layout loaded from YAML. It names
// the steps to run and how they depend on each other; runner resolution
// happens elsewhere, against the builtin registry or the model client.
//
//	name: quick-triage
//	steps:
//	  - name: planner
//	  - name: council_note
//	    kind: llm
//	    depends: [planner]
//	    threshold: 0.5
//	    system: You write briefing notes for council members.
//	    prompt: |
//	      Summarize the issue at {{ .Inputs.location }} using:
//	      {{ .Upstream.planner }}
type Definition struct {
	Name  string           `yaml:"name"`
	Steps []StepDefinition `yaml:"steps"`
}

// StepDefinition is one step entry in a definition file.
type StepDefinition struct {
	Name    string   `yaml:"name"`
	Kind    string   `yaml:"kind"`
	Depends []string `yaml:"depends"`

	// Threshold overrides the run-wide acceptance threshold when set.
	Threshold *float64 `yaml:"threshold"`

	// System and Prompt apply to llm steps. Prompt is a text/template
	// over {RunID, Inputs, Upstream, Attempt}.
	System string `yaml:"system"`
	Prompt string `yaml:"prompt"`
}

// EffectiveKind returns the declared kind, defaulting to builtin.
func (s StepDefinition) EffectiveKind() string {
	if s.Kind == "" {
		return StepKindBuiltin
	}
	return s.Kind
}

// LoadDefinition reads and validates a pipeline definition file.
func LoadDefinition(path string) (*Definition, error) {
	// nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline definition: %w", err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("pipeline definition %q: %w", path, err)
	}
	return def, nil
}

// ParseDefinition parses and validates YAML definition data.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the definition's own consistency. Dependency
// resolution and cycle detection happen later, when the graph is built.
func (d *Definition) Validate() error {
	if len(d.Steps) == 0 {
		return ErrDefinitionNoSteps
	}

	seen := make(map[string]struct{}, len(d.Steps))
	for i, step := range d.Steps {
		if step.Name == "" {
			return fmt.Errorf("step %d: %w", i, ErrStepNameRequired)
		}
		if _, dup := seen[step.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateStep, step.Name)
		}
		seen[step.Name] = struct{}{}

		switch step.EffectiveKind() {
		case StepKindBuiltin:
			if step.Prompt != "" {
				return fmt.Errorf("step %s: %w", step.Name, ErrPromptNotAllowed)
			}
		case StepKindLLM:
			if step.Prompt == "" {
				return fmt.Errorf("step %s: %w", step.Name, ErrPromptRequired)
			}
		default:
			return fmt.Errorf("step %s: %w: %s", step.Name, ErrUnknownStepKind, step.Kind)
		}

		if step.Threshold != nil && (*step.Threshold < 0 || *step.Threshold > 1) {
			return fmt.Errorf("step %s: %w", step.Name, ErrThresholdOutOfRange)
		}
	}
	return nil
}
