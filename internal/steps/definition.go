package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"

	sprig "github.com/go-task/slim-sprig/v3"

	"github.com/policity/policity/internal/pipeline"
)

// ErrUnknownBuiltin is returned when a definition names a builtin step
// the registry does not ship.
var ErrUnknownBuiltin = errors.New("unknown builtin step")

const customSystem = `You author one section of a municipal infrastructure report. ` +
	`Work from the provided context and keep the answer factual.`

// offlineCustomConfidence keeps placeholder sections for user-declared
// steps below the acceptance bar, so they surface as degraded and raise
// the run disclaimer instead of passing silently.
const offlineCustomConfidence = 0.5

// FromDefinition maps a loaded definition onto executable specs.
// Builtin entries draw runner and, when depends is omitted, dependencies
// from the registry; llm entries get a templated runner over the shared
// model client. Unknown dependency names and cycles surface when the
// graph is built.
func FromDefinition(def *pipeline.Definition, deps Deps) ([]pipeline.StepSpec, error) {
	builtin := make(map[string]pipeline.StepSpec, len(Registry(deps)))
	for _, spec := range Registry(deps) {
		builtin[spec.Name] = spec
	}

	specs := make([]pipeline.StepSpec, 0, len(def.Steps))
	for _, sd := range def.Steps {
		spec := pipeline.StepSpec{
			Name:      sd.Name,
			Depends:   sd.Depends,
			Threshold: sd.Threshold,
		}

		switch sd.EffectiveKind() {
		case pipeline.StepKindBuiltin:
			reg, ok := builtin[sd.Name]
			if !ok {
				return nil, fmt.Errorf("step %q: %w", sd.Name, ErrUnknownBuiltin)
			}
			spec.Runner = reg.Runner
			if len(spec.Depends) == 0 {
				spec.Depends = reg.Depends
			}
		case pipeline.StepKindLLM:
			runner, err := newTemplated(sd, deps)
			if err != nil {
				return nil, err
			}
			spec.Runner = runner
		}

		specs = append(specs, spec)
	}
	return specs, nil
}

// GraphFromDefinition builds the dependency graph for a definition.
func GraphFromDefinition(def *pipeline.Definition, deps Deps) (*pipeline.DependencyGraph, error) {
	specs, err := FromDefinition(def, deps)
	if err != nil {
		return nil, err
	}
	return pipeline.NewDependencyGraph(specs...)
}

// templatedStep runs a user-declared prompt template against the model.
// The template sees RunID, Inputs, Upstream (section name to rendered
// output) and Attempt.
type templatedStep struct {
	base *llmStep
	tmpl *template.Template
}

func newTemplated(sd pipeline.StepDefinition, deps Deps) (*templatedStep, error) {
	tmpl, err := template.New(sd.Name).Funcs(sprig.TxtFuncMap()).Parse(sd.Prompt)
	if err != nil {
		return nil, fmt.Errorf("step %q: parse prompt template: %w", sd.Name, err)
	}

	system := sd.System
	if system == "" {
		system = customSystem
	}

	return &templatedStep{
		base: &llmStep{
			name:   sd.Name,
			client: deps.LLM,
			system: system,
			fallback: func(_ pipeline.StepRequest) map[string]any {
				return map[string]any{"note": "section skipped: model API not configured"}
			},
			fallbackConfidence: offlineCustomConfidence,
		},
		tmpl: tmpl,
	}, nil
}

func (s *templatedStep) Execute(ctx context.Context, req pipeline.StepRequest) (*pipeline.StepResponse, error) {
	var buf bytes.Buffer
	if err := s.tmpl.Execute(&buf, templateData(req)); err != nil {
		return nil, fmt.Errorf("step %s: render prompt: %w", s.base.name, err)
	}
	return s.base.generate(ctx, req, buf.String()+retryNudge(req.Attempt))
}

func templateData(req pipeline.StepRequest) map[string]any {
	upstream := make(map[string]string, len(req.Upstream))
	for name, dep := range req.Upstream {
		if dep.Unavailable {
			upstream[name] = "data unavailable"
			continue
		}
		upstream[name] = string(dep.Output)
	}
	return map[string]any{
		"RunID":    req.RunID,
		"Inputs":   req.RunInputs,
		"Upstream": upstream,
		"Attempt":  req.Attempt,
	}
}
