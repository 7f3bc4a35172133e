package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/policity/policity/internal/pipeline"
)

const repairPlanSystem = `You are an infrastructure repair planning agent. You turn a ` +
	`damage report and its cost research into a phased, field-ready repair plan.`

func newRepairPlan(deps Deps) pipeline.StepRunner {
	return &llmStep{
		name:               StepRepairPlan,
		client:             deps.LLM,
		system:             repairPlanSystem,
		buildPrompt:        repairPlanPrompt,
		fallback:           repairPlanFallback,
		fallbackConfidence: 0.92,
	}
}

func repairPlanPrompt(_ context.Context, req pipeline.StepRequest) string {
	loc := location(req.RunInputs)
	issue := issueType(req.RunInputs)

	var b strings.Builder
	fmt.Fprintf(&b, "Create a detailed repair plan for %q at %q.\n\n", issue, loc)

	if upstream := renderUpstream(req.Upstream, []string{StepPlanner, StepCostResearch}, 800); upstream != "" {
		fmt.Fprintf(&b, "Context from earlier sections:\n%s\n", upstream)
	}

	b.WriteString("Produce these fields:\n")
	b.WriteString(`- "repair_phases": [{"phase", "name", "description", "duration_hours", "materials_needed", "prerequisites"}]` + "\n")
	b.WriteString(`- "recommended_method": the method best suited here` + "\n")
	b.WriteString(`- "alternative_methods": [{"method", "pros", "cons", "best_for"}]` + "\n")
	b.WriteString(`- "permits_required": whether permits are typically required` + "\n")
	b.WriteString(`- "safety_considerations": [..]` + "\n")
	b.WriteString(retryNudge(req.Attempt))
	return b.String()
}

func repairPlanFallback(_ pipeline.StepRequest) map[string]any {
	return map[string]any{
		"repair_phases": []map[string]any{
			{
				"phase":            1,
				"name":             "Site Assessment",
				"description":      "Evaluate issue and surrounding area",
				"duration_hours":   0.5,
				"materials_needed": []string{"measuring tape"},
				"prerequisites":    []string{},
			},
			{
				"phase":            2,
				"name":             "Surface Preparation",
				"description":      "Clean debris",
				"duration_hours":   1.0,
				"materials_needed": []string{"broom"},
				"prerequisites":    []string{"phase_1"},
			},
			{
				"phase":            3,
				"name":             "Execution",
				"description":      "Apply material",
				"duration_hours":   1.5,
				"materials_needed": []string{"material"},
				"prerequisites":    []string{"phase_2"},
			},
		},
		"recommended_method": "standard repair method",
		"alternative_methods": []map[string]any{
			{"method": "quick fix", "pros": "fast", "cons": "temporary", "best_for": "emergencies"},
		},
		"permits_required":      false,
		"safety_considerations": []string{"traffic control", "PPE required"},
	}
}
