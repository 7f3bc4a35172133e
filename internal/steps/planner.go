package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/policity/policity/internal/pipeline"
)

const plannerSystem = `You are an infrastructure planning agent for a municipal road ` +
	`maintenance department. You triage incoming damage reports and plan the research ` +
	`the rest of the pipeline performs.`

func newPlanner(deps Deps) pipeline.StepRunner {
	return &llmStep{
		name:               StepPlanner,
		client:             deps.LLM,
		system:             plannerSystem,
		buildPrompt:        plannerPrompt,
		fallback:           plannerFallback,
		fallbackConfidence: 0.95,
	}
}

func plannerPrompt(_ context.Context, req pipeline.StepRequest) string {
	loc := location(req.RunInputs)
	issue := issueType(req.RunInputs)

	var b strings.Builder
	fmt.Fprintf(&b, "A resident reported an issue of type %q at %q.\n\n", issue, loc)
	b.WriteString("Produce these fields:\n")
	b.WriteString(`- "search_queries": {"cost_research": [..], "contractor_search": [..], "budget_data": [..]} ` +
		"with sensible web search queries for each research track.\n")
	b.WriteString(`- "tasks_list": [{"agent", "priority"}] assigning the agents cost_research, ` +
		"budget, contractor and repair_plan priorities (1 = highest).\n")
	b.WriteString(`- "parsed_issue": {"category", "subtype", "severity_inferred", "severity_source", ` +
		`"urgency_flags"} inferred from the report (urgency flags like "near_school" or "main_road").` + "\n")
	b.WriteString(retryNudge(req.Attempt))
	return b.String()
}

func plannerFallback(req pipeline.StepRequest) map[string]any {
	loc := location(req.RunInputs)
	issue := issueType(req.RunInputs)
	year := fiscalYear(req.RunInputs)

	return map[string]any{
		"search_queries": map[string]any{
			"cost_research": []string{
				fmt.Sprintf("%s repair cost %s %d", issue, loc, year),
				fmt.Sprintf("labor cost for %s repair", issue),
			},
			"contractor_search": []string{
				fmt.Sprintf("%s repair contractors %s", issue, loc),
				fmt.Sprintf("local companies %s", loc),
			},
			"budget_data": []string{
				fmt.Sprintf("%s infrastructure budget %d", loc, year),
				"pavement repair allocation",
			},
		},
		"tasks_list": []map[string]any{
			{"agent": StepCostResearch, "priority": 1},
			{"agent": StepBudget, "priority": 1},
			{"agent": StepContractor, "priority": 2},
			{"agent": StepRepairPlan, "priority": 2},
		},
		"parsed_issue": map[string]any{
			"category":          "infrastructure",
			"subtype":           issue,
			"severity_inferred": "high",
			"severity_source":   "heuristics",
			"urgency_flags":     []string{"near_school"},
		},
	}
}
