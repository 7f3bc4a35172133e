// Package steps ships the builtin report pipeline: seven model-backed
// agents that turn a road-damage incident into a costed, validated
// repair report. Each agent is a pipeline.StepRunner; Registry wires
// them into the dependency graph the orchestrator executes.
package steps

import (
	"github.com/policity/policity/internal/factcache"
	"github.com/policity/policity/internal/llm"
	"github.com/policity/policity/internal/pipeline"
)

// Builtin step names. These are also the section names in the final
// report aggregate.
const (
	StepPlanner      = "planner"
	StepCostResearch = "cost_research"
	StepBudget       = "budget"
	StepRepairPlan   = "repair_plan"
	StepContractor   = "contractor"
	StepValidation   = "validation"
	StepReport       = "report"
)

// Deps carries the shared services the builtin steps draw on. Facts and
// Lookup may be nil; research steps then work from model knowledge
// alone.
type Deps struct {
	LLM    llm.Client
	Facts  factcache.Cache
	Lookup FactsClient
}

// Registry returns the builtin step set in dependency order. The layout
// mirrors how the report is assembled: triage first, research next,
// drafting on top of research, then cross-checking, then synthesis.
func Registry(deps Deps) []pipeline.StepSpec {
	return []pipeline.StepSpec{
		{Name: StepPlanner, Runner: newPlanner(deps)},
		{Name: StepCostResearch, Depends: []string{StepPlanner}, Runner: newCostResearch(deps)},
		{Name: StepContractor, Depends: []string{StepPlanner}, Runner: newContractor(deps)},
		{Name: StepBudget, Depends: []string{StepPlanner, StepCostResearch}, Runner: newBudget(deps)},
		{Name: StepRepairPlan, Depends: []string{StepPlanner, StepCostResearch}, Runner: newRepairPlan(deps)},
		{Name: StepValidation, Depends: []string{StepBudget, StepRepairPlan, StepContractor}, Runner: newValidation(deps)},
		{
			Name: StepReport,
			Depends: []string{
				StepPlanner, StepCostResearch, StepContractor,
				StepBudget, StepRepairPlan, StepValidation,
			},
			Runner: newReport(deps),
		},
	}
}

// Graph builds the builtin dependency graph.
func Graph(deps Deps) (*pipeline.DependencyGraph, error) {
	return pipeline.NewDependencyGraph(Registry(deps)...)
}
