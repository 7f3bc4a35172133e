package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/policity/policity/internal/models"
	"github.com/policity/policity/internal/pipeline"
)

var sectionHeader = table.Row{"Section", "Status", "Confidence"}

// printSummary renders the per-section outcome table after a run.
func printSummary(ctx *Context, graph *pipeline.DependencyGraph, result *models.RunResult) {
	if ctx.Quiet {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(sectionHeader)
	for _, name := range graph.StepNames() {
		section, ok := result.Sections[name]
		if !ok {
			continue
		}
		t.AppendRow(table.Row{
			name,
			sectionColorize(section.Status),
			fmt.Sprintf("%.2f", section.Confidence),
		})
	}
	t.Render()

	fmt.Printf("run %s: %s, %d%% complete\n", result.RunID, result.Status, result.Progress)
	if result.Disclaimer {
		fmt.Println(color.YellowString("⚠ some sections carry low confidence; review before acting on this report"))
	}
}

func sectionColorize(status models.SectionStatus) string {
	s := status.String()
	switch status {
	case models.SectionOK:
		return color.GreenString(s)
	case models.SectionDegraded:
		return color.YellowString(s)
	case models.SectionUnavailable:
		return color.RedString(s)
	default:
		return s
	}
}

func stateColorize(state models.StepState) string {
	s := state.String()
	switch state {
	case models.StepRunning:
		return color.New(color.FgHiGreen).Sprint(s)
	case models.StepCompleted:
		return color.GreenString(s)
	case models.StepSkipped:
		return color.New(color.Faint).Sprint(s)
	case models.StepFailed:
		return color.RedString(s)
	default:
		return s
	}
}

func runStatusColorize(status models.RunStatus) string {
	s := status.String()
	switch status {
	case models.RunRunning:
		return color.New(color.FgHiGreen).Sprint(s)
	case models.RunComplete:
		return color.GreenString(s)
	case models.RunFailed:
		return color.RedString(s)
	default:
		return s
	}
}
