package cmd

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/policity/policity/internal/llm"
	"github.com/policity/policity/internal/logger"
	"github.com/policity/policity/internal/models"
	"github.com/policity/policity/internal/steps"
)

// Status returns the command that displays the stored state of a run.
func Status() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "status [flags] <run-id>",
			Short: "Display the stored state of a run",
			Long: `Display the persisted state of a pipeline run.

Shows the run status, progress and per-step states together with the
confidence and attempt count of each persisted step result. The command
only reads from the store; it never executes anything.

Example:
  policity status INC-20260301-0000001
`,
			Args: cobra.ExactArgs(1),
		}, statusFlags, runStatus,
	)
}

var statusFlags = []commandLineFlag{pipelineFlag}

func runStatus(ctx *Context, args []string) error {
	runID := args[0]

	store, err := ctx.OpenStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	rec, err := store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("run %q: %w", runID, err)
	}
	logger.Info(ctx, "Run status", "run_id", rec.RunID,
		"status", rec.Status.String(), "progress", rec.Progress)

	results, err := store.ListStepResults(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load step results: %w", err)
	}
	byStep := make(map[string]*models.StepResult, len(results))
	for _, res := range results {
		byStep[res.StepName] = res
	}

	// The graph is only loaded for display order. Offline dependencies
	// keep status usable without model credentials.
	graph, err := ctx.BuildGraph(steps.Deps{LLM: llm.Offline()})
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	names := graph.StepNames()
	// A record written under an older pipeline definition may hold steps
	// the current graph no longer has. Show them after the known ones.
	extras := lo.Filter(lo.Keys(rec.StepStates), func(name string, _ int) bool {
		return !lo.Contains(names, name)
	})
	slices.Sort(extras)
	names = append(names, extras...)

	if !ctx.Quiet {
		fmt.Printf("Run %s\n", rec.RunID)
		fmt.Printf("Status: %s  Progress: %d%%  Updated: %s\n",
			runStatusColorize(rec.Status), rec.Progress,
			rec.UpdatedAt.Local().Format(time.RFC3339))
		if rec.FailReason != "" {
			fmt.Printf("Reason: %s\n", rec.FailReason)
		}
		if rec.Disclaimer {
			fmt.Println(color.YellowString("⚠ report carries the low-confidence disclaimer"))
		}
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Step", "State", "Confidence", "Runs"})
	for _, name := range names {
		state, ok := rec.StepStates[name]
		if !ok {
			continue
		}
		confidence, runs := "-", "-"
		if res, found := byStep[name]; found {
			confidence = fmt.Sprintf("%.2f", res.Confidence)
			runs = fmt.Sprintf("%d", res.RunCount)
		}
		t.AppendRow(table.Row{name, stateColorize(state), confidence, runs})
	}
	t.Render()
	return nil
}
