package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/policity/policity/internal/logger"
	"github.com/policity/policity/internal/models"
	"github.com/policity/policity/internal/notify"
	"github.com/policity/policity/internal/pipeline"
	"github.com/policity/policity/internal/steps"
)

func Run() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "run [flags]",
			Short: "Execute the report pipeline once",
			Long: `Run the report pipeline for one incident and print the outcome.

Inputs come from a JSON file (--input) and can be overridden with the
--location, --issue-type and --fiscal-year flags. Results persist under
the run ID; rerunning the same ID serves the stored report without
executing anything, unless --force-refresh names steps to recompute.

Example:
  policity run --location="5th & Main" --issue-type=pothole
  policity run --input=incident.json --run-id=INC-20250824-0000001
  policity run --run-id=INC-20250824-0000001 --force-refresh=cost_research,budget
`,
		}, runFlags, runRun,
	)
}

var runFlags = []commandLineFlag{
	runIDFlag, inputFlag, locationFlag, issueTypeFlag,
	fiscalYearFlag, forceRefreshFlag, pipelineFlag,
}

func runRun(ctx *Context, _ []string) error {
	runID, err := ctx.StringParam("run-id")
	if err != nil {
		return err
	}
	if runID == "" {
		runID, err = genRunID()
		if err != nil {
			return fmt.Errorf("failed to generate run ID: %w", err)
		}
	}

	inputs, err := collectInputs(ctx)
	if err != nil {
		return err
	}
	force, err := forceRefreshSteps(ctx)
	if err != nil {
		return err
	}

	store, err := ctx.OpenStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	deps, err := ctx.StepDeps()
	if err != nil {
		return err
	}
	graph, err := ctx.BuildGraph(deps)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	events := notify.NewBroadcaster()
	orch := ctx.NewOrchestrator(store, graph, pipeline.WithNotifier(events))

	eventCh, cancelSub := events.Subscribe(ctx, runID)
	printerDone := make(chan struct{})
	go func() {
		defer close(printerDone)
		for ev := range eventCh {
			printEvent(ctx, ev)
		}
	}()

	logger.Info(ctx, "Starting run", "run_id", runID)
	result, err := orch.Run(ctx, pipeline.RunRequest{
		RunID:        runID,
		Inputs:       inputs,
		ForceRefresh: force,
	})
	cancelSub()
	<-printerDone
	if err != nil {
		return fmt.Errorf("run %s failed: %w", runID, err)
	}

	logger.Info(ctx, "Run complete", "run_id", runID,
		"status", result.Status.String(), "progress", result.Progress)
	printSummary(ctx, graph, result)
	return nil
}

// collectInputs merges the input file with the override flags.
func collectInputs(ctx *Context) (map[string]any, error) {
	inputs := make(map[string]any)

	if path, _ := ctx.StringParam("input"); path != "" {
		data, err := os.ReadFile(path) // nolint:gosec
		if err != nil {
			return nil, fmt.Errorf("failed to read input file %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &inputs); err != nil {
			return nil, fmt.Errorf("failed to parse input file %s: %w", path, err)
		}
	}

	for flag, key := range map[string]string{
		"location":    steps.InputLocation,
		"issue-type":  steps.InputIssueType,
		"fiscal-year": steps.InputFiscalYear,
	} {
		if v, _ := ctx.StringParam(flag); v != "" {
			inputs[key] = v
		}
	}
	return inputs, nil
}

func forceRefreshSteps(ctx *Context) ([]string, error) {
	raw, err := ctx.StringParam("force-refresh")
	if err != nil || raw == "" {
		return nil, err
	}
	names := strings.Split(raw, ",")
	for i, name := range names {
		names[i] = strings.TrimSpace(name)
	}
	return lo.Uniq(lo.Filter(names, func(s string, _ int) bool { return s != "" })), nil
}

func printEvent(ctx *Context, ev models.ProgressEvent) {
	if ctx.Quiet {
		return
	}
	switch ev.Type {
	case models.EventStepStarted:
		fmt.Printf("%s %s\n", color.New(color.FgHiGreen).Sprint("●"), ev.StepName)
	case models.EventStepComplete:
		fmt.Printf("%s %s\n", color.GreenString("✓"), ev.StepName)
	case models.EventStepSkipped:
		fmt.Printf("%s %s (cached)\n", color.New(color.Faint).Sprint("○"), ev.StepName)
	case models.EventStepFailed:
		fmt.Printf("%s %s\n", color.RedString("✗"), ev.StepName)
	case models.EventRunComplete:
		fmt.Printf("%s %d%%\n", color.New(color.Faint).Sprint("run complete"), ev.ProgressPercent)
	}
}
