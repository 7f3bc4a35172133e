package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policity/policity/internal/pipeline"
)

func spec(name string, depends ...string) pipeline.StepSpec {
	return pipeline.StepSpec{Name: name, Depends: depends}
}

func TestNewDependencyGraph(t *testing.T) {
	t.Parallel()

	t.Run("CycleDetected", func(t *testing.T) {
		t.Parallel()
		_, err := pipeline.NewDependencyGraph(
			spec("a", "b"),
			spec("b", "a"),
		)
		require.ErrorIs(t, err, pipeline.ErrCycleDetected)
	})
	t.Run("SelfCycle", func(t *testing.T) {
		t.Parallel()
		_, err := pipeline.NewDependencyGraph(spec("a", "a"))
		require.ErrorIs(t, err, pipeline.ErrCycleDetected)
	})
	t.Run("LongCycle", func(t *testing.T) {
		t.Parallel()
		_, err := pipeline.NewDependencyGraph(
			spec("a"),
			spec("b", "a", "d"),
			spec("c", "b"),
			spec("d", "c"),
		)
		require.ErrorIs(t, err, pipeline.ErrCycleDetected)
	})
	t.Run("UnknownDependency", func(t *testing.T) {
		t.Parallel()
		_, err := pipeline.NewDependencyGraph(spec("a", "ghost"))
		require.ErrorIs(t, err, pipeline.ErrStepNotFound)
		require.Contains(t, err.Error(), "ghost")
	})
	t.Run("DuplicateStep", func(t *testing.T) {
		t.Parallel()
		_, err := pipeline.NewDependencyGraph(spec("a"), spec("a"))
		require.ErrorIs(t, err, pipeline.ErrDuplicateStep)
	})
	t.Run("Empty", func(t *testing.T) {
		t.Parallel()
		_, err := pipeline.NewDependencyGraph()
		require.ErrorIs(t, err, pipeline.ErrEmptyGraph)
	})
	t.Run("Valid", func(t *testing.T) {
		t.Parallel()
		g, err := pipeline.NewDependencyGraph(
			spec("a"),
			spec("b", "a"),
		)
		require.NoError(t, err)
		require.Equal(t, 2, g.Len())
	})
}

func TestDependencyGraphBatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		specs   []pipeline.StepSpec
		batches [][]string
	}{
		{
			name:    "SingleStep",
			specs:   []pipeline.StepSpec{spec("a")},
			batches: [][]string{{"a"}},
		},
		{
			name: "Chain",
			specs: []pipeline.StepSpec{
				spec("a"),
				spec("b", "a"),
				spec("c", "b"),
			},
			batches: [][]string{{"a"}, {"b"}, {"c"}},
		},
		{
			name: "Diamond",
			specs: []pipeline.StepSpec{
				spec("a"),
				spec("b", "a"),
				spec("c", "a"),
				spec("d", "b", "c"),
			},
			batches: [][]string{{"a"}, {"b", "c"}, {"d"}},
		},
		{
			name: "TwoRoots",
			specs: []pipeline.StepSpec{
				spec("a"),
				spec("b"),
				spec("c", "a", "b"),
			},
			batches: [][]string{{"a", "b"}, {"c"}},
		},
		{
			name: "ReportShape",
			specs: []pipeline.StepSpec{
				spec("planner"),
				spec("cost_research", "planner"),
				spec("budget", "planner", "cost_research"),
				spec("repair_plan", "planner", "cost_research"),
				spec("contractor", "planner"),
				spec("validation", "budget", "repair_plan", "contractor"),
				spec("report", "planner", "budget", "repair_plan", "contractor", "validation"),
			},
			batches: [][]string{
				{"planner"},
				{"cost_research", "contractor"},
				{"budget", "repair_plan"},
				{"validation"},
				{"report"},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g, err := pipeline.NewDependencyGraph(tc.specs...)
			require.NoError(t, err)
			assert.Equal(t, tc.batches, g.Batches())
		})
	}
}

func TestDependencyGraphAccessors(t *testing.T) {
	t.Parallel()

	g, err := pipeline.NewDependencyGraph(
		spec("a"),
		spec("b", "a"),
		spec("c", "a", "b"),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, g.StepNames())
	assert.ElementsMatch(t, []string{"a", "b"}, g.Dependencies("c"))
	assert.Empty(t, g.Dependencies("a"))

	got, err := g.Spec("b")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Name)

	_, err = g.Spec("ghost")
	require.ErrorIs(t, err, pipeline.ErrStepNotFound)
}
