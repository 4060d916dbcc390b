package driver

import (
	"context"
	"testing"

	"github.com/c360studio/appforge/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedStage string

func (n namedStage) Name() string { return string(n) }

func (n namedStage) Run(context.Context, workflow.State) (workflow.Update, error) {
	return workflow.Update{}, nil
}

func TestDefaultGraph(t *testing.T) {
	g, err := DefaultGraph(namedStage(workflow.StagePlan), namedStage(workflow.StageArchitect), namedStage(workflow.StageCoder))
	require.NoError(t, err)
	assert.Equal(t, workflow.StagePlan, g.Entry())

	var s workflow.State
	next, err := g.Next(workflow.StagePlan, s)
	require.NoError(t, err)
	assert.Equal(t, workflow.StageArchitect, next)

	next, err = g.Next(workflow.StageArchitect, s)
	require.NoError(t, err)
	assert.Equal(t, workflow.StageCoder, next)

	s.Status = workflow.StatusRunning
	next, err = g.Next(workflow.StageCoder, s)
	require.NoError(t, err)
	assert.Equal(t, workflow.StageCoder, next)

	s.Status = workflow.StatusDone
	next, err = g.Next(workflow.StageCoder, s)
	require.NoError(t, err)
	assert.Equal(t, End, next)
}

func TestGraphValidate(t *testing.T) {
	tests := []struct {
		name    string
		build   func(g *Graph)
		wantErr string
	}{
		{
			name: "missing entry",
			build: func(g *Graph) {
				g.AddEdge("a", End)
			},
			wantErr: "entry point is not set",
		},
		{
			name: "unknown entry",
			build: func(g *Graph) {
				g.SetEntry("zzz")
				g.AddEdge("a", End)
			},
			wantErr: `entry point "zzz" is not a node`,
		},
		{
			name: "dangling node",
			build: func(g *Graph) {
				g.SetEntry("a")
			},
			wantErr: `node "a" has no outgoing edge`,
		},
		{
			name: "unknown target",
			build: func(g *Graph) {
				g.SetEntry("a")
				g.AddEdge("a", "b")
			},
			wantErr: "edge a -> b: unknown node",
		},
		{
			name: "both edge kinds",
			build: func(g *Graph) {
				g.SetEntry("a")
				g.AddEdge("a", End)
				g.AddConditionalEdge("a", func(workflow.State) string { return End })
			},
			wantErr: "both a static and a conditional edge",
		},
		{
			name: "edge from unknown node",
			build: func(g *Graph) {
				g.SetEntry("a")
				g.AddEdge("a", End)
				g.AddEdge("ghost", "a")
			},
			wantErr: `edge from unknown node "ghost"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGraph()
			require.NoError(t, g.AddNode(namedStage("a")))
			tt.build(g)
			assert.ErrorContains(t, g.Validate(), tt.wantErr)
		})
	}
}

func TestAddNodeRejectsDuplicates(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddNode(namedStage("a")))
	assert.Error(t, g.AddNode(namedStage("a")))
	assert.Error(t, g.AddNode(namedStage(End)))
	assert.Error(t, g.AddNode(nil))
}

func TestRouterToUnknownNode(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddNode(namedStage("a")))
	g.SetEntry("a")
	g.AddConditionalEdge("a", func(workflow.State) string { return "nowhere" })
	require.NoError(t, g.Validate())

	_, err := g.Next("a", workflow.State{})
	assert.ErrorContains(t, err, "unknown node")
}

func TestSelfLoopWithoutProgressFails(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddNode(namedStage("spin")))
	g.SetEntry("spin")
	g.AddConditionalEdge("spin", func(workflow.State) string { return "spin" })

	r, err := NewRunner(g)
	require.NoError(t, err)

	s, err := workflow.NewState("anything")
	require.NoError(t, err)
	_, err = r.Run(context.Background(), s)
	assert.ErrorIs(t, err, ErrNoProgress)
}
