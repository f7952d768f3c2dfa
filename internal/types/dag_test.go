package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinDAG() ExecutionDAG {
	return ExecutionDAG{Nodes: []DAGNode{
		{ID: "scan_a", Kind: NodeScan, SubQueryID: "sq1", OutputSchema: []string{"id", "revenue"}},
		{ID: "scan_b", Kind: NodeScan, SubQueryID: "sq2", OutputSchema: []string{"id", "spend"}},
		{ID: "join_1", Kind: NodeCombine, OutputSchema: []string{"id", "revenue", "spend"},
			Inputs:  []NodeInput{{Source: InputScan, ID: "scan_a"}, {Source: InputScan, ID: "scan_b"}},
			Combine: &CombineSpec{Mode: CombineJoin, JoinType: JoinInner, LeftKey: "id", RightKey: "id"}},
		{ID: "top_1", Kind: NodeOrderLimit, OutputSchema: []string{"id", "revenue", "spend"},
			Inputs:     []NodeInput{{Source: InputStep, ID: "join_1"}},
			OrderLimit: &OrderLimitSpec{OrderBy: []OrderKey{{Column: "revenue", Descending: true}}, Limit: 10}},
	}}
}

func TestDAGValidateAccepts(t *testing.T) {
	d := joinDAG()
	assert.NoError(t, d.Validate())
}

func TestDAGValidateRejections(t *testing.T) {
	d := joinDAG()
	d.Nodes[1].ID = "scan_a"
	assert.Error(t, d.Validate())

	d = joinDAG()
	d.Nodes[2].Inputs[1].ID = "ghost"
	assert.Error(t, d.Validate())

	d = joinDAG()
	d.Nodes[3].OutputSchema = nil
	assert.Error(t, d.Validate())

	d = joinDAG()
	d.Nodes[0].Inputs = []NodeInput{{Source: InputStep, ID: "join_1"}}
	assert.Error(t, d.Validate())

	d = joinDAG()
	d.Nodes[2].Inputs = nil
	assert.Error(t, d.Validate())
}

func TestDAGValidateDetectsCycle(t *testing.T) {
	d := ExecutionDAG{Nodes: []DAGNode{
		{ID: "a", Kind: NodeProject, OutputSchema: []string{"x"},
			Inputs: []NodeInput{{Source: InputStep, ID: "b"}}, Project: &ProjectSpec{Columns: []string{"x"}}},
		{ID: "b", Kind: NodeProject, OutputSchema: []string{"x"},
			Inputs: []NodeInput{{Source: InputStep, ID: "a"}}, Project: &ProjectSpec{Columns: []string{"x"}}},
	}}
	assert.Error(t, d.Validate())
}

func TestComputeLayers(t *testing.T) {
	d := joinDAG()
	require.NoError(t, d.ComputeLayers())
	assert.Equal(t, [][]string{
		{"scan_a", "scan_b"},
		{"join_1"},
		{"top_1"},
	}, d.Layers)
}

func TestTerminalNodes(t *testing.T) {
	d := joinDAG()
	terminals := d.TerminalNodes()
	require.Len(t, terminals, 1)
	assert.Equal(t, "top_1", terminals[0].ID)
}

func TestScanNodesAndLookup(t *testing.T) {
	d := joinDAG()
	scans := d.ScanNodes()
	require.Len(t, scans, 2)
	assert.Equal(t, "sq1", scans[0].SubQueryID)

	n, ok := d.Node("join_1")
	require.True(t, ok)
	assert.Equal(t, NodeCombine, n.Kind)
	_, ok = d.Node("nope")
	assert.False(t, ok)
}
