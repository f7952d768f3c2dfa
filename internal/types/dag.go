package types

import (
	"fmt"
	"sort"
)

// =============================================================================
// EXECUTION DAG
// =============================================================================
//
// The global planner emits a typed DAG over scan sub-queries and deterministic
// combine/post-combine operators. The orchestrator precomputes a layered
// topological order: all scans first, then combine layers in dependency order.

// NodeKind identifies the operator a DAG node applies.
type NodeKind string

const (
	NodeScan       NodeKind = "scan"
	NodeCombine    NodeKind = "combine"
	NodePostFilter NodeKind = "post_filter"
	NodeProject    NodeKind = "project"
	NodeGroupAgg   NodeKind = "group_agg"
	NodeOrderLimit NodeKind = "order_limit"
)

// InputSource says whether a node input is a scan artifact or another step.
type InputSource string

const (
	InputScan InputSource = "scan"
	InputStep InputSource = "step"
)

// NodeInput references one upstream relation.
type NodeInput struct {
	Source InputSource `json:"source"`
	ID     string      `json:"id"`
}

// CombineMode selects how a combine node merges its inputs.
type CombineMode string

const (
	CombineUnion CombineMode = "union"
	CombineJoin  CombineMode = "join"
)

// JoinType is the relational join flavor.
type JoinType string

const (
	JoinInner JoinType = "inner"
	JoinLeft  JoinType = "left"
	JoinFull  JoinType = "full"
)

// CombineSpec parameterizes a combine node.
type CombineSpec struct {
	Mode     CombineMode `json:"mode"`
	JoinType JoinType    `json:"join_type,omitempty"`
	LeftKey  string      `json:"left_key,omitempty"`
	RightKey string      `json:"right_key,omitempty"`
}

// FilterOp is one predicate of a post_filter node.
type FilterOp struct {
	Column string `json:"column"`
	Op     string `json:"op"` // eq | ne | lt | le | gt | ge | contains
	Value  any    `json:"value"`
}

// ProjectSpec parameterizes a project node.
type ProjectSpec struct {
	Columns []string `json:"columns"`
}

// Aggregation is one aggregate of a group_agg node.
type Aggregation struct {
	Func   string `json:"func"` // count | sum | avg | min | max
	Column string `json:"column,omitempty"`
	As     string `json:"as"`
}

// GroupAggSpec parameterizes a group_agg node.
type GroupAggSpec struct {
	GroupBy    []string      `json:"group_by"`
	Aggregates []Aggregation `json:"aggregates"`
}

// OrderKey is one sort key of an order_limit node.
type OrderKey struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending,omitempty"`
}

// OrderLimitSpec parameterizes an order_limit node.
type OrderLimitSpec struct {
	OrderBy []OrderKey `json:"order_by,omitempty"`
	Limit   int        `json:"limit,omitempty"`
}

// DAGNode is one node of the execution DAG. Exactly the spec fields for the
// node's kind are populated; OutputSchema is mandatory on every node.
type DAGNode struct {
	ID           string          `json:"id"`
	Kind         NodeKind        `json:"kind"`
	Inputs       []NodeInput     `json:"inputs,omitempty"`
	OutputSchema []string        `json:"output_schema"`
	SubQueryID   string          `json:"sub_query_id,omitempty"` // scan nodes
	Combine      *CombineSpec    `json:"combine,omitempty"`
	Filters      []FilterOp      `json:"filters,omitempty"`
	Project      *ProjectSpec    `json:"project,omitempty"`
	GroupAgg     *GroupAggSpec   `json:"group_agg,omitempty"`
	OrderLimit   *OrderLimitSpec `json:"order_limit,omitempty"`
}

// ExecutionDAG is the planned operator graph plus its layered topological
// order. Layers[0] holds every scan; later layers hold combine/post-combine
// nodes whose inputs all live in earlier layers.
type ExecutionDAG struct {
	Nodes  []DAGNode  `json:"nodes"`
	Layers [][]string `json:"layers,omitempty"`
}

// Node returns the node with the given id.
func (d *ExecutionDAG) Node(id string) (*DAGNode, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// ScanNodes returns all scan nodes in declaration order.
func (d *ExecutionDAG) ScanNodes() []*DAGNode {
	var scans []*DAGNode
	for i := range d.Nodes {
		if d.Nodes[i].Kind == NodeScan {
			scans = append(scans, &d.Nodes[i])
		}
	}
	return scans
}

// TerminalNodes returns nodes no other node consumes.
func (d *ExecutionDAG) TerminalNodes() []*DAGNode {
	consumed := make(map[string]bool)
	for i := range d.Nodes {
		for _, in := range d.Nodes[i].Inputs {
			consumed[in.ID] = true
		}
	}
	var terminals []*DAGNode
	for i := range d.Nodes {
		if !consumed[d.Nodes[i].ID] {
			terminals = append(terminals, &d.Nodes[i])
		}
	}
	return terminals
}

// Validate checks the DAG invariants: unique ids, acyclicity, every non-scan
// input resolvable, and a declared output schema on every node.
func (d *ExecutionDAG) Validate() error {
	ids := make(map[string]*DAGNode, len(d.Nodes))
	for i := range d.Nodes {
		n := &d.Nodes[i]
		if n.ID == "" {
			return fmt.Errorf("dag node %d has empty id", i)
		}
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("duplicate dag node id %q", n.ID)
		}
		ids[n.ID] = n
	}
	for i := range d.Nodes {
		n := &d.Nodes[i]
		if len(n.OutputSchema) == 0 {
			return fmt.Errorf("dag node %q declares no output schema", n.ID)
		}
		if n.Kind == NodeScan {
			if len(n.Inputs) != 0 {
				return fmt.Errorf("scan node %q must not declare inputs", n.ID)
			}
			continue
		}
		if len(n.Inputs) == 0 {
			return fmt.Errorf("%s node %q has no inputs", n.Kind, n.ID)
		}
		for _, in := range n.Inputs {
			if _, ok := ids[in.ID]; !ok {
				return fmt.Errorf("node %q references unknown input %q", n.ID, in.ID)
			}
		}
	}
	if _, err := d.topoOrder(ids); err != nil {
		return err
	}
	return nil
}

// ComputeLayers derives the layered topological order and stores it on the
// DAG. Layer 0 is every scan node; each later layer contains the nodes whose
// inputs are all satisfied by earlier layers.
func (d *ExecutionDAG) ComputeLayers() error {
	ids := make(map[string]*DAGNode, len(d.Nodes))
	for i := range d.Nodes {
		ids[d.Nodes[i].ID] = &d.Nodes[i]
	}
	depth, err := d.topoOrder(ids)
	if err != nil {
		return err
	}

	maxDepth := 0
	for _, dep := range depth {
		if dep > maxDepth {
			maxDepth = dep
		}
	}
	layers := make([][]string, maxDepth+1)
	for i := range d.Nodes {
		n := &d.Nodes[i]
		layers[depth[n.ID]] = append(layers[depth[n.ID]], n.ID)
	}
	for _, layer := range layers {
		sort.Strings(layer)
	}
	d.Layers = layers
	return nil
}

// topoOrder assigns each node its layer depth, failing on cycles.
func (d *ExecutionDAG) topoOrder(ids map[string]*DAGNode) (map[string]int, error) {
	depth := make(map[string]int, len(d.Nodes))
	const visiting = -1

	var visit func(id string) (int, error)
	visit = func(id string) (int, error) {
		if dep, ok := depth[id]; ok {
			if dep == visiting {
				return 0, fmt.Errorf("dag contains a cycle through node %q", id)
			}
			return dep, nil
		}
		n, ok := ids[id]
		if !ok {
			return 0, fmt.Errorf("unknown dag node %q", id)
		}
		if n.Kind == NodeScan {
			depth[id] = 0
			return 0, nil
		}
		depth[id] = visiting
		maxIn := -1
		for _, in := range n.Inputs {
			dep, err := visit(in.ID)
			if err != nil {
				return 0, err
			}
			if dep > maxIn {
				maxIn = dep
			}
		}
		depth[id] = maxIn + 1
		return depth[id], nil
	}

	for i := range d.Nodes {
		if _, err := visit(d.Nodes[i].ID); err != nil {
			return nil, err
		}
	}
	return depth, nil
}
