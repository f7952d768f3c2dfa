// Package engine evaluates the deterministic combine and post-combine
// operators of the execution DAG over in-memory result frames. No LLM is
// involved past this point: the same inputs always produce the same output.
package engine

import (
	"fmt"
	"sort"
	"strings"

	"queryloom/internal/types"
)

// Apply evaluates one non-scan DAG node over its input frames, in declared
// input order.
func Apply(node *types.DAGNode, inputs []*types.ResultFrame) (*types.ResultFrame, error) {
	switch node.Kind {
	case types.NodeCombine:
		if node.Combine == nil {
			return nil, fmt.Errorf("combine node %q has no combine spec", node.ID)
		}
		switch node.Combine.Mode {
		case types.CombineUnion:
			return Union(inputs, node.OutputSchema)
		case types.CombineJoin:
			if len(inputs) != 2 {
				return nil, fmt.Errorf("join node %q needs exactly 2 inputs, got %d", node.ID, len(inputs))
			}
			return Join(inputs[0], inputs[1], node.Combine)
		default:
			return nil, fmt.Errorf("combine node %q: unknown mode %q", node.ID, node.Combine.Mode)
		}
	case types.NodePostFilter:
		return Filter(single(node, inputs), node.Filters)
	case types.NodeProject:
		if node.Project == nil {
			return nil, fmt.Errorf("project node %q has no project spec", node.ID)
		}
		return Project(single(node, inputs), node.Project.Columns)
	case types.NodeGroupAgg:
		if node.GroupAgg == nil {
			return nil, fmt.Errorf("group_agg node %q has no group spec", node.ID)
		}
		return GroupAggregate(single(node, inputs), node.GroupAgg)
	case types.NodeOrderLimit:
		if node.OrderLimit == nil {
			return nil, fmt.Errorf("order_limit node %q has no spec", node.ID)
		}
		return OrderLimit(single(node, inputs), node.OrderLimit)
	default:
		return nil, fmt.Errorf("node %q: engine cannot evaluate kind %q", node.ID, node.Kind)
	}
}

func single(node *types.DAGNode, inputs []*types.ResultFrame) *types.ResultFrame {
	if len(inputs) == 0 {
		return &types.ResultFrame{Success: true}
	}
	return inputs[0]
}

// =============================================================================
// OPERATORS
// =============================================================================

// Union appends rows of all inputs, aligned to the declared output schema by
// column name. Missing columns yield nulls.
func Union(inputs []*types.ResultFrame, schema []string) (*types.ResultFrame, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("union over zero inputs")
	}
	if len(schema) == 0 {
		schema = inputs[0].ColumnNames()
	}

	columns := make([]types.ColumnSpec, len(schema))
	for i, name := range schema {
		columns[i] = types.ColumnSpec{Name: name, Type: columnType(inputs, name)}
	}

	var rows [][]any
	for _, in := range inputs {
		idx := indexColumns(in)
		for _, row := range in.Rows {
			out := make([]any, len(schema))
			for i, name := range schema {
				if j, ok := idx[strings.ToLower(name)]; ok && j < len(row) {
					out[i] = row[j]
				}
			}
			rows = append(rows, out)
		}
	}
	return frameOf(columns, rows), nil
}

// Join performs an equi-join on (left_key, right_key). Right columns that
// collide with left names are prefixed "right_". Inner, left and full joins
// are supported.
func Join(left, right *types.ResultFrame, spec *types.CombineSpec) (*types.ResultFrame, error) {
	if spec.LeftKey == "" || spec.RightKey == "" {
		return nil, fmt.Errorf("join requires left_key and right_key")
	}
	leftIdx := indexColumns(left)
	rightIdx := indexColumns(right)
	lk, ok := leftIdx[strings.ToLower(spec.LeftKey)]
	if !ok {
		return nil, fmt.Errorf("join key %q not in left input", spec.LeftKey)
	}
	rk, ok := rightIdx[strings.ToLower(spec.RightKey)]
	if !ok {
		return nil, fmt.Errorf("join key %q not in right input", spec.RightKey)
	}

	leftNames := left.ColumnNames()
	columns := make([]types.ColumnSpec, 0, len(left.Columns)+len(right.Columns))
	columns = append(columns, left.Columns...)
	taken := make(map[string]bool, len(leftNames))
	for _, n := range leftNames {
		taken[strings.ToLower(n)] = true
	}
	rightOut := make([]string, len(right.Columns))
	for i, c := range right.Columns {
		name := c.Name
		if taken[strings.ToLower(name)] {
			name = "right_" + name
		}
		rightOut[i] = name
		columns = append(columns, types.ColumnSpec{Name: name, Type: c.Type})
	}

	byKey := make(map[string][]int)
	for i, row := range right.Rows {
		byKey[keyString(row[rk])] = append(byKey[keyString(row[rk])], i)
	}

	var rows [][]any
	matchedRight := make([]bool, len(right.Rows))
	for _, lrow := range left.Rows {
		matches := byKey[keyString(lrow[lk])]
		if len(matches) == 0 {
			if spec.JoinType == types.JoinLeft || spec.JoinType == types.JoinFull {
				rows = append(rows, padRow(lrow, len(right.Columns)))
			}
			continue
		}
		for _, ri := range matches {
			matchedRight[ri] = true
			out := make([]any, 0, len(columns))
			out = append(out, lrow...)
			out = append(out, right.Rows[ri]...)
			rows = append(rows, out)
		}
	}
	if spec.JoinType == types.JoinFull {
		for i, matched := range matchedRight {
			if !matched {
				out := make([]any, len(left.Columns), len(columns))
				out = append(out, right.Rows[i]...)
				rows = append(rows, out)
			}
		}
	}
	return frameOf(columns, rows), nil
}

// Filter keeps rows satisfying every predicate (conjunction).
func Filter(in *types.ResultFrame, predicates []types.FilterOp) (*types.ResultFrame, error) {
	idx := indexColumns(in)
	for _, p := range predicates {
		if _, ok := idx[strings.ToLower(p.Column)]; !ok {
			return nil, fmt.Errorf("filter column %q not in input", p.Column)
		}
	}
	var rows [][]any
	for _, row := range in.Rows {
		keep := true
		for _, p := range predicates {
			j := idx[strings.ToLower(p.Column)]
			ok, err := evalPredicate(row[j], p.Op, p.Value)
			if err != nil {
				return nil, err
			}
			if !ok {
				keep = false
				break
			}
		}
		if keep {
			rows = append(rows, row)
		}
	}
	return frameOf(in.Columns, rows), nil
}

// Project keeps the named columns in the given order.
func Project(in *types.ResultFrame, names []string) (*types.ResultFrame, error) {
	idx := indexColumns(in)
	cols := make([]types.ColumnSpec, len(names))
	positions := make([]int, len(names))
	for i, name := range names {
		j, ok := idx[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("project column %q not in input", name)
		}
		cols[i] = in.Columns[j]
		positions[i] = j
	}
	rows := make([][]any, len(in.Rows))
	for r, row := range in.Rows {
		out := make([]any, len(positions))
		for i, j := range positions {
			out[i] = row[j]
		}
		rows[r] = out
	}
	return frameOf(cols, rows), nil
}

// GroupAggregate groups rows by the key columns and evaluates the declared
// aggregates. Output groups are sorted by key for determinism.
func GroupAggregate(in *types.ResultFrame, spec *types.GroupAggSpec) (*types.ResultFrame, error) {
	idx := indexColumns(in)
	keyPos := make([]int, len(spec.GroupBy))
	for i, k := range spec.GroupBy {
		j, ok := idx[strings.ToLower(k)]
		if !ok {
			return nil, fmt.Errorf("group_by column %q not in input", k)
		}
		keyPos[i] = j
	}
	aggPos := make([]int, len(spec.Aggregates))
	for i, a := range spec.Aggregates {
		if strings.EqualFold(a.Func, "count") && a.Column == "" {
			aggPos[i] = -1
			continue
		}
		j, ok := idx[strings.ToLower(a.Column)]
		if !ok {
			return nil, fmt.Errorf("aggregate column %q not in input", a.Column)
		}
		aggPos[i] = j
	}

	// numerics tracks how many values actually coerced to a number; it is
	// the avg denominator, while counts keeps SQL COUNT semantics (non-null).
	type group struct {
		key      []any
		counts   []int64
		numerics []int64
		sums     []float64
		mins     []any
		maxs     []any
	}
	groups := make(map[string]*group)
	var order []string
	for _, row := range in.Rows {
		key := make([]any, len(keyPos))
		parts := make([]string, len(keyPos))
		for i, j := range keyPos {
			key[i] = row[j]
			parts[i] = keyString(row[j])
		}
		gk := strings.Join(parts, "\x1f")
		g, ok := groups[gk]
		if !ok {
			g = &group{
				key:      key,
				counts:   make([]int64, len(spec.Aggregates)),
				numerics: make([]int64, len(spec.Aggregates)),
				sums:     make([]float64, len(spec.Aggregates)),
				mins:     make([]any, len(spec.Aggregates)),
				maxs:     make([]any, len(spec.Aggregates)),
			}
			groups[gk] = g
			order = append(order, gk)
		}
		for i, j := range aggPos {
			if j < 0 {
				g.counts[i]++
				continue
			}
			v := row[j]
			if v == nil {
				continue
			}
			g.counts[i]++
			if f, ok := toFloat(v); ok {
				g.sums[i] += f
				g.numerics[i]++
			}
			if g.mins[i] == nil || compareValues(v, g.mins[i]) < 0 {
				g.mins[i] = v
			}
			if g.maxs[i] == nil || compareValues(v, g.maxs[i]) > 0 {
				g.maxs[i] = v
			}
		}
	}
	sort.Strings(order)

	cols := make([]types.ColumnSpec, 0, len(spec.GroupBy)+len(spec.Aggregates))
	for i, k := range spec.GroupBy {
		cols = append(cols, types.ColumnSpec{Name: k, Type: in.Columns[keyPos[i]].Type})
	}
	for _, a := range spec.Aggregates {
		t := "double"
		if strings.EqualFold(a.Func, "count") {
			t = "integer"
		}
		cols = append(cols, types.ColumnSpec{Name: a.As, Type: t})
	}

	rows := make([][]any, 0, len(groups))
	for _, gk := range order {
		g := groups[gk]
		out := make([]any, 0, len(cols))
		out = append(out, g.key...)
		for i, a := range spec.Aggregates {
			switch strings.ToLower(a.Func) {
			case "count":
				out = append(out, g.counts[i])
			case "sum":
				out = append(out, g.sums[i])
			case "avg":
				if g.numerics[i] == 0 {
					out = append(out, nil)
				} else {
					out = append(out, g.sums[i]/float64(g.numerics[i]))
				}
			case "min":
				out = append(out, g.mins[i])
			case "max":
				out = append(out, g.maxs[i])
			default:
				return nil, fmt.Errorf("unknown aggregate function %q", a.Func)
			}
		}
		rows = append(rows, out)
	}
	return frameOf(cols, rows), nil
}

// OrderLimit sorts by the declared keys and truncates.
func OrderLimit(in *types.ResultFrame, spec *types.OrderLimitSpec) (*types.ResultFrame, error) {
	idx := indexColumns(in)
	keyPos := make([]int, len(spec.OrderBy))
	for i, k := range spec.OrderBy {
		j, ok := idx[strings.ToLower(k.Column)]
		if !ok {
			return nil, fmt.Errorf("order column %q not in input", k.Column)
		}
		keyPos[i] = j
	}

	rows := make([][]any, len(in.Rows))
	copy(rows, in.Rows)
	sort.SliceStable(rows, func(a, b int) bool {
		for i, j := range keyPos {
			c := compareValues(rows[a][j], rows[b][j])
			if c == 0 {
				continue
			}
			if spec.OrderBy[i].Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	if spec.Limit > 0 && len(rows) > spec.Limit {
		rows = rows[:spec.Limit]
	}
	return frameOf(in.Columns, rows), nil
}
