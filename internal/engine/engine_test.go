package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryloom/internal/types"
)

func frame(names []string, rows [][]any) *types.ResultFrame {
	cols := make([]types.ColumnSpec, len(names))
	for i, n := range names {
		cols[i] = types.ColumnSpec{Name: n, Type: "string"}
	}
	return &types.ResultFrame{Success: true, Columns: cols, Rows: rows, RowCount: len(rows)}
}

func TestUnionAlignsBySchemaName(t *testing.T) {
	a := frame([]string{"region", "revenue"}, [][]any{{"EU", 10.0}})
	b := frame([]string{"revenue", "region"}, [][]any{{20.0, "US"}})

	out, err := Union([]*types.ResultFrame{a, b}, []string{"region", "revenue"})
	require.NoError(t, err)
	require.Equal(t, 2, out.RowCount)
	assert.Equal(t, []any{"EU", 10.0}, out.Rows[0])
	assert.Equal(t, []any{"US", 20.0}, out.Rows[1])
}

func TestUnionMissingColumnYieldsNull(t *testing.T) {
	a := frame([]string{"region"}, [][]any{{"EU"}})
	out, err := Union([]*types.ResultFrame{a}, []string{"region", "revenue"})
	require.NoError(t, err)
	assert.Equal(t, []any{"EU", nil}, out.Rows[0])
}

func joinInputs() (*types.ResultFrame, *types.ResultFrame) {
	left := frame([]string{"id", "name"}, [][]any{
		{int64(1), "alice"},
		{int64(2), "bob"},
		{int64(3), "carol"},
	})
	right := frame([]string{"customer_id", "total"}, [][]any{
		{int64(1), 10.0},
		{int64(1), 20.0},
		{int64(4), 99.0},
	})
	return left, right
}

func TestJoinInner(t *testing.T) {
	left, right := joinInputs()
	out, err := Join(left, right, &types.CombineSpec{
		Mode: types.CombineJoin, JoinType: types.JoinInner,
		LeftKey: "id", RightKey: "customer_id",
	})
	require.NoError(t, err)
	require.Equal(t, 2, out.RowCount)
	assert.Equal(t, []any{int64(1), "alice", int64(1), 10.0}, out.Rows[0])
	assert.Equal(t, []any{int64(1), "alice", int64(1), 20.0}, out.Rows[1])
}

func TestJoinLeftKeepsUnmatched(t *testing.T) {
	left, right := joinInputs()
	out, err := Join(left, right, &types.CombineSpec{
		Mode: types.CombineJoin, JoinType: types.JoinLeft,
		LeftKey: "id", RightKey: "customer_id",
	})
	require.NoError(t, err)
	require.Equal(t, 4, out.RowCount)
	// bob and carol survive with null right columns
	assert.Equal(t, []any{int64(2), "bob", nil, nil}, out.Rows[2])
}

func TestJoinFullKeepsBothSides(t *testing.T) {
	left, right := joinInputs()
	out, err := Join(left, right, &types.CombineSpec{
		Mode: types.CombineJoin, JoinType: types.JoinFull,
		LeftKey: "id", RightKey: "customer_id",
	})
	require.NoError(t, err)
	// 2 matches + 2 unmatched left + 1 unmatched right
	assert.Equal(t, 5, out.RowCount)
}

func TestJoinRenamesCollidingColumns(t *testing.T) {
	left := frame([]string{"id", "total"}, [][]any{{int64(1), 5.0}})
	right := frame([]string{"id", "total"}, [][]any{{int64(1), 7.0}})
	out, err := Join(left, right, &types.CombineSpec{
		Mode: types.CombineJoin, JoinType: types.JoinInner,
		LeftKey: "id", RightKey: "id",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "total", "right_id", "right_total"}, out.ColumnNames())
}

func TestJoinNumericKeysMatchAcrossTypes(t *testing.T) {
	left := frame([]string{"id"}, [][]any{{int64(1)}})
	right := frame([]string{"id"}, [][]any{{float64(1)}})
	out, err := Join(left, right, &types.CombineSpec{
		Mode: types.CombineJoin, JoinType: types.JoinInner,
		LeftKey: "id", RightKey: "id",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.RowCount)
}

func TestFilterConjunction(t *testing.T) {
	in := frame([]string{"region", "total"}, [][]any{
		{"EU", 10.0},
		{"EU", 100.0},
		{"US", 100.0},
	})
	out, err := Filter(in, []types.FilterOp{
		{Column: "region", Op: "eq", Value: "EU"},
		{Column: "total", Op: "ge", Value: 50.0},
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.RowCount)
	assert.Equal(t, []any{"EU", 100.0}, out.Rows[0])
}

func TestFilterUnknownColumnFails(t *testing.T) {
	in := frame([]string{"region"}, nil)
	_, err := Filter(in, []types.FilterOp{{Column: "nope", Op: "eq", Value: 1}})
	assert.Error(t, err)
}

func TestProjectReorders(t *testing.T) {
	in := frame([]string{"a", "b", "c"}, [][]any{{1, 2, 3}})
	out, err := Project(in, []string{"c", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, out.ColumnNames())
	assert.Equal(t, []any{3, 1}, out.Rows[0])
}

func TestGroupAggregate(t *testing.T) {
	in := frame([]string{"region", "total"}, [][]any{
		{"EU", 10.0},
		{"US", 30.0},
		{"EU", 20.0},
		{"US", nil},
	})
	out, err := GroupAggregate(in, &types.GroupAggSpec{
		GroupBy: []string{"region"},
		Aggregates: []types.Aggregation{
			{Func: "count", As: "n"},
			{Func: "sum", Column: "total", As: "revenue"},
			{Func: "avg", Column: "total", As: "avg_total"},
			{Func: "max", Column: "total", As: "max_total"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, out.RowCount)
	assert.Equal(t, []string{"region", "n", "revenue", "avg_total", "max_total"}, out.ColumnNames())

	// Groups come back sorted by key.
	assert.Equal(t, []any{"EU", int64(2), 30.0, 15.0, 20.0}, out.Rows[0])
	// count(*) counts rows; sum/avg skip the null.
	assert.Equal(t, []any{"US", int64(2), 30.0, 30.0, 30.0}, out.Rows[1])
}

func TestGroupAggregateAvgSkipsNonNumeric(t *testing.T) {
	in := frame([]string{"region", "total"}, [][]any{
		{"EU", 10.0},
		{"EU", "n/a"},
		{"EU", 20.0},
	})
	out, err := GroupAggregate(in, &types.GroupAggSpec{
		GroupBy: []string{"region"},
		Aggregates: []types.Aggregation{
			{Func: "count", Column: "total", As: "n"},
			{Func: "avg", Column: "total", As: "avg_total"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.RowCount)
	// count keeps non-null semantics; avg divides by the numeric values only.
	assert.Equal(t, []any{"EU", int64(3), 15.0}, out.Rows[0])
}

func TestGroupAggregateAvgAllNonNumericIsNull(t *testing.T) {
	in := frame([]string{"region", "total"}, [][]any{{"EU", "n/a"}})
	out, err := GroupAggregate(in, &types.GroupAggSpec{
		GroupBy:    []string{"region"},
		Aggregates: []types.Aggregation{{Func: "avg", Column: "total", As: "avg_total"}},
	})
	require.NoError(t, err)
	assert.Nil(t, out.Rows[0][1])
}

func TestOrderLimit(t *testing.T) {
	in := frame([]string{"name", "total"}, [][]any{
		{"a", 10.0},
		{"b", 30.0},
		{"c", 20.0},
	})
	out, err := OrderLimit(in, &types.OrderLimitSpec{
		OrderBy: []types.OrderKey{{Column: "total", Descending: true}},
		Limit:   2,
	})
	require.NoError(t, err)
	require.Equal(t, 2, out.RowCount)
	assert.Equal(t, "b", out.Rows[0][0])
	assert.Equal(t, "c", out.Rows[1][0])
}

func TestApplyDispatch(t *testing.T) {
	in := frame([]string{"x"}, [][]any{{1.0}, {2.0}})
	node := &types.DAGNode{
		ID:           "f1",
		Kind:         types.NodePostFilter,
		Inputs:       []types.NodeInput{{Source: types.InputStep, ID: "s1"}},
		OutputSchema: []string{"x"},
		Filters:      []types.FilterOp{{Column: "x", Op: "gt", Value: 1.5}},
	}
	out, err := Apply(node, []*types.ResultFrame{in})
	require.NoError(t, err)
	assert.Equal(t, 1, out.RowCount)

	node.Kind = types.NodeScan
	_, err = Apply(node, nil)
	assert.Error(t, err)
}
