package engine

import (
	"fmt"
	"strings"

	"queryloom/internal/types"
)

func frameOf(columns []types.ColumnSpec, rows [][]any) *types.ResultFrame {
	return &types.ResultFrame{
		Success:  true,
		Columns:  columns,
		Rows:     rows,
		RowCount: len(rows),
	}
}

func indexColumns(f *types.ResultFrame) map[string]int {
	idx := make(map[string]int, len(f.Columns))
	for i, c := range f.Columns {
		idx[strings.ToLower(c.Name)] = i
	}
	return idx
}

func columnType(inputs []*types.ResultFrame, name string) string {
	for _, in := range inputs {
		for _, c := range in.Columns {
			if strings.EqualFold(c.Name, name) {
				return c.Type
			}
		}
	}
	return "string"
}

func padRow(row []any, extra int) []any {
	out := make([]any, len(row), len(row)+extra)
	copy(out, row)
	for i := 0; i < extra; i++ {
		out = append(out, nil)
	}
	return out
}

// keyString canonicalizes a value for grouping and join hashing. Numeric
// values of different widths compare equal when numerically equal.
func keyString(v any) string {
	if v == nil {
		return "\x00nil"
	}
	if f, ok := toFloat(v); ok {
		return fmt.Sprintf("n:%g", f)
	}
	return fmt.Sprintf("s:%v", v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// compareValues orders two cell values: nil first, numbers numerically,
// everything else by string form.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	sa, sb := fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)
	return strings.Compare(sa, sb)
}

// evalPredicate applies one filter operator to a cell.
func evalPredicate(cell any, op string, value any) (bool, error) {
	switch strings.ToLower(op) {
	case "eq":
		return compareValues(cell, value) == 0, nil
	case "ne":
		return compareValues(cell, value) != 0, nil
	case "lt":
		return compareValues(cell, value) < 0, nil
	case "le":
		return compareValues(cell, value) <= 0, nil
	case "gt":
		return compareValues(cell, value) > 0, nil
	case "ge":
		return compareValues(cell, value) >= 0, nil
	case "contains":
		return strings.Contains(
			strings.ToLower(fmt.Sprintf("%v", cell)),
			strings.ToLower(fmt.Sprintf("%v", value))), nil
	default:
		return false, fmt.Errorf("unknown filter operator %q", op)
	}
}
