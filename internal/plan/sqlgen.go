package plan

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// =============================================================================
// DETERMINISTIC SQL GENERATION
// =============================================================================

// Generate serializes a validated plan into SQL for the given dialect.
// Ordering is fully determined by ordinals; clause order is fixed as
// WHERE, GROUP BY, HAVING, ORDER BY, LIMIT. rowLimit clamps the plan's
// LIMIT; a smaller explicit limit is preserved.
func Generate(p *Plan, dialect string, rowLimit int) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	g := &generator{dialect: strings.ToLower(dialect)}
	var sb strings.Builder

	sb.WriteString("SELECT ")
	items := make([]SelectItem, len(p.SelectItems))
	copy(items, p.SelectItems)
	sort.Slice(items, func(i, j int) bool { return items[i].Ordinal < items[j].Ordinal })
	for i, item := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		expr, err := g.expr(&item.Expr)
		if err != nil {
			return "", err
		}
		sb.WriteString(expr)
		if item.Alias != "" {
			sb.WriteString(" AS " + g.quote(item.Alias))
		}
	}

	tables := sortedTables(p.Tables)
	sb.WriteString(" FROM " + g.tableRef(tables[0]))

	joins := make([]JoinSpec, len(p.Joins))
	copy(joins, p.Joins)
	sort.Slice(joins, func(i, j int) bool { return joins[i].Ordinal < joins[j].Ordinal })
	joined := map[string]bool{tables[0].Alias: true}
	for _, j := range joins {
		target := j.RightAlias
		if joined[target] {
			target = j.LeftAlias
		}
		ref, ok := findTable(tables, target)
		if !ok {
			return "", fmt.Errorf("join targets unknown alias %q", target)
		}
		cond, err := g.expr(&j.Condition)
		if err != nil {
			return "", err
		}
		sb.WriteString(fmt.Sprintf(" %s JOIN %s ON %s", normalizeJoinType(j.JoinType), g.tableRef(ref), cond))
		joined[target] = true
	}
	// Tables neither first nor joined become cross joins in declared order.
	for _, t := range tables[1:] {
		if !joined[t.Alias] {
			sb.WriteString(", " + g.tableRef(t))
		}
	}

	if p.Where != nil {
		where, err := g.expr(p.Where)
		if err != nil {
			return "", err
		}
		sb.WriteString(" WHERE " + where)
	}

	if len(p.GroupBy) > 0 {
		parts := make([]string, len(p.GroupBy))
		for i := range p.GroupBy {
			expr, err := g.expr(&p.GroupBy[i])
			if err != nil {
				return "", err
			}
			parts[i] = expr
		}
		sb.WriteString(" GROUP BY " + strings.Join(parts, ", "))
	}

	if len(p.Having) > 0 {
		parts := make([]string, len(p.Having))
		for i := range p.Having {
			expr, err := g.expr(&p.Having[i])
			if err != nil {
				return "", err
			}
			parts[i] = expr
		}
		sb.WriteString(" HAVING " + strings.Join(parts, " AND "))
	}

	if len(p.OrderBy) > 0 {
		parts := make([]string, len(p.OrderBy))
		for i, o := range p.OrderBy {
			expr, err := g.expr(&o.Expr)
			if err != nil {
				return "", err
			}
			if o.Desc {
				expr += " DESC"
			} else {
				expr += " ASC"
			}
			parts[i] = expr
		}
		sb.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}

	limit := rowLimit
	if p.Limit != nil && (*p.Limit < limit || limit <= 0) {
		limit = *p.Limit
	}
	if limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(limit))
	}

	return sb.String(), nil
}

type generator struct {
	dialect string
}

func (g *generator) quote(ident string) string {
	switch g.dialect {
	case "mysql":
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	default:
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	}
}

// quoteQualified quotes each dotted part of a fully-qualified name.
func (g *generator) quoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = g.quote(p)
	}
	return strings.Join(parts, ".")
}

func (g *generator) tableRef(t TableRef) string {
	return g.quoteQualified(t.Name) + " AS " + g.quote(t.Alias)
}

func (g *generator) expr(e *Expr) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil expression")
	}
	switch e.Kind {
	case ExprColumn:
		return g.quote(e.Alias) + "." + g.quote(e.Name), nil
	case ExprLiteral:
		return g.literal(e)
	case ExprFunc:
		args := make([]string, len(e.Args))
		for i := range e.Args {
			a, err := g.expr(&e.Args[i])
			if err != nil {
				return "", err
			}
			args[i] = a
		}
		// COUNT(*) travels as a func with no args
		if strings.EqualFold(e.FuncName, "count") && len(args) == 0 {
			return "COUNT(*)", nil
		}
		return strings.ToUpper(e.FuncName) + "(" + strings.Join(args, ", ") + ")", nil
	case ExprBinary:
		left, err := g.expr(e.Left)
		if err != nil {
			return "", err
		}
		right, err := g.expr(e.Right)
		if err != nil {
			return "", err
		}
		op, err := normalizeBinaryOp(e.Op)
		if err != nil {
			return "", err
		}
		return "(" + left + " " + op + " " + right + ")", nil
	case ExprUnary:
		child, err := g.expr(e.Child)
		if err != nil {
			return "", err
		}
		switch strings.ToUpper(e.Op) {
		case "NOT":
			return "(NOT " + child + ")", nil
		case "-":
			return "(-" + child + ")", nil
		case "IS NULL":
			return "(" + child + " IS NULL)", nil
		case "IS NOT NULL":
			return "(" + child + " IS NOT NULL)", nil
		default:
			return "", fmt.Errorf("unknown unary operator %q", e.Op)
		}
	case ExprCase:
		var sb strings.Builder
		sb.WriteString("CASE")
		for i := range e.Whens {
			cond, err := g.expr(&e.Whens[i].Condition)
			if err != nil {
				return "", err
			}
			res, err := g.expr(&e.Whens[i].Result)
			if err != nil {
				return "", err
			}
			sb.WriteString(" WHEN " + cond + " THEN " + res)
		}
		if e.Else != nil {
			els, err := g.expr(e.Else)
			if err != nil {
				return "", err
			}
			sb.WriteString(" ELSE " + els)
		}
		sb.WriteString(" END")
		return sb.String(), nil
	default:
		return "", fmt.Errorf("unknown expression kind %q", e.Kind)
	}
}

func (g *generator) literal(e *Expr) (string, error) {
	if e.IsNull || e.Value == nil {
		return "NULL", nil
	}
	switch v := e.Value.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'", nil
	case bool:
		if v {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		// JSON numbers decode as float64; keep integral values integral.
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10), nil
		}
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported literal type %T", e.Value)
	}
}

var binaryOps = map[string]string{
	"=": "=", "eq": "=",
	"!=": "<>", "<>": "<>", "ne": "<>",
	"<": "<", "lt": "<",
	"<=": "<=", "le": "<=",
	">": ">", "gt": ">",
	">=": ">=", "ge": ">=",
	"and": "AND", "or": "OR",
	"+": "+", "-": "-", "*": "*", "/": "/",
	"like": "LIKE", "in": "IN",
}

func normalizeBinaryOp(op string) (string, error) {
	if out, ok := binaryOps[strings.ToLower(op)]; ok {
		return out, nil
	}
	return "", fmt.Errorf("unknown binary operator %q", op)
}

func normalizeJoinType(jt string) string {
	switch strings.ToUpper(jt) {
	case "LEFT":
		return "LEFT"
	case "RIGHT":
		return "RIGHT"
	case "FULL":
		return "FULL"
	default:
		return "INNER"
	}
}

func sortedTables(ts []TableRef) []TableRef {
	out := make([]TableRef, len(ts))
	copy(out, ts)
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

func findTable(ts []TableRef, alias string) (TableRef, bool) {
	for _, t := range ts {
		if t.Alias == alias {
			return t, true
		}
	}
	return TableRef{}, false
}
