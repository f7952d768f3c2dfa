// Package plan defines the typed query plan produced by the planner agent
// and the deterministic SQL serialization over it. Plans are READ-only by
// contract; every column reference is alias-qualified and every clause list
// carries explicit ordinals so serialization order never depends on map or
// slice iteration accidents.
package plan

import (
	"fmt"
	"strings"
)

// ExprKind tags the expression variants.
type ExprKind string

const (
	ExprColumn  ExprKind = "column"
	ExprLiteral ExprKind = "literal"
	ExprFunc    ExprKind = "func"
	ExprBinary  ExprKind = "binary"
	ExprUnary   ExprKind = "unary"
	ExprCase    ExprKind = "case"
)

// Expr is the tagged expression union. Exactly the fields of the tagged
// variant are meaningful; the rest stay zero.
type Expr struct {
	Kind ExprKind `json:"kind"`

	// column
	Alias string `json:"alias,omitempty"`
	Name  string `json:"name,omitempty"`

	// literal
	Value  any  `json:"value,omitempty"`
	IsNull bool `json:"is_null,omitempty"`

	// func
	FuncName string `json:"func_name,omitempty"`
	Args     []Expr `json:"args,omitempty"`

	// binary / unary
	Op    string `json:"op,omitempty"`
	Left  *Expr  `json:"left,omitempty"`
	Right *Expr  `json:"right,omitempty"`
	Child *Expr  `json:"expr,omitempty"`

	// case
	Whens []When `json:"whens,omitempty"`
	Else  *Expr  `json:"else,omitempty"`
}

// When is one CASE branch.
type When struct {
	Condition Expr `json:"condition"`
	Result    Expr `json:"result"`
}

// SelectItem is one projected expression with its output position.
type SelectItem struct {
	Expr    Expr   `json:"expr"`
	Alias   string `json:"alias,omitempty"`
	Ordinal int    `json:"ordinal"`
}

// TableRef names one table with its alias and FROM position.
type TableRef struct {
	Name    string `json:"name"`
	Alias   string `json:"alias"`
	Ordinal int    `json:"ordinal"`
}

// JoinSpec joins two declared aliases.
type JoinSpec struct {
	LeftAlias  string `json:"left_alias"`
	RightAlias string `json:"right_alias"`
	JoinType   string `json:"join_type"` // INNER | LEFT | RIGHT | FULL
	Condition  Expr   `json:"condition"`
	Ordinal    int    `json:"ordinal"`
}

// OrderItem is one ORDER BY key.
type OrderItem struct {
	Expr Expr `json:"expr"`
	Desc bool `json:"desc,omitempty"`
}

// Plan is the typed query plan for one sub-query.
type Plan struct {
	QueryType   string       `json:"query_type"` // must be READ
	Tables      []TableRef   `json:"tables"`
	SelectItems []SelectItem `json:"select_items"`
	Joins       []JoinSpec   `json:"joins,omitempty"`
	Where       *Expr        `json:"where,omitempty"`
	GroupBy     []Expr       `json:"group_by,omitempty"`
	Having      []Expr       `json:"having,omitempty"`
	OrderBy     []OrderItem  `json:"order_by,omitempty"`
	Limit       *int         `json:"limit,omitempty"`
}

// TableNames returns the referenced table names in ordinal order.
func (p *Plan) TableNames() []string {
	names := make([]string, 0, len(p.Tables))
	for _, t := range sortedTables(p.Tables) {
		names = append(names, t.Name)
	}
	return names
}

// AliasTable resolves an alias to its table name.
func (p *Plan) AliasTable(alias string) (string, bool) {
	for _, t := range p.Tables {
		if t.Alias == alias {
			return t.Name, true
		}
	}
	return "", false
}

// Validate checks the structural invariants: READ-only, alias-qualified
// columns bound to declared tables, declared join aliases, and ordinal lists
// forming permutations of 0..n-1.
func (p *Plan) Validate() error {
	if !strings.EqualFold(p.QueryType, "READ") {
		return fmt.Errorf("plan must be READ-only, got %q", p.QueryType)
	}
	if len(p.Tables) == 0 {
		return fmt.Errorf("plan declares no tables")
	}
	if len(p.SelectItems) == 0 {
		return fmt.Errorf("plan declares no select items")
	}

	aliases := make(map[string]bool, len(p.Tables))
	for _, t := range p.Tables {
		if t.Alias == "" {
			return fmt.Errorf("table %q has no alias", t.Name)
		}
		if aliases[t.Alias] {
			return fmt.Errorf("duplicate table alias %q", t.Alias)
		}
		aliases[t.Alias] = true
	}

	if err := checkOrdinals("tables", tableOrdinals(p.Tables)); err != nil {
		return err
	}
	if err := checkOrdinals("select_items", selectOrdinals(p.SelectItems)); err != nil {
		return err
	}
	if len(p.Joins) > 0 {
		if err := checkOrdinals("joins", joinOrdinals(p.Joins)); err != nil {
			return err
		}
	}

	for _, j := range p.Joins {
		if !aliases[j.LeftAlias] {
			return fmt.Errorf("join references undeclared alias %q", j.LeftAlias)
		}
		if !aliases[j.RightAlias] {
			return fmt.Errorf("join references undeclared alias %q", j.RightAlias)
		}
	}

	var check func(e *Expr) error
	check = func(e *Expr) error {
		if e == nil {
			return nil
		}
		switch e.Kind {
		case ExprColumn:
			if e.Alias == "" {
				return fmt.Errorf("column %q is not alias-qualified", e.Name)
			}
			if !aliases[e.Alias] {
				return fmt.Errorf("column %s.%s references undeclared alias %q", e.Alias, e.Name, e.Alias)
			}
		case ExprLiteral:
		case ExprFunc:
			for i := range e.Args {
				if err := check(&e.Args[i]); err != nil {
					return err
				}
			}
		case ExprBinary:
			if err := check(e.Left); err != nil {
				return err
			}
			if err := check(e.Right); err != nil {
				return err
			}
		case ExprUnary:
			if err := check(e.Child); err != nil {
				return err
			}
		case ExprCase:
			for i := range e.Whens {
				if err := check(&e.Whens[i].Condition); err != nil {
					return err
				}
				if err := check(&e.Whens[i].Result); err != nil {
					return err
				}
			}
			if err := check(e.Else); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown expression kind %q", e.Kind)
		}
		return nil
	}

	for i := range p.SelectItems {
		if err := check(&p.SelectItems[i].Expr); err != nil {
			return err
		}
	}
	for i := range p.Joins {
		if err := check(&p.Joins[i].Condition); err != nil {
			return err
		}
	}
	if err := check(p.Where); err != nil {
		return err
	}
	for i := range p.GroupBy {
		if err := check(&p.GroupBy[i]); err != nil {
			return err
		}
	}
	for i := range p.Having {
		if err := check(&p.Having[i]); err != nil {
			return err
		}
	}
	for i := range p.OrderBy {
		if err := check(&p.OrderBy[i].Expr); err != nil {
			return err
		}
	}
	return nil
}

// WalkColumns visits every column reference in the plan.
func (p *Plan) WalkColumns(visit func(alias, name string)) {
	var walk func(e *Expr)
	walk = func(e *Expr) {
		if e == nil {
			return
		}
		switch e.Kind {
		case ExprColumn:
			visit(e.Alias, e.Name)
		case ExprFunc:
			for i := range e.Args {
				walk(&e.Args[i])
			}
		case ExprBinary:
			walk(e.Left)
			walk(e.Right)
		case ExprUnary:
			walk(e.Child)
		case ExprCase:
			for i := range e.Whens {
				walk(&e.Whens[i].Condition)
				walk(&e.Whens[i].Result)
			}
			walk(e.Else)
		}
	}
	for i := range p.SelectItems {
		walk(&p.SelectItems[i].Expr)
	}
	for i := range p.Joins {
		walk(&p.Joins[i].Condition)
	}
	walk(p.Where)
	for i := range p.GroupBy {
		walk(&p.GroupBy[i])
	}
	for i := range p.Having {
		walk(&p.Having[i])
	}
	for i := range p.OrderBy {
		walk(&p.OrderBy[i].Expr)
	}
}

func checkOrdinals(what string, ords []int) error {
	seen := make([]bool, len(ords))
	for _, o := range ords {
		if o < 0 || o >= len(ords) {
			return fmt.Errorf("%s: ordinal %d out of range [0,%d)", what, o, len(ords))
		}
		if seen[o] {
			return fmt.Errorf("%s: duplicate ordinal %d", what, o)
		}
		seen[o] = true
	}
	return nil
}

func tableOrdinals(ts []TableRef) []int {
	out := make([]int, len(ts))
	for i, t := range ts {
		out[i] = t.Ordinal
	}
	return out
}

func selectOrdinals(ss []SelectItem) []int {
	out := make([]int, len(ss))
	for i, s := range ss {
		out[i] = s.Ordinal
	}
	return out
}

func joinOrdinals(js []JoinSpec) []int {
	out := make([]int, len(js))
	for i, j := range js {
		out[i] = j.Ordinal
	}
	return out
}
