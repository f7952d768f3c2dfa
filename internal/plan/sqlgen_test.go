package plan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func col(alias, name string) Expr {
	return Expr{Kind: ExprColumn, Alias: alias, Name: name}
}

func lit(v any) Expr {
	return Expr{Kind: ExprLiteral, Value: v}
}

func bin(op string, left, right Expr) Expr {
	return Expr{Kind: ExprBinary, Op: op, Left: &left, Right: &right}
}

func simplePlan() *Plan {
	return &Plan{
		QueryType: "READ",
		Tables:    []TableRef{{Name: "orders", Alias: "o", Ordinal: 0}},
		SelectItems: []SelectItem{
			{Expr: col("o", "id"), Ordinal: 0},
			{Expr: col("o", "total"), Alias: "order_total", Ordinal: 1},
		},
	}
}

func TestGenerateSimpleSelect(t *testing.T) {
	sql, err := Generate(simplePlan(), "sqlite", 100)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "o"."id", "o"."total" AS "order_total" FROM "orders" AS "o" LIMIT 100`, sql)
}

func TestGenerateSelectOrderFollowsOrdinals(t *testing.T) {
	p := simplePlan()
	// Declaration order reversed; ordinals must win.
	p.SelectItems = []SelectItem{
		{Expr: col("o", "total"), Ordinal: 1},
		{Expr: col("o", "id"), Ordinal: 0},
	}
	sql, err := Generate(p, "sqlite", 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sql, `SELECT "o"."id", "o"."total"`), sql)
}

func TestGenerateWhereGroupHavingOrder(t *testing.T) {
	limit := 10
	p := &Plan{
		QueryType: "READ",
		Tables:    []TableRef{{Name: "orders", Alias: "o", Ordinal: 0}},
		SelectItems: []SelectItem{
			{Expr: col("o", "region"), Ordinal: 0},
			{Expr: Expr{Kind: ExprFunc, FuncName: "sum", Args: []Expr{col("o", "total")}}, Alias: "revenue", Ordinal: 1},
		},
		Where:   &Expr{Kind: ExprBinary, Op: "ge", Left: ptr(col("o", "total")), Right: ptr(lit(100))},
		GroupBy: []Expr{col("o", "region")},
		Having:  []Expr{bin("gt", Expr{Kind: ExprFunc, FuncName: "sum", Args: []Expr{col("o", "total")}}, lit(1000))},
		OrderBy: []OrderItem{{Expr: col("o", "region"), Desc: true}},
		Limit:   &limit,
	}
	sql, err := Generate(p, "sqlite", 10000)
	require.NoError(t, err)
	assert.Contains(t, sql, `WHERE ("o"."total" >= 100)`)
	assert.Contains(t, sql, `GROUP BY "o"."region"`)
	assert.Contains(t, sql, `HAVING (SUM("o"."total") > 1000)`)
	assert.Contains(t, sql, `ORDER BY "o"."region" DESC`)
	assert.True(t, strings.HasSuffix(sql, "LIMIT 10"), sql)

	// Clause order is fixed.
	wherePos := strings.Index(sql, "WHERE")
	groupPos := strings.Index(sql, "GROUP BY")
	havingPos := strings.Index(sql, "HAVING")
	orderPos := strings.Index(sql, "ORDER BY")
	assert.True(t, wherePos < groupPos && groupPos < havingPos && havingPos < orderPos)
}

func TestGenerateJoin(t *testing.T) {
	p := &Plan{
		QueryType: "READ",
		Tables: []TableRef{
			{Name: "orders", Alias: "o", Ordinal: 0},
			{Name: "customers", Alias: "c", Ordinal: 1},
		},
		SelectItems: []SelectItem{
			{Expr: col("c", "name"), Ordinal: 0},
			{Expr: col("o", "total"), Ordinal: 1},
		},
		Joins: []JoinSpec{{
			LeftAlias:  "o",
			RightAlias: "c",
			JoinType:   "left",
			Condition:  bin("eq", col("o", "customer_id"), col("c", "id")),
			Ordinal:    0,
		}},
	}
	sql, err := Generate(p, "postgres", 0)
	require.NoError(t, err)
	assert.Contains(t, sql, `LEFT JOIN "customers" AS "c" ON ("o"."customer_id" = "c"."id")`)
}

func TestGenerateRowLimitClamp(t *testing.T) {
	p := simplePlan()
	big := 50000
	p.Limit = &big
	sql, err := Generate(p, "sqlite", 1000)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(sql, "LIMIT 1000"), sql)

	small := 5
	p.Limit = &small
	sql, err = Generate(p, "sqlite", 1000)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(sql, "LIMIT 5"), sql)
}

func TestGenerateMySQLQuoting(t *testing.T) {
	sql, err := Generate(simplePlan(), "mysql", 0)
	require.NoError(t, err)
	assert.Contains(t, sql, "`orders` AS `o`")
}

func TestGenerateCountStar(t *testing.T) {
	p := simplePlan()
	p.SelectItems = []SelectItem{{Expr: Expr{Kind: ExprFunc, FuncName: "count"}, Alias: "n", Ordinal: 0}}
	sql, err := Generate(p, "sqlite", 0)
	require.NoError(t, err)
	assert.Contains(t, sql, `COUNT(*) AS "n"`)
}

func TestGenerateStringLiteralEscaping(t *testing.T) {
	p := simplePlan()
	p.Where = ptr(bin("eq", col("o", "region"), lit("O'Brien")))
	sql, err := Generate(p, "sqlite", 0)
	require.NoError(t, err)
	assert.Contains(t, sql, `'O''Brien'`)
}

func TestValidateRejectsNonRead(t *testing.T) {
	p := simplePlan()
	p.QueryType = "WRITE"
	assert.Error(t, p.Validate())
}

func TestValidateRejectsUnqualifiedColumn(t *testing.T) {
	p := simplePlan()
	p.SelectItems[0].Expr = Expr{Kind: ExprColumn, Name: "id"}
	assert.Error(t, p.Validate())
}

func TestValidateRejectsUndeclaredAlias(t *testing.T) {
	p := simplePlan()
	p.Where = ptr(bin("eq", col("x", "id"), lit(1)))
	assert.Error(t, p.Validate())
}

func TestValidateRejectsBrokenOrdinals(t *testing.T) {
	p := simplePlan()
	p.SelectItems[1].Ordinal = 5
	assert.Error(t, p.Validate())

	p = simplePlan()
	p.SelectItems[1].Ordinal = 0
	assert.Error(t, p.Validate())
}

func TestWalkColumnsVisitsAllReferences(t *testing.T) {
	p := simplePlan()
	p.Where = ptr(bin("and",
		bin("eq", col("o", "region"), lit("EU")),
		bin("gt", col("o", "total"), lit(10)),
	))
	var seen []string
	p.WalkColumns(func(alias, name string) { seen = append(seen, alias+"."+name) })
	assert.ElementsMatch(t, []string{"o.id", "o.total", "o.region", "o.total"}, seen)
}

func ptr(e Expr) *Expr { return &e }
