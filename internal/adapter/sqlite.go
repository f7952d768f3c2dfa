package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"queryloom/internal/config"
	"queryloom/internal/schema"
	"queryloom/internal/types"
)

func init() {
	RegisterConstructor("sqlite", NewSQLiteAdapter)
}

// SQLiteAdapter serves an embedded sqlite database. Mainly used for local
// deployments and tests; it carries the full SQL capability surface.
type SQLiteAdapter struct {
	id   string
	path string
	opts config.DatasourceOptions
	db   *sql.DB
}

// NewSQLiteAdapter is the "sqlite" engine constructor. Connection args:
// path (file path or ":memory:").
func NewSQLiteAdapter(id string, args map[string]any, opts config.DatasourceOptions) (Adapter, error) {
	path, ok := connValue(args, "path")
	if !ok || path == "" {
		return nil, fmt.Errorf("sqlite connection requires a path")
	}
	return &SQLiteAdapter{id: id, path: path, opts: opts}, nil
}

func (a *SQLiteAdapter) ID() string { return a.id }

func (a *SQLiteAdapter) Capabilities() types.CapabilitySet {
	return types.NewCapabilitySet(types.CapSQL, types.CapSchemaIntrospection, types.CapDryRun)
}

func (a *SQLiteAdapter) Dialect() string { return "sqlite" }

// Connect opens the database handle; repeat calls are no-ops.
func (a *SQLiteAdapter) Connect(ctx context.Context) error {
	if a.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite", a.path)
	if err != nil {
		return fmt.Errorf("opening sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("pinging sqlite database: %w", err)
	}
	a.db = db
	return nil
}

func (a *SQLiteAdapter) TestConnection(ctx context.Context) bool {
	if a.db == nil {
		return false
	}
	return a.db.PingContext(ctx) == nil
}

func (a *SQLiteAdapter) Details() map[string]any {
	return map[string]any{
		"engine":  "sqlite",
		"path":    a.path,
		"dialect": a.Dialect(),
	}
}

// FetchSchemaSnapshot introspects tables, columns and foreign keys.
func (a *SQLiteAdapter) FetchSchemaSnapshot(ctx context.Context) (*schema.Snapshot, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	var tableNames []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		tableNames = append(tableNames, name)
	}
	rows.Close()

	snap := &schema.Snapshot{DatasourceID: a.id}
	for _, name := range tableNames {
		table := schema.TableContract{Name: "main." + name}

		colRows, err := a.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, name))
		if err != nil {
			return nil, fmt.Errorf("introspecting table %s: %w", name, err)
		}
		for colRows.Next() {
			var cid int
			var colName, colType string
			var notNull, pk int
			var dflt sql.NullString
			if err := colRows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
				colRows.Close()
				return nil, err
			}
			table.Columns = append(table.Columns, schema.Column{
				Name:       colName,
				Type:       colType,
				Nullable:   notNull == 0,
				PrimaryKey: pk > 0,
			})
		}
		colRows.Close()

		fkRows, err := a.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA foreign_key_list(%q)`, name))
		if err != nil {
			return nil, fmt.Errorf("introspecting foreign keys of %s: %w", name, err)
		}
		for fkRows.Next() {
			var fkID, seq int
			var refTable, from, to string
			var onUpdate, onDelete, match string
			if err := fkRows.Scan(&fkID, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
				fkRows.Close()
				return nil, err
			}
			table.ForeignKeys = append(table.ForeignKeys, schema.ForeignKey{
				Column:      from,
				RefTable:    "main." + refTable,
				RefColumn:   to,
				Cardinality: schema.ManyToOne,
			})
		}
		fkRows.Close()

		snap.Contract = append(snap.Contract, table)
	}
	return snap, nil
}

// Execute runs one SQL statement. Never returns a Go error; failures are
// normalized into the frame.
func (a *SQLiteAdapter) Execute(ctx context.Context, req types.AdapterRequest) *types.ResultFrame {
	stmt, errFrame := checkSQLRequest(a.id, req)
	if errFrame != nil {
		return errFrame
	}

	limits := a.effectiveLimits(req.Limits)
	if limits.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(limits.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	rows, err := a.db.QueryContext(ctx, stmt)
	if err != nil {
		return errorFrame(types.ErrExecutionError, a.id, fmt.Sprintf("query failed: %v", err), true)
	}
	defer rows.Close()

	colNames, err := rows.Columns()
	if err != nil {
		return errorFrame(types.ErrExecutionError, a.id, fmt.Sprintf("reading columns: %v", err), true)
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return errorFrame(types.ErrExecutionError, a.id, fmt.Sprintf("reading column types: %v", err), true)
	}

	columns := make([]types.ColumnSpec, len(colNames))
	for i, name := range colNames {
		columns[i] = types.ColumnSpec{Name: name, Type: normalizeSQLiteType(colTypes[i].DatabaseTypeName())}
	}

	var out [][]any
	var bytes int64
	truncated := false
	for rows.Next() {
		values := make([]any, len(colNames))
		ptrs := make([]any, len(colNames))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return errorFrame(types.ErrExecutionError, a.id, fmt.Sprintf("scanning row: %v", err), true)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
			bytes += approxSize(values[i])
		}
		if limits.MaxBytes > 0 && bytes > limits.MaxBytes {
			return errorFrame(types.ErrSafeguardViolation, a.id,
				fmt.Sprintf("result exceeds max_bytes ceiling of %d", limits.MaxBytes), false)
		}
		out = append(out, values)
		if limits.RowLimit > 0 && len(out) >= limits.RowLimit {
			truncated = rows.Next()
			break
		}
	}
	if err := rows.Err(); err != nil {
		return errorFrame(types.ErrExecutionError, a.id, fmt.Sprintf("row iteration: %v", err), true)
	}

	return &types.ResultFrame{
		Success:      true,
		Columns:      columns,
		Rows:         out,
		RowCount:     len(out),
		Truncated:    truncated,
		Bytes:        bytes,
		DatasourceID: a.id,
		ExecutionStats: map[string]any{
			"duration_ms": time.Since(start).Milliseconds(),
		},
	}
}

// DryRun validates a statement via EXPLAIN without materializing rows.
func (a *SQLiteAdapter) DryRun(ctx context.Context, stmt string) error {
	rows, err := a.db.QueryContext(ctx, "EXPLAIN "+stmt)
	if err != nil {
		return fmt.Errorf("dry run rejected: %w", err)
	}
	return rows.Close()
}

func (a *SQLiteAdapter) effectiveLimits(l types.Limits) types.Limits {
	if l.RowLimit <= 0 || (a.opts.RowLimit > 0 && l.RowLimit > a.opts.RowLimit) {
		l.RowLimit = a.opts.RowLimit
	}
	if l.MaxBytes <= 0 || (a.opts.MaxBytes > 0 && l.MaxBytes > a.opts.MaxBytes) {
		l.MaxBytes = a.opts.MaxBytes
	}
	if l.TimeoutMS <= 0 || (a.opts.StatementTimeoutMS > 0 && l.TimeoutMS > a.opts.StatementTimeoutMS) {
		l.TimeoutMS = a.opts.StatementTimeoutMS
	}
	return l
}

func normalizeSQLiteType(t string) string {
	switch t {
	case "INTEGER", "INT", "BIGINT":
		return "integer"
	case "REAL", "FLOAT", "DOUBLE", "NUMERIC":
		return "double"
	case "BOOLEAN":
		return "boolean"
	default:
		return "string"
	}
}

func approxSize(v any) int64 {
	switch s := v.(type) {
	case nil:
		return 1
	case string:
		return int64(len(s))
	default:
		return 8
	}
}
