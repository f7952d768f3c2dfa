// Package artifact persists result frames as content-addressed columnar
// artifacts. URIs are deterministic in the addressing tuple, so re-execution
// of the same node is a no-op overwrite.
package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"queryloom/internal/types"
)

// columnSpecMetaKey stores the ordered column specs in the parquet footer so
// a frame round-trips with its declared column order and type tags.
const columnSpecMetaKey = "queryloom.columns"

// encodeFrame serializes a frame to parquet. The parquet schema sorts fields
// alphabetically; declared order is restored on read from the footer metadata.
func encodeFrame(frame *types.ResultFrame) ([]byte, error) {
	group := parquet.Group{}
	for _, col := range frame.Columns {
		group[col.Name] = parquet.Optional(parquetNode(col.Type))
	}
	schema := parquet.NewSchema("frame", group)

	specJSON, err := json.Marshal(frame.Columns)
	if err != nil {
		return nil, fmt.Errorf("encoding column specs: %w", err)
	}

	buf := new(bytes.Buffer)
	writer := parquet.NewGenericWriter[map[string]any](buf, schema,
		parquet.KeyValueMetadata(columnSpecMetaKey, string(specJSON)))

	records := make([]map[string]any, len(frame.Rows))
	for i, row := range frame.Rows {
		rec := make(map[string]any, len(frame.Columns))
		for j, col := range frame.Columns {
			if j < len(row) {
				cell, err := convertCell(row[j], col.Type)
				if err != nil {
					return nil, fmt.Errorf("row %d, column %s: %w", i, col.Name, err)
				}
				rec[col.Name] = cell
			}
		}
		records[i] = rec
	}
	if len(records) > 0 {
		if _, err := writer.Write(records); err != nil {
			return nil, fmt.Errorf("writing parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeFrame restores a frame from parquet bytes.
func decodeFrame(data []byte) (*types.ResultFrame, error) {
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening parquet artifact: %w", err)
	}

	var columns []types.ColumnSpec
	if specJSON, ok := file.Lookup(columnSpecMetaKey); ok {
		if err := json.Unmarshal([]byte(specJSON), &columns); err != nil {
			return nil, fmt.Errorf("decoding column specs: %w", err)
		}
	} else {
		for _, field := range file.Schema().Fields() {
			columns = append(columns, types.ColumnSpec{Name: field.Name(), Type: "string"})
		}
	}

	// A generic reader over map records cannot derive a schema from the type
	// parameter; it takes the one from the opened file.
	reader := parquet.NewGenericReader[map[string]any](bytes.NewReader(data), file.Schema())
	defer reader.Close()

	n := int(reader.NumRows())
	records := make([]map[string]any, n)
	for i := range records {
		records[i] = map[string]any{}
	}
	if n > 0 {
		if _, err := reader.Read(records); err != nil && err.Error() != "EOF" {
			return nil, fmt.Errorf("reading parquet rows: %w", err)
		}
	}

	rows := make([][]any, n)
	for i, rec := range records {
		row := make([]any, len(columns))
		for j, col := range columns {
			row[j] = rec[col.Name]
		}
		rows[i] = row
	}

	return &types.ResultFrame{
		Success:  true,
		Columns:  columns,
		Rows:     rows,
		RowCount: n,
	}, nil
}

// parquetNode maps a normalized type tag to a parquet leaf node.
func parquetNode(typeTag string) parquet.Node {
	switch strings.ToLower(typeTag) {
	case "int", "integer", "bigint", "smallint", "int64":
		return parquet.Int(64)
	case "float", "double", "real", "numeric", "decimal", "float64":
		return parquet.Leaf(parquet.DoubleType)
	case "bool", "boolean":
		return parquet.Leaf(parquet.BooleanType)
	default:
		// strings, timestamps, dates and unknowns travel as UTF-8
		return parquet.String()
	}
}

// convertCell coerces a cell value to the representation its parquet node
// expects. Scalars travel as their string form on string columns; values of
// an unhandled type are an error rather than a lossy stringification.
func convertCell(v any, typeTag string) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch strings.ToLower(typeTag) {
	case "int", "integer", "bigint", "smallint", "int64":
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			return int64(n), nil
		}
	case "float", "double", "real", "numeric", "decimal", "float64":
		switch n := v.(type) {
		case float32:
			return float64(n), nil
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case "bool", "boolean":
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		// drivers return TEXT affinity values as raw bytes
		return string(s), nil
	case time.Time:
		return s.UTC().Format(time.RFC3339Nano), nil
	case bool, int, int32, int64, float32, float64:
		return fmt.Sprintf("%v", s), nil
	}
	return nil, fmt.Errorf("cell of type %T does not fit column type %q", v, typeTag)
}

// contentHash fingerprints the logical frame content. It hashes the canonical
// JSON of columns and rows rather than the encoded bytes, so identical
// payloads hash identically regardless of encoder metadata.
func contentHash(frame *types.ResultFrame) (string, error) {
	canonical := struct {
		Columns []types.ColumnSpec `json:"columns"`
		Rows    [][]any            `json:"rows"`
	}{Columns: frame.Columns, Rows: frame.Rows}
	data, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("hashing frame: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
