// Package types holds the shared data model for the query pipeline:
// requests, capabilities, adapter wire types, result frames, sub-queries and
// artifact references. Kept dependency-free so every layer can import it.
package types

import (
	"time"
)

// =============================================================================
// REQUEST & USER CONTEXT
// =============================================================================

// Request is one natural-language analytical question entering the pipeline.
type Request struct {
	Query    string `json:"query"`
	TenantID string `json:"tenant_id"`
	TraceID  string `json:"trace_id"`
	// RequestID keys artifacts; defaults to TraceID when empty.
	RequestID string      `json:"request_id"`
	User      UserContext `json:"user"`
}

// UserContext is the immutable set of roles held by the caller.
type UserContext struct {
	Roles []string `json:"roles"`
}

// =============================================================================
// CAPABILITIES
// =============================================================================

// Capability is a closed tag identifying what an adapter can do.
type Capability string

const (
	CapSQL                 Capability = "SUPPORTS_SQL"
	CapSchemaIntrospection Capability = "SUPPORTS_SCHEMA_INTROSPECTION"
	CapDryRun              Capability = "SUPPORTS_DRY_RUN"
	CapCostEstimate        Capability = "SUPPORTS_COST_ESTIMATE"
	CapREST                Capability = "SUPPORTS_REST"
	CapLake                Capability = "SUPPORTS_LAKE"
)

// CapabilitySet is the set of capabilities an adapter advertises.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from its members.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// =============================================================================
// ADAPTER WIRE TYPES
// =============================================================================

// PlanType selects which payload shape an adapter request carries.
type PlanType string

const (
	PlanTypeSQL   PlanType = "sql"
	PlanTypeREST  PlanType = "rest"
	PlanTypeNoSQL PlanType = "nosql"
)

// Limits are the safeguard ceilings applied to a single execution.
type Limits struct {
	RowLimit  int   `json:"row_limit,omitempty"`
	TimeoutMS int   `json:"timeout_ms,omitempty"`
	MaxBytes  int64 `json:"max_bytes,omitempty"`
}

// AdapterRequest is the wire-level request handed to an adapter.
type AdapterRequest struct {
	PlanType   PlanType       `json:"plan_type"`
	Payload    map[string]any `json:"payload"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Limits     Limits         `json:"limits"`
	TraceID    string         `json:"trace_id,omitempty"`
}

// SQL returns the sql payload entry, if present.
func (r AdapterRequest) SQL() (string, bool) {
	v, ok := r.Payload["sql"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// ColumnSpec names one result column with its normalized type tag.
type ColumnSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// FrameError is the structured error embedded in a failed ResultFrame.
// Severity uses the wire-level uppercase form.
type FrameError struct {
	ErrorCode    ErrorCode `json:"error_code"`
	SafeMessage  string    `json:"safe_message"`
	Severity     string    `json:"severity"` // WARNING | ERROR | CRITICAL
	Retryable    bool      `json:"retryable"`
	Stage        string    `json:"stage,omitempty"`
	DatasourceID string    `json:"datasource_id,omitempty"`
	ErrorID      string    `json:"error_id,omitempty"`
}

// ResultFrame is the adapter-agnostic tabular result.
type ResultFrame struct {
	Success        bool           `json:"success"`
	Columns        []ColumnSpec   `json:"columns"`
	Rows           [][]any        `json:"rows"`
	RowCount       int            `json:"row_count"`
	Truncated      bool           `json:"truncated"`
	Bytes          int64          `json:"bytes,omitempty"`
	DatasourceID   string         `json:"datasource_id,omitempty"`
	TenantID       string         `json:"tenant_id,omitempty"`
	ExecutionStats map[string]any `json:"execution_stats,omitempty"`
	Error          *FrameError    `json:"error,omitempty"`
}

// ColumnNames returns the column names in declared order.
func (f *ResultFrame) ColumnNames() []string {
	names := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnIndex returns the position of the named column, or -1.
func (f *ResultFrame) ColumnIndex(name string) int {
	for i, c := range f.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ErrorFrame builds a failed frame carrying a structured error.
func ErrorFrame(code ErrorCode, safeMessage string, retryable bool) ResultFrame {
	return ResultFrame{
		Success: false,
		Error: &FrameError{
			ErrorCode:   code,
			SafeMessage: safeMessage,
			Severity:    "ERROR",
			Retryable:   retryable,
		},
	}
}

// =============================================================================
// SUB-QUERY
// =============================================================================

// SubQuery is the unit of work scheduled on a sub-pipeline: one
// relation-producing operation against one datasource.
type SubQuery struct {
	ID              string   `json:"id"`
	DatasourceID    string   `json:"datasource_id"`
	Intent          string   `json:"intent"`
	Metrics         []string `json:"metrics,omitempty"`
	Filters         []string `json:"filters,omitempty"`
	GroupBy         []string `json:"group_by,omitempty"`
	ExpectedColumns []string `json:"expected_columns,omitempty"`
}

// =============================================================================
// ARTIFACT REFERENCE
// =============================================================================

// ArtifactRef is an immutable pointer to a persisted relation.
// The URI is deterministic in its key tuple; the content hash is computed
// before the reference is published.
type ArtifactRef struct {
	URI           string    `json:"uri"`
	Backend       string    `json:"backend"`
	RowCount      int       `json:"row_count"`
	Columns       []string  `json:"columns"`
	ByteSize      int64     `json:"byte_size"`
	ContentHash   string    `json:"content_hash"`
	CreatedAt     time.Time `json:"created_at"`
	SchemaVersion string    `json:"schema_version,omitempty"`
	PathTemplate  string    `json:"path_template"`
}

// ArtifactKey is the addressing tuple for a persisted relation.
type ArtifactKey struct {
	TenantID      string
	RequestID     string
	SubgraphName  string
	DAGNodeID     string
	SchemaVersion string
}
