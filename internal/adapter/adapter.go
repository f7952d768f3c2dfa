// Package adapter defines the capability-typed datasource contract and the
// registry that eagerly constructs one adapter per configured datasource.
package adapter

import (
	"context"
	"fmt"

	"queryloom/internal/schema"
	"queryloom/internal/secrets"
	"queryloom/internal/types"
)

// Adapter is one connected datasource. Execute never returns a Go error:
// every failure is normalized into the frame's error field.
type Adapter interface {
	// ID returns the datasource id this instance serves.
	ID() string

	// Capabilities is pure and cheap; it determines routability.
	Capabilities() types.CapabilitySet

	// Connect performs idempotent initialization at registration time.
	Connect(ctx context.Context) error

	// FetchSchemaSnapshot returns the full canonical snapshot.
	FetchSchemaSnapshot(ctx context.Context) (*schema.Snapshot, error)

	// Execute runs one request and returns a typed frame.
	Execute(ctx context.Context, req types.AdapterRequest) *types.ResultFrame

	// Dialect returns the normalized dialect tag.
	Dialect() string

	// TestConnection is a health probe.
	TestConnection(ctx context.Context) bool

	// Details returns safe connection metadata for diagnostics.
	Details() map[string]any
}

// DryRunner is implemented by adapters that can validate SQL without
// executing it.
type DryRunner interface {
	DryRun(ctx context.Context, sql string) error
}

// CostEstimator is implemented by adapters that can estimate result size.
type CostEstimator interface {
	EstimateRows(ctx context.Context, sql string) (int64, error)
}

// =============================================================================
// ERROR NORMALIZATION
// =============================================================================

// errorFrame builds a failed frame with a structured error.
func errorFrame(code types.ErrorCode, datasourceID, msg string, retryable bool) *types.ResultFrame {
	return &types.ResultFrame{
		Success:      false,
		DatasourceID: datasourceID,
		Error: &types.FrameError{
			ErrorCode:    code,
			SafeMessage:  msg,
			Severity:     "ERROR",
			Retryable:    retryable,
			DatasourceID: datasourceID,
		},
	}
}

// checkSQLRequest enforces the plan-type contract shared by SQL adapters.
func checkSQLRequest(datasourceID string, req types.AdapterRequest) (string, *types.ResultFrame) {
	if req.PlanType != types.PlanTypeSQL {
		return "", errorFrame(types.ErrCapabilityViolation, datasourceID,
			fmt.Sprintf("adapter accepts plan_type=sql, got %q", req.PlanType), false)
	}
	sql, ok := req.SQL()
	if !ok {
		return "", errorFrame(types.ErrMissingSQL, datasourceID,
			"request payload carries no sql statement", false)
	}
	return sql, nil
}

// connValue unwraps a connection argument that may be an opaque secret.
func connValue(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case secrets.Secret:
		return s.Reveal(), true
	case string:
		return s, true
	default:
		return fmt.Sprintf("%v", v), true
	}
}
