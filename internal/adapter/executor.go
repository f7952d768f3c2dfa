package adapter

import (
	"context"
	"fmt"

	"queryloom/internal/sandbox"
	"queryloom/internal/types"
)

// snapshotStatKey carries introspection output through the sandbox result
// frame's execution stats.
const snapshotStatKey = "schema_snapshot"

// Executor bridges sandbox submissions to registered adapters, dispatching
// on the submission mode.
func (r *Registry) Executor() sandbox.Executor {
	return func(ctx context.Context, req *sandbox.ExecutionRequest) (*types.ResultFrame, error) {
		a, ok := r.Get(req.DatasourceID)
		if !ok {
			return nil, fmt.Errorf("unknown datasource %q", req.DatasourceID)
		}

		switch req.Mode {
		case sandbox.ModeExecute:
			return a.Execute(ctx, types.AdapterRequest{
				PlanType:   types.PlanTypeSQL,
				Payload:    map[string]any{"sql": req.SQL},
				Parameters: req.Parameters,
				Limits:     req.Limits,
				TraceID:    req.TraceID,
			}), nil

		case sandbox.ModeDryRun:
			dr, ok := a.(DryRunner)
			if !ok {
				return nil, fmt.Errorf("datasource %q does not support dry run", req.DatasourceID)
			}
			if err := dr.DryRun(ctx, req.SQL); err != nil {
				return nil, err
			}
			return &types.ResultFrame{Success: true, DatasourceID: req.DatasourceID}, nil

		case sandbox.ModeCostEstimate:
			ce, ok := a.(CostEstimator)
			if !ok {
				return nil, fmt.Errorf("datasource %q does not support cost estimation", req.DatasourceID)
			}
			rowsEstimate, err := ce.EstimateRows(ctx, req.SQL)
			if err != nil {
				return nil, err
			}
			return &types.ResultFrame{
				Success:        true,
				DatasourceID:   req.DatasourceID,
				ExecutionStats: map[string]any{"estimated_rows": rowsEstimate},
			}, nil

		case sandbox.ModeIntrospect:
			snap, err := a.FetchSchemaSnapshot(ctx)
			if err != nil {
				return nil, err
			}
			return &types.ResultFrame{
				Success:        true,
				DatasourceID:   req.DatasourceID,
				ExecutionStats: map[string]any{snapshotStatKey: snap},
			}, nil

		default:
			return nil, fmt.Errorf("unknown execution mode %q", req.Mode)
		}
	}
}

// SnapshotFromResult extracts the snapshot produced by an introspection
// submission.
func SnapshotFromResult(res *sandbox.ExecutionResult) (any, bool) {
	if res == nil || !res.Success || res.Data == nil || res.Data.ExecutionStats == nil {
		return nil, false
	}
	snap, ok := res.Data.ExecutionStats[snapshotStatKey]
	return snap, ok
}
