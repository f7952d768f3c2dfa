// Package pipeline runs one sub-query through the execution sub-pipeline:
// schema retrieval, AST planning, logical validation, SQL generation,
// physical validation and sandboxed execution, with a bounded retry loop
// routed through the refiner.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"queryloom/internal/adapter"
	"queryloom/internal/agents"
	"queryloom/internal/artifact"
	"queryloom/internal/index"
	"queryloom/internal/logging"
	"queryloom/internal/observability"
	"queryloom/internal/plan"
	"queryloom/internal/policy"
	"queryloom/internal/runtime"
	"queryloom/internal/sandbox"
	"queryloom/internal/schema"
	"queryloom/internal/types"
)

// State names of the sub-pipeline state machine.
const (
	StateSchemaRetrieved = "schema_retrieved"
	StateASTPlanned      = "ast_planned"
	StateLogicallyValid  = "logically_valid"
	StateSQLGenerated    = "sql_generated"
	StatePhysicallyValid = "physically_valid"
	StateExecuted        = "executed"
	StateFailed          = "failed"
)

// SubgraphOutput is the sub-pipeline's terminal result, success or not.
type SubgraphOutput struct {
	SubQuery   types.SubQuery        `json:"sub_query"`
	SubgraphID string                `json:"subgraph_id"`
	RetryCount int                   `json:"retry_count"`
	Plan       *plan.Plan            `json:"plan,omitempty"`
	SQLDraft   string                `json:"sql_draft,omitempty"`
	Artifact   *types.ArtifactRef    `json:"artifact,omitempty"`
	Errors     []types.PipelineError `json:"errors,omitempty"`
	Reasoning  []string              `json:"reasoning,omitempty"`
	Status     string                `json:"status"`
}

// Request carries everything one sub-pipeline run needs.
type Request struct {
	SubQuery     types.SubQuery
	TenantID     string
	RequestID    string
	TraceID      string
	User         types.UserContext
	SubgraphName string
	DAGNodeID    string
	Controller   *runtime.Controller
}

// Pipeline wires the sub-pipeline's dependencies. One instance serves all
// concurrent sub-queries.
type Pipeline struct {
	Index       *index.Index
	SchemaStore schema.Store
	Registry    *adapter.Registry
	Sandbox     *sandbox.Sandbox
	Artifacts   *artifact.Store
	Policy      *policy.Engine
	Caller      *agents.Caller
	Breakers    *runtime.Breakers

	MaxRetries    int
	RetrievalTopK int
}

// Run drives the state machine for one sub-query to a terminal state.
func (p *Pipeline) Run(ctx context.Context, req Request) *SubgraphOutput {
	out := &SubgraphOutput{
		SubQuery:   req.SubQuery,
		SubgraphID: req.SubgraphName,
		Status:     StateFailed,
	}
	start := time.Now()
	defer func() {
		observability.Metrics().ObserveNode("sub_pipeline", req.SubQuery.DatasourceID, time.Since(start))
	}()

	if req.SubQuery.DatasourceID == "" {
		out.fail(types.NewError("executor", types.ErrMissingDatasourceID, types.SeverityError,
			"sub-query %s has no datasource", req.SubQuery.ID).WithSubQuery(req.SubQuery.ID))
		return out
	}
	a, ok := p.Registry.Get(req.SubQuery.DatasourceID)
	if !ok {
		out.fail(types.NewError("executor", types.ErrMissingDatasourceID, types.SeverityError,
			"datasource %s is not registered", req.SubQuery.DatasourceID).WithSubQuery(req.SubQuery.ID))
		return out
	}

	schemaCtx, errs := p.retrieveSchema(ctx, &req)
	if len(errs) > 0 {
		out.fail(errs...)
		return out
	}
	out.step(StateSchemaRetrieved, "retrieved %d tables", len(schemaCtx.tables))

	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	feedback := ""
	for attempt := 0; ; attempt++ {
		out.RetryCount = attempt
		attemptErrs := p.attempt(ctx, &req, a, schemaCtx, feedback, out)
		if len(attemptErrs) == 0 {
			out.Status = StateExecuted
			return out
		}
		out.Errors = append(out.Errors, attemptErrs...)

		if !types.HasRetryable(attemptErrs) || attempt >= maxRetries {
			break
		}

		if cancelErr, cancelled := req.Controller.CheckPoint("retry_handler"); cancelled {
			out.fail(cancelErr)
			return out
		}
		fb, refErr := p.refine(ctx, &req, out.Plan, attemptErrs)
		if refErr != nil {
			out.fail(*refErr)
			return out
		}
		feedback = fb
		if !p.backoff(ctx, req.Controller, attempt) {
			out.fail(types.NewError("retry_handler", types.ErrCancelled, types.SeverityCritical,
				"cancelled during retry backoff").WithSubQuery(req.SubQuery.ID))
			return out
		}
		out.step("retry", "attempt %d after refinement", attempt+1)
	}

	out.Status = StateFailed
	return out
}

// attempt runs planner through executor once. Empty return means success and
// out.Artifact is set.
func (p *Pipeline) attempt(ctx context.Context, req *Request, a adapter.Adapter, sc *schemaContext, feedback string, out *SubgraphOutput) []types.PipelineError {
	sq := &req.SubQuery

	if cancelErr, cancelled := req.Controller.CheckPoint("ast_planner"); cancelled {
		return []types.PipelineError{cancelErr}
	}
	planned, perr := p.planAST(ctx, req, sc, feedback)
	if perr != nil {
		return []types.PipelineError{*perr}
	}
	out.Plan = &planned.Plan
	if planned.Reasoning != "" {
		out.Reasoning = append(out.Reasoning, planned.Reasoning)
	}
	out.step(StateASTPlanned, "plan over %d tables", len(planned.Plan.Tables))

	if errs := p.validateLogical(req, &planned.Plan, sc); len(errs) > 0 {
		return errs
	}
	out.step(StateLogicallyValid, "plan passed logical validation")

	opts, _ := p.Registry.Options(sq.DatasourceID)
	sqlText, err := plan.Generate(&planned.Plan, a.Dialect(), opts.RowLimit)
	if err != nil {
		return []types.PipelineError{types.NewError("sql_generator", types.ErrSQLGenFailed,
			types.SeverityError, "could not serialize the query plan").
			WithSubQuery(sq.ID).WithDatasource(sq.DatasourceID).WithStage(StateSQLGenerated).
			WithDetail("cause", err.Error())}
	}
	out.SQLDraft = sqlText
	out.step(StateSQLGenerated, "generated sql (%d chars)", len(sqlText))

	var warnings []types.PipelineError
	if errs, warns := p.validatePhysical(ctx, req, a, sqlText, opts.RowLimit); len(errs) > 0 {
		return errs
	} else {
		warnings = warns
	}
	out.Errors = append(out.Errors, warnings...)
	out.step(StatePhysicallyValid, "plan passed physical validation")

	ref, errs := p.execute(ctx, req, sc, sqlText)
	if len(errs) > 0 {
		return errs
	}
	out.Artifact = ref
	out.step(StateExecuted, "artifact %s rows=%d", ref.URI, ref.RowCount)
	return nil
}

// =============================================================================
// SCHEMA RETRIEVER
// =============================================================================

type schemaContext struct {
	version string
	tables  []agents.SchemaTable
	// hints are retrieved relationship and example-question snippets, purely
	// advisory for the planner.
	hints []string
}

// retrieveSchema gathers the top-k tables then the columns/relationships
// restricted to them. Falls back to the full snapshot when retrieval yields
// nothing.
func (p *Pipeline) retrieveSchema(ctx context.Context, req *Request) (*schemaContext, []types.PipelineError) {
	sq := &req.SubQuery
	if cancelErr, cancelled := req.Controller.CheckPoint("schema_retriever"); cancelled {
		return nil, []types.PipelineError{cancelErr}
	}

	version, err := p.SchemaStore.GetLatestVersion(ctx, sq.DatasourceID)
	if err != nil {
		return nil, []types.PipelineError{types.NewError("schema_retriever", types.ErrSchemaRetrieval,
			types.SeverityError, "no schema registered for datasource %s", sq.DatasourceID).
			WithSubQuery(sq.ID).WithDatasource(sq.DatasourceID)}
	}

	k := p.RetrievalTopK
	if k <= 0 {
		k = 5
	}

	hitsAny, err := p.Breakers.Execute(runtime.BreakerRetrieval, func() (any, error) {
		return p.Index.RetrieveSchemaContext(ctx, sq.Intent, sq.DatasourceID, k)
	})
	if err != nil {
		if pe, ok := err.(types.PipelineError); ok {
			return nil, []types.PipelineError{pe.WithSubQuery(sq.ID).WithDatasource(sq.DatasourceID)}
		}
		logging.PipelineDebug("schema retrieval failed for %s, falling back to snapshot: %v", sq.DatasourceID, err)
	}

	var tableNames []string
	var warnings []types.PipelineError
	if hits, ok := hitsAny.([]index.ScoredChunk); ok {
		for _, h := range hits {
			decision := p.Policy.CheckSchemaVersion(sq.DatasourceID, h.Chunk.SchemaVersion, version)
			if decision.Warning != nil {
				warnings = append(warnings, decision.Warning.WithSubQuery(sq.ID))
			}
			if decision.Drop {
				continue
			}
			tableNames = append(tableNames, h.Chunk.Table)
		}
	}

	snap, err := p.SchemaStore.GetSnapshot(ctx, sq.DatasourceID, version)
	if err != nil {
		return nil, []types.PipelineError{types.NewError("schema_retriever", types.ErrSchemaRetrieval,
			types.SeverityError, "schema snapshot unavailable for datasource %s", sq.DatasourceID).
			WithSubQuery(sq.ID).WithDatasource(sq.DatasourceID)}
	}

	// Retrieval fallback: no usable hits means the planner sees everything.
	if len(tableNames) == 0 {
		for _, t := range snap.Contract {
			tableNames = append(tableNames, t.Name)
		}
	}

	sc := &schemaContext{version: version}
	for _, name := range tableNames {
		t, ok := snap.Contract.Table(name)
		if !ok {
			continue
		}
		st := agents.SchemaTable{Name: t.Name}
		for _, c := range t.Columns {
			st.Columns = append(st.Columns, c.Name+" "+c.Type)
		}
		sc.tables = append(sc.tables, st)
	}
	if len(sc.tables) == 0 {
		return nil, append(warnings, types.NewError("schema_retriever", types.ErrSchemaRetrieval,
			types.SeverityError, "no tables available for datasource %s", sq.DatasourceID).
			WithSubQuery(sq.ID).WithDatasource(sq.DatasourceID))
	}
	sc.hints = p.planningHints(ctx, sq, tableNames, k)
	return sc, nil
}

// planningHints retrieves relationship and example chunks for the selected
// tables. Best effort: retrieval failures leave the planner without hints.
func (p *Pipeline) planningHints(ctx context.Context, sq *types.SubQuery, tables []string, k int) []string {
	var hints []string
	out, err := p.Breakers.Execute(runtime.BreakerRetrieval, func() (any, error) {
		return p.Index.RetrievePlanningContext(ctx, sq.Intent, sq.DatasourceID, tables, k)
	})
	if err == nil {
		if hits, ok := out.([]index.ScoredChunk); ok {
			for _, h := range hits {
				if h.Chunk.Type == index.ChunkRelationship {
					hints = append(hints, h.Chunk.Text)
				}
			}
		}
	}
	out, err = p.Breakers.Execute(runtime.BreakerRetrieval, func() (any, error) {
		return p.Index.RetrieveExamples(ctx, sq.Intent, sq.DatasourceID, 3)
	})
	if err == nil {
		if hits, ok := out.([]index.ScoredChunk); ok {
			for _, h := range hits {
				hints = append(hints, "Example question: "+h.Chunk.Text)
			}
		}
	}
	return hints
}

// =============================================================================
// AST PLANNER
// =============================================================================

func (p *Pipeline) planAST(ctx context.Context, req *Request, sc *schemaContext, feedback string) (*agents.PlanResponse, *types.PipelineError) {
	sq := &req.SubQuery
	system, user, err := agents.ASTPlannerPrompt(sq, sc.tables, sc.hints, feedback)
	if err != nil {
		pe := types.NewError("ast_planner", types.ErrPlanningFailure, types.SeverityError,
			"could not build the planning prompt").WithSubQuery(sq.ID).WithDatasource(sq.DatasourceID)
		return nil, &pe
	}
	var resp agents.PlanResponse
	if err := p.Caller.Call(ctx, agents.AgentASTPlanner, system, user, sq.DatasourceID, &resp); err != nil {
		pe := types.AsPipelineError("ast_planner", err).WithSubQuery(sq.ID).WithDatasource(sq.DatasourceID).
			WithStage(StateASTPlanned)
		return nil, &pe
	}
	return &resp, nil
}

// =============================================================================
// LOGICAL VALIDATOR
// =============================================================================

// validateLogical checks RBAC coverage, table membership in the retrieved
// schema, column existence and structural plan validity. RBAC failures are
// SECURITY_VIOLATION and never retryable.
func (p *Pipeline) validateLogical(req *Request, pl *plan.Plan, sc *schemaContext) []types.PipelineError {
	sq := &req.SubQuery
	var errs []types.PipelineError

	fail := func(code types.ErrorCode, format string, args ...any) {
		errs = append(errs, types.NewError("logical_validator", code, types.SeverityError, format, args...).
			WithSubQuery(sq.ID).WithDatasource(sq.DatasourceID).WithStage(StateLogicallyValid))
	}

	if !strings.EqualFold(pl.QueryType, "READ") {
		fail(types.ErrSecurityViolation, "only READ queries are permitted")
		return errs
	}

	if err := pl.Validate(); err != nil {
		fail(types.ErrPlanningFailure, "plan is structurally invalid: %v", err)
		return errs
	}

	if !p.Policy.DatasourceAllowed(req.User, sq.DatasourceID) {
		fail(types.ErrSecurityViolation, "role set does not permit datasource %s", sq.DatasourceID)
		return errs
	}

	retrieved := make(map[string]bool, len(sc.tables))
	for _, t := range sc.tables {
		retrieved[strings.ToLower(t.Name)] = true
	}

	for _, name := range pl.TableNames() {
		if !retrieved[strings.ToLower(name)] {
			fail(types.ErrPlanningFailure, "table %s is not in the retrieved schema", name)
		}
		if !p.Policy.TableAllowed(req.User, sq.DatasourceID, name) {
			fail(types.ErrSecurityViolation, "role set does not permit table %s.%s", sq.DatasourceID, name)
		}
	}
	if len(errs) > 0 {
		return errs
	}

	// Column references resolve against their alias's table contract.
	columnsByTable := make(map[string]map[string]bool, len(sc.tables))
	for _, t := range sc.tables {
		cols := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			name := c
			if i := strings.IndexByte(c, ' '); i > 0 {
				name = c[:i]
			}
			cols[strings.ToLower(name)] = true
		}
		columnsByTable[strings.ToLower(t.Name)] = cols
	}
	pl.WalkColumns(func(alias, name string) {
		table, ok := pl.AliasTable(alias)
		if !ok {
			return // caught by plan.Validate above
		}
		cols := columnsByTable[strings.ToLower(table)]
		if cols != nil && !cols[strings.ToLower(name)] {
			fail(types.ErrPlanningFailure, "column %s does not exist on table %s", name, table)
		}
	})
	return errs
}

// =============================================================================
// PHYSICAL VALIDATOR
// =============================================================================

var writeStatementPrefixes = []string{
	"insert", "update", "delete", "drop", "alter", "create", "truncate",
	"grant", "revoke", "merge", "replace",
}

// looksLikeWrite flags statements starting with a write keyword, including
// stacked statements after a semicolon.
func looksLikeWrite(sqlText string) bool {
	lowered := strings.ToLower(strings.TrimSpace(sqlText))
	for _, prefix := range writeStatementPrefixes {
		if strings.HasPrefix(lowered, prefix) || strings.Contains(lowered, "; "+prefix) {
			return true
		}
	}
	return false
}

// validatePhysical runs the static write check, then dry-run and
// cost-estimate when the adapter supports them. Returns hard errors and
// separate warnings.
func (p *Pipeline) validatePhysical(ctx context.Context, req *Request, a adapter.Adapter, sqlText string, rowLimit int) ([]types.PipelineError, []types.PipelineError) {
	sq := &req.SubQuery

	if looksLikeWrite(sqlText) {
		return []types.PipelineError{types.NewError("physical_validator", types.ErrSecurityViolation,
			types.SeverityError, "generated sql contains a write statement").
			WithSubQuery(sq.ID).WithDatasource(sq.DatasourceID).WithStage(StatePhysicallyValid)}, nil
	}

	if cancelErr, cancelled := req.Controller.CheckPoint("physical_validator"); cancelled {
		return []types.PipelineError{cancelErr}, nil
	}

	caps := a.Capabilities()
	if caps.Has(types.CapDryRun) {
		res := p.submitDB(ctx, req, sandbox.ModeDryRun, sqlText)
		if errs := p.resultErrors(sq, "physical_validator", res); len(errs) > 0 {
			// Dry-run failures are retryable: the plan may be fixable.
			return errs, nil
		}
	}

	var warnings []types.PipelineError
	if caps.Has(types.CapCostEstimate) {
		res := p.submitDB(ctx, req, sandbox.ModeCostEstimate, sqlText)
		if res != nil && res.Success && res.Data != nil && res.Data.ExecutionStats != nil {
			if est, ok := toInt64(res.Data.ExecutionStats["estimated_rows"]); ok && rowLimit > 0 && est > int64(rowLimit) {
				warnings = append(warnings, types.NewError("physical_validator", types.ErrPerformanceWarning,
					types.SeverityWarning, "estimated %d rows exceeds the row limit of %d", est, rowLimit).
					WithSubQuery(sq.ID).WithDatasource(sq.DatasourceID).WithStage(StatePhysicallyValid))
			}
		}
	}
	return nil, warnings
}

// =============================================================================
// EXECUTOR
// =============================================================================

func (p *Pipeline) execute(ctx context.Context, req *Request, sc *schemaContext, sqlText string) (*types.ArtifactRef, []types.PipelineError) {
	sq := &req.SubQuery

	if sqlText == "" {
		return nil, []types.PipelineError{types.NewError("executor", types.ErrMissingSQL,
			types.SeverityError, "no sql to execute").WithSubQuery(sq.ID)}
	}
	if cancelErr, cancelled := req.Controller.CheckPoint("executor"); cancelled {
		return nil, []types.PipelineError{cancelErr}
	}

	res := p.submitDB(ctx, req, sandbox.ModeExecute, sqlText)
	if errs := p.resultErrors(sq, "executor", res); len(errs) > 0 {
		return nil, errs
	}

	frame := res.Data
	key := types.ArtifactKey{
		TenantID:      req.TenantID,
		RequestID:     req.RequestID,
		SubgraphName:  req.SubgraphName,
		DAGNodeID:     req.DAGNodeID,
		SchemaVersion: sc.version,
	}
	ref, err := p.Artifacts.WriteResultFrame(ctx, frame, key)
	if err != nil {
		return nil, []types.PipelineError{types.NewError("executor", types.ErrExecutionFailed,
			types.SeverityError, "failed to persist the result").
			WithSubQuery(sq.ID).WithDatasource(sq.DatasourceID).WithDetail("cause", err.Error())}
	}
	return ref, nil
}

// submitDB routes one sandbox submission through the database breaker with
// the per-operation deadline.
func (p *Pipeline) submitDB(ctx context.Context, req *Request, mode sandbox.ExecutionMode, sqlText string) *sandbox.ExecutionResult {
	sq := &req.SubQuery
	opts, _ := p.Registry.Options(sq.DatasourceID)
	limits := types.Limits{
		RowLimit:  opts.RowLimit,
		TimeoutMS: int(runtime.SubmissionDeadline(ctx, opts.StatementTimeoutMS).Milliseconds()),
		MaxBytes:  opts.MaxBytes,
	}

	out, err := p.Breakers.Execute(runtime.BreakerDatabase, func() (any, error) {
		res := p.Sandbox.SubmitInteractive(ctx, &sandbox.ExecutionRequest{
			Mode:         mode,
			DatasourceID: sq.DatasourceID,
			Limits:       limits,
			SQL:          sqlText,
			TraceID:      req.TraceID,
		})
		if res.Metrics["is_crash"] == 1 {
			return res, fmt.Errorf("sandbox worker crashed")
		}
		if !res.Success && res.Data == nil {
			return res, fmt.Errorf("%s", res.Error)
		}
		// Frame-level failures (bad SQL etc.) are soft: the database is up.
		return res, nil
	})
	if err != nil {
		if pe, ok := err.(types.PipelineError); ok {
			return &sandbox.ExecutionResult{
				Success: false,
				Error:   pe.Message,
				Metrics: map[string]float64{"is_crash": 0, "breaker_open": 1},
			}
		}
		return &sandbox.ExecutionResult{
			Success: false,
			Error:   err.Error(),
			Metrics: map[string]float64{"is_crash": 0},
		}
	}
	return out.(*sandbox.ExecutionResult)
}

// resultErrors maps a sandbox result to pipeline errors. nil means success.
func (p *Pipeline) resultErrors(sq *types.SubQuery, source string, res *sandbox.ExecutionResult) []types.PipelineError {
	if res == nil {
		return []types.PipelineError{types.NewError(source, types.ErrUnknown, types.SeverityError,
			"sandbox returned no result").WithSubQuery(sq.ID)}
	}
	if res.Success {
		return nil
	}
	if res.Metrics["is_crash"] == 1 {
		return []types.PipelineError{types.NewError(source, types.ErrExecutorCrash, types.SeverityError,
			"execution worker crashed").WithSubQuery(sq.ID).WithDatasource(sq.DatasourceID)}
	}
	if res.Metrics["breaker_open"] == 1 {
		return []types.PipelineError{types.NewError(source, types.ErrServiceUnavailable, types.SeverityError,
			"database subsystem is temporarily unavailable").WithSubQuery(sq.ID).WithDatasource(sq.DatasourceID)}
	}
	if res.Data != nil && res.Data.Error != nil {
		fe := res.Data.Error
		pe := types.NewError(source, fe.ErrorCode, types.SeverityError, "%s", fe.SafeMessage).
			WithSubQuery(sq.ID).WithDatasource(sq.DatasourceID)
		if !fe.Retryable {
			pe = pe.NotRetryable()
		}
		return []types.PipelineError{pe}
	}
	return []types.PipelineError{types.NewError(source, types.ErrExecutionError, types.SeverityError,
		"%s", res.Error).WithSubQuery(sq.ID).WithDatasource(sq.DatasourceID)}
}

// =============================================================================
// REFINER & BACKOFF
// =============================================================================

func (p *Pipeline) refine(ctx context.Context, req *Request, lastPlan *plan.Plan, errs []types.PipelineError) (string, *types.PipelineError) {
	sq := &req.SubQuery
	system, user, err := agents.RefinerPrompt(sq, lastPlan, errs)
	if err != nil {
		pe := types.NewError("refiner", types.ErrPlanningFailure, types.SeverityError,
			"could not build the refinement prompt").WithSubQuery(sq.ID)
		return "", &pe
	}
	var resp agents.RefinerResponse
	if err := p.Caller.Call(ctx, agents.AgentRefiner, system, user, sq.DatasourceID, &resp); err != nil {
		pe := types.AsPipelineError("refiner", err).WithSubQuery(sq.ID)
		return "", &pe
	}
	feedback := resp.Feedback
	if len(resp.Corrections) > 0 {
		feedback += "\nCorrections:\n- " + strings.Join(resp.Corrections, "\n- ")
	}
	return feedback, nil
}

// backoff sleeps min(10, 1*2^count) + U[0, 0.5] seconds, honoring
// cancellation. Returns false when interrupted.
func (p *Pipeline) backoff(ctx context.Context, controller *runtime.Controller, count int) bool {
	delay := math.Min(10, math.Pow(2, float64(count)))
	delay += rand.Float64() * 0.5
	timer := time.NewTimer(time.Duration(delay * float64(time.Second)))
	defer timer.Stop()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-timer.C:
			return !controller.IsCancelled()
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if controller.IsCancelled() {
				return false
			}
		}
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func (o *SubgraphOutput) step(state, format string, args ...any) {
	logging.PipelineDebug("[%s/%s] %s: %s", o.SubgraphID, o.SubQuery.ID, state, fmt.Sprintf(format, args...))
}

func (o *SubgraphOutput) fail(errs ...types.PipelineError) {
	o.Errors = append(o.Errors, errs...)
	o.Status = StateFailed
}
