// Package orchestrator drives the top-level pipeline graph: intent
// validation, datasource resolution, decomposition, global planning,
// layer-routed fan-out over the sub-query pipeline, deterministic
// combination, and answer synthesis. A response is always produced,
// including on timeout, cancellation and total failure.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"queryloom/internal/adapter"
	"queryloom/internal/agents"
	"queryloom/internal/artifact"
	"queryloom/internal/engine"
	"queryloom/internal/index"
	"queryloom/internal/logging"
	"queryloom/internal/observability"
	"queryloom/internal/pipeline"
	"queryloom/internal/policy"
	"queryloom/internal/runtime"
	"queryloom/internal/sandbox"
	"queryloom/internal/schema"
	"queryloom/internal/types"
)

// Orchestrator owns the top-level graph and the shared subsystems.
type Orchestrator struct {
	Registry    *adapter.Registry
	Policy      *policy.Engine
	Index       *index.Index
	SchemaStore schema.Store
	Sandbox     *sandbox.Sandbox
	Artifacts   *artifact.Store
	Caller      *agents.Caller
	Breakers    *runtime.Breakers
	Auditor     *runtime.Auditor
	Pipeline    *pipeline.Pipeline

	// Timeout bounds one request end to end. MaxFanout caps concurrent
	// subgraphs within a layer.
	Timeout   time.Duration
	MaxFanout int
}

// Response is the terminal result handed to the caller.
type Response struct {
	TraceID         string                              `json:"trace_id"`
	RequestID       string                              `json:"request_id"`
	Outcome         runtime.Outcome                     `json:"outcome"`
	Answer          agents.AggregatedResponse           `json:"answer"`
	Errors          []types.PipelineError               `json:"errors,omitempty"`
	SubgraphOutputs map[string]*pipeline.SubgraphOutput `json:"subgraph_outputs,omitempty"`
	// UnsupportedDatasourceIDs lists registered datasources the resolver
	// excluded for lacking SQL support.
	UnsupportedDatasourceIDs []string      `json:"unsupported_datasource_ids,omitempty"`
	Duration                 time.Duration `json:"duration"`
}

// Execute runs one natural-language request to completion under the global
// deadline. controller carries external cancellation; pass a fresh one per
// request.
func (o *Orchestrator) Execute(ctx context.Context, req types.Request, controller *runtime.Controller) *Response {
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}
	if req.RequestID == "" {
		req.RequestID = req.TraceID
	}
	ctx = observability.WithTraceID(ctx, req.TraceID)
	ctx = observability.WithTenantID(ctx, req.TenantID)

	st := newGraphState(req)
	start := time.Now()
	logging.Orchestrator("request %s: %q", req.TraceID, req.Query)
	if o.Auditor != nil {
		o.Auditor.Emit(runtime.EventPipelineStart, req.TraceID, req.TenantID, map[string]any{
			"query_length": len(req.Query),
			"roles":        req.User.Roles,
		})
	}

	waiter := runtime.NewWaiter(o.Timeout, controller)
	outcome, _ := waiter.Run(ctx, func(ctx context.Context) error {
		o.run(ctx, st, controller)
		return nil
	})

	switch outcome {
	case runtime.OutcomeTimeout:
		st.Apply(&Delta{Errors: []types.PipelineError{
			types.NewError("runtime", types.ErrPipelineTimeout, types.SeverityCritical,
				"the request exceeded the %s deadline", waiterTimeout(o.Timeout)),
		}})
	case runtime.OutcomeCancelled:
		st.Apply(&Delta{Errors: []types.PipelineError{
			types.NewError("runtime", types.ErrCancelled, types.SeverityCritical,
				"the request was cancelled"),
		}})
		if o.Auditor != nil {
			o.Auditor.Emit(runtime.EventCancellation, req.TraceID, req.TenantID, map[string]any{
				"reason": controller.Reason(),
			})
		}
	}

	answer := st.response()
	if answer == nil {
		answer = o.fallbackResponse(st, outcome)
	}

	duration := time.Since(start)
	observability.Metrics().ObserveNode("pipeline", "", duration)
	if o.Auditor != nil {
		o.Auditor.Emit(runtime.EventPipelineEnd, req.TraceID, req.TenantID, map[string]any{
			"outcome":     string(outcome),
			"error_count": len(st.snapshotErrors()),
			"duration_ms": duration.Milliseconds(),
		})
	}
	logging.Orchestrator("request %s finished: outcome=%s errors=%d in %s",
		req.TraceID, outcome, len(st.snapshotErrors()), duration.Round(time.Millisecond))

	return &Response{
		TraceID:                  req.TraceID,
		RequestID:                req.RequestID,
		Outcome:                  outcome,
		Answer:                   *answer,
		Errors:                   st.snapshotErrors(),
		SubgraphOutputs:          st.snapshotOutputs(),
		UnsupportedDatasourceIDs: st.snapshotUnsupported(),
		Duration:                 duration,
	}
}

// run executes the graph nodes in order, stopping at the first critical
// error. Partial sub-query failures do not stop aggregation.
func (o *Orchestrator) run(ctx context.Context, st *GraphState, controller *runtime.Controller) {
	nodes := []struct {
		name string
		fn   func(context.Context, *GraphState, *runtime.Controller) *Delta
	}{
		{"intent_validator", o.validateIntent},
		{"datasource_resolver", o.resolveDatasources},
		{"decomposer", o.decompose},
		{"global_planner", o.planDAG},
		{"layer_router", o.executeLayers},
		{"answer_synthesizer", o.synthesize},
	}
	for _, node := range nodes {
		if cancelErr, cancelled := controller.CheckPoint(node.name); cancelled {
			st.Apply(&Delta{Errors: []types.PipelineError{cancelErr}})
			return
		}
		nodeStart := time.Now()
		delta := node.fn(ctx, st, controller)
		observability.Metrics().ObserveNode(node.name, "", time.Since(nodeStart))
		st.Apply(delta)
		if st.hasCritical() {
			return
		}
	}
}

// =============================================================================
// NODE 1: INTENT VALIDATION
// =============================================================================

func (o *Orchestrator) validateIntent(ctx context.Context, st *GraphState, _ *runtime.Controller) *Delta {
	system, user := agents.IntentPrompt(st.Query)
	var result agents.IntentValidationResult
	if err := o.Caller.Call(ctx, agents.AgentIntentValidator, system, user, "", &result); err != nil {
		return &Delta{Errors: []types.PipelineError{types.AsPipelineError(agents.AgentIntentValidator, err)}}
	}
	if result.IsSafe {
		return &Delta{Intent: &result, Reasoning: []string{"intent: " + result.Reasoning}}
	}

	if o.Auditor != nil {
		o.Auditor.Emit(runtime.EventSecurityViolation, st.TraceID, st.TenantID, map[string]any{
			"violation_category": string(result.ViolationCategory),
		})
	}
	return &Delta{
		Intent: &result,
		Errors: []types.PipelineError{
			types.NewError(agents.AgentIntentValidator, types.ErrIntentViolation, types.SeverityCritical,
				"the request was classified as %s and will not be processed", result.ViolationCategory),
		},
		Response: &agents.AggregatedResponse{
			Summary:    "This request cannot be processed.",
			FormatType: agents.FormatText,
			Content:    "The question was flagged as unsafe and no data was accessed.",
		},
	}
}

// =============================================================================
// NODE 2: DATASOURCE RESOLUTION
// =============================================================================

// resolveDatasources narrows the registered datasources to scan candidates:
// SQL capability first, then the caller's role grants, then semantic
// retrieval when the index has datasource chunks. Registered datasources
// without SQL support are reported as unsupported and never planned against.
func (o *Orchestrator) resolveDatasources(ctx context.Context, st *GraphState, _ *runtime.Controller) *Delta {
	sqlCapable := o.Registry.Routable(types.CapSQL)
	capable := make(map[string]bool, len(sqlCapable))
	for _, id := range sqlCapable {
		capable[id] = true
	}
	var unsupported []string
	for _, id := range o.Registry.IDs() {
		if !capable[id] {
			unsupported = append(unsupported, id)
		}
	}
	if len(unsupported) > 0 {
		logging.Orchestrator("excluding %d datasource(s) without SQL support: %s",
			len(unsupported), strings.Join(unsupported, ", "))
	}

	allowed := o.Policy.FilterDatasources(st.User, sqlCapable)
	if len(allowed) == 0 {
		return &Delta{
			UnsupportedDatasources: unsupported,
			Errors: []types.PipelineError{
				types.NewError("datasource_resolver", types.ErrSecurityViolation, types.SeverityCritical,
					"no SQL-capable datasource is accessible with the provided roles"),
			},
		}
	}

	hitsAny, err := o.Breakers.Execute(runtime.BreakerRetrieval, func() (any, error) {
		return o.Index.RetrieveDatasourceCandidates(ctx, st.Query, len(allowed))
	})
	if err != nil {
		if pe, ok := err.(types.PipelineError); ok && pe.Code == types.ErrServiceUnavailable {
			logging.Orchestrator("datasource retrieval unavailable, using full grant set")
		}
		return &Delta{CandidateDatasources: allowed, UnsupportedDatasources: unsupported}
	}

	hits, _ := hitsAny.([]index.ScoredChunk)
	var candidates []string
	seen := make(map[string]bool)
	for _, h := range hits {
		if !seen[h.Chunk.DatasourceID] {
			seen[h.Chunk.DatasourceID] = true
			candidates = append(candidates, h.Chunk.DatasourceID)
		}
	}
	candidates = o.Policy.FilterDatasources(st.User, candidates)
	for i := 0; i < len(candidates); {
		if capable[candidates[i]] {
			i++
			continue
		}
		candidates = append(candidates[:i], candidates[i+1:]...)
	}
	if len(candidates) == 0 {
		candidates = allowed
	}
	return &Delta{CandidateDatasources: candidates, UnsupportedDatasources: unsupported}
}

// =============================================================================
// NODE 3: DECOMPOSITION
// =============================================================================

func (o *Orchestrator) decompose(ctx context.Context, st *GraphState, _ *runtime.Controller) *Delta {
	summaries := make([]agents.DatasourceSummary, 0, len(st.CandidateDatasources))
	for _, id := range st.CandidateDatasources {
		summaries = append(summaries, agents.DatasourceSummary{ID: id, Description: o.describeDatasource(ctx, id)})
	}

	system, user := agents.DecomposerPrompt(st.Query, summaries)
	var resp agents.DecomposerResponse
	if err := o.Caller.Call(ctx, agents.AgentDecomposer, system, user, "", &resp); err != nil {
		pe := types.AsPipelineError(agents.AgentDecomposer, err)
		pe.Severity = types.SeverityCritical
		return &Delta{Errors: []types.PipelineError{pe}}
	}

	// Sub-queries bound to datasources outside the grant set are demoted to
	// unanswerable parts rather than executed or silently dropped.
	allowed := make(map[string]bool, len(st.CandidateDatasources))
	for _, id := range st.CandidateDatasources {
		allowed[id] = true
	}
	filtered := resp.SubQueries[:0]
	for _, sq := range resp.SubQueries {
		if allowed[sq.DatasourceID] {
			filtered = append(filtered, sq)
			continue
		}
		resp.UnmappedSubQueries = append(resp.UnmappedSubQueries, agents.UnmappedSubQuery{
			Intent: sq.Intent,
			Reason: "no accessible datasource can answer this part",
		})
	}
	resp.SubQueries = filtered

	delta := &Delta{Decomposition: &resp}
	if resp.Reasoning != "" {
		delta.Reasoning = []string{"decomposition: " + resp.Reasoning}
	}
	if len(resp.SubQueries) == 0 {
		delta.Response = &agents.AggregatedResponse{
			Summary:    "No part of the question could be mapped to an accessible datasource.",
			FormatType: agents.FormatText,
			Content:    unmappedSummary(resp.UnmappedSubQueries),
		}
		delta.Errors = []types.PipelineError{
			types.NewError(agents.AgentDecomposer, types.ErrPlanningFailure, types.SeverityCritical,
				"no executable sub-queries were produced"),
		}
	}
	return delta
}

func (o *Orchestrator) describeDatasource(ctx context.Context, id string) string {
	var parts []string
	if a, ok := o.Registry.Get(id); ok {
		if eng, ok := a.Details()["engine"].(string); ok {
			parts = append(parts, eng+" datasource")
		}
	}
	if version, err := o.SchemaStore.GetLatestVersion(ctx, id); err == nil {
		if snap, err := o.SchemaStore.GetSnapshot(ctx, id, version); err == nil {
			if snap.Metadata.Description != "" {
				parts = append(parts, snap.Metadata.Description)
			}
			names := make([]string, 0, len(snap.Contract))
			for _, t := range snap.Contract {
				names = append(names, t.Name)
			}
			if len(names) > 12 {
				names = append(names[:12], "...")
			}
			parts = append(parts, "tables: "+strings.Join(names, ", "))
		}
	}
	if len(parts) == 0 {
		return "no schema registered"
	}
	return strings.Join(parts, "; ")
}

func unmappedSummary(unmapped []agents.UnmappedSubQuery) string {
	if len(unmapped) == 0 {
		return "The question does not reference any available data."
	}
	var sb strings.Builder
	sb.WriteString("The following parts could not be answered:\n")
	for _, u := range unmapped {
		fmt.Fprintf(&sb, "- %s (%s)\n", u.Intent, u.Reason)
	}
	return sb.String()
}

// =============================================================================
// NODE 4: GLOBAL PLANNING
// =============================================================================

// planDAG asks the global planner for the execution DAG and falls back to
// independent per-sub-query scans when the planned graph is unusable.
func (o *Orchestrator) planDAG(ctx context.Context, st *GraphState, _ *runtime.Controller) *Delta {
	system, user, err := agents.GlobalPlannerPrompt(st.Query, st.Decomposition)
	if err != nil {
		return &Delta{DAG: fallbackDAG(st.Decomposition.SubQueries), Errors: []types.PipelineError{
			types.NewError(agents.AgentGlobalPlanner, types.ErrPlanningFailure, types.SeverityWarning,
				"global planning prompt failed; executing sub-queries independently"),
		}}
	}

	var resp agents.GlobalPlanResponse
	callErr := o.Caller.Call(ctx, agents.AgentGlobalPlanner, system, user, "", &resp)
	if callErr == nil {
		callErr = validatePlannedDAG(&resp.DAG, st.Decomposition.SubQueries)
	}
	if callErr != nil {
		logging.Orchestrator("planned dag rejected (%v), falling back to independent scans", callErr)
		return &Delta{DAG: fallbackDAG(st.Decomposition.SubQueries), Errors: []types.PipelineError{
			types.NewError(agents.AgentGlobalPlanner, types.ErrPlanningFailure, types.SeverityWarning,
				"the combination plan was invalid; sub-query results are reported separately"),
		}}
	}

	delta := &Delta{DAG: &resp.DAG}
	if resp.Reasoning != "" {
		delta.Reasoning = []string{"global plan: " + resp.Reasoning}
	}
	return delta
}

// validatePlannedDAG checks structural validity plus scan coverage: every
// sub-query maps to exactly one scan node and no scan references an unknown
// sub-query.
func validatePlannedDAG(dag *types.ExecutionDAG, subQueries []types.SubQuery) error {
	if err := dag.Validate(); err != nil {
		return err
	}
	known := make(map[string]bool, len(subQueries))
	for _, sq := range subQueries {
		known[sq.ID] = true
	}
	scanned := make(map[string]bool)
	for _, scan := range dag.ScanNodes() {
		if !known[scan.SubQueryID] {
			return fmt.Errorf("scan node %q references unknown sub-query %q", scan.ID, scan.SubQueryID)
		}
		if scanned[scan.SubQueryID] {
			return fmt.Errorf("sub-query %q has more than one scan node", scan.SubQueryID)
		}
		scanned[scan.SubQueryID] = true
	}
	for id := range known {
		if !scanned[id] {
			return fmt.Errorf("sub-query %q has no scan node", id)
		}
	}
	return dag.ComputeLayers()
}

// fallbackDAG builds one scan node per sub-query with no combination.
func fallbackDAG(subQueries []types.SubQuery) *types.ExecutionDAG {
	dag := &types.ExecutionDAG{}
	for _, sq := range subQueries {
		schemaCols := sq.ExpectedColumns
		if len(schemaCols) == 0 {
			schemaCols = []string{"*"}
		}
		dag.Nodes = append(dag.Nodes, types.DAGNode{
			ID:           "scan_" + sq.ID,
			Kind:         types.NodeScan,
			OutputSchema: schemaCols,
			SubQueryID:   sq.ID,
		})
	}
	// A single-layer scan graph cannot fail layering.
	_ = dag.ComputeLayers()
	return dag
}

// =============================================================================
// NODE 5: LAYER-ROUTED EXECUTION
// =============================================================================

// executeLayers walks the DAG layer by layer: nodes within a layer run
// concurrently, layers run sequentially. A failed node marks its downstream
// consumers skipped instead of aborting the graph.
func (o *Orchestrator) executeLayers(ctx context.Context, st *GraphState, controller *runtime.Controller) *Delta {
	dag := st.DAG
	subQueries := make(map[string]types.SubQuery, len(st.Decomposition.SubQueries))
	for _, sq := range st.Decomposition.SubQueries {
		subQueries[sq.ID] = sq
	}

	fanout := o.MaxFanout
	if fanout <= 0 {
		fanout = 4
	}

	for li, layer := range dag.Layers {
		if cancelErr, cancelled := controller.CheckPoint("layer_router"); cancelled {
			return &Delta{Errors: []types.PipelineError{cancelErr}}
		}
		logging.Pipeline("layer %d: %d node(s)", li, len(layer))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(fanout)
		for _, nodeID := range layer {
			node, ok := dag.Node(nodeID)
			if !ok {
				continue
			}
			g.Go(func() error {
				if node.Kind == types.NodeScan {
					st.Apply(o.runScan(gctx, st, controller, node, subQueries))
				} else {
					st.Apply(o.runOperator(gctx, st, node))
				}
				return nil
			})
		}
		// Workers never return errors; failures land in state.
		_ = g.Wait()
	}
	return nil
}

// runScan drives one sub-query through the sub-pipeline and materializes its
// artifact into an in-memory frame for downstream operators.
func (o *Orchestrator) runScan(ctx context.Context, st *GraphState, controller *runtime.Controller, node *types.DAGNode, subQueries map[string]types.SubQuery) *Delta {
	sq, ok := subQueries[node.SubQueryID]
	if !ok {
		return &Delta{Skipped: map[string]string{node.ID: "unknown sub-query"}}
	}

	out := o.Pipeline.Run(ctx, pipeline.Request{
		SubQuery:     sq,
		TenantID:     st.TenantID,
		RequestID:    st.RequestID,
		TraceID:      st.TraceID,
		User:         st.User,
		SubgraphName: "sg_" + sq.ID,
		DAGNodeID:    node.ID,
		Controller:   controller,
	})

	delta := &Delta{
		SubgraphOutputs: map[string]*pipeline.SubgraphOutput{node.ID: out},
		Errors:          out.Errors,
	}
	if out.Status != pipeline.StateExecuted || out.Artifact == nil {
		delta.Skipped = map[string]string{node.ID: "sub-query " + sq.ID + " failed"}
		return delta
	}

	delta.ArtifactRefs = map[string]*types.ArtifactRef{node.ID: out.Artifact}
	frame, err := o.Artifacts.ReadResultFrame(ctx, out.Artifact)
	if err != nil {
		delta.Skipped = map[string]string{node.ID: "result artifact could not be read"}
		delta.Errors = append(delta.Errors, types.NewError("layer_router", types.ErrAggregatorFailed,
			types.SeverityError, "failed to load the result of sub-query %s", sq.ID).WithSubQuery(sq.ID))
		return delta
	}
	delta.Frames = map[string]*types.ResultFrame{node.ID: frame}
	return delta
}

// runOperator evaluates one deterministic combine/post-combine node over its
// input frames. Terminal operator outputs are persisted back to the artifact
// store so the final relations are addressable like scan results.
func (o *Orchestrator) runOperator(ctx context.Context, st *GraphState, node *types.DAGNode) *Delta {
	inputs := make([]*types.ResultFrame, 0, len(node.Inputs))
	for _, in := range node.Inputs {
		if reason, skipped := st.skipReason(in.ID); skipped {
			return &Delta{
				Skipped: map[string]string{node.ID: "input " + in.ID + " was skipped (" + reason + ")"},
				Errors: []types.PipelineError{
					types.NewError("layer_router", types.ErrAggregatorFailed, types.SeverityWarning,
						"step %s was skipped because an input failed", node.ID),
				},
			}
		}
		frame, ok := st.frame(in.ID)
		if !ok {
			return &Delta{Skipped: map[string]string{node.ID: "input " + in.ID + " produced no result"}}
		}
		inputs = append(inputs, frame)
	}

	frame, err := engine.Apply(node, inputs)
	if err != nil {
		return &Delta{
			Skipped: map[string]string{node.ID: "operator failed"},
			Errors: []types.PipelineError{
				types.NewError("layer_router", types.ErrAggregatorFailed, types.SeverityError,
					"the %s step could not combine its inputs", node.Kind).WithDetail("node_id", node.ID),
			},
		}
	}
	delta := &Delta{Frames: map[string]*types.ResultFrame{node.ID: frame}}
	if isTerminal(st.DAG, node.ID) {
		ref, err := o.Artifacts.WriteResultFrame(ctx, frame, types.ArtifactKey{
			TenantID:     st.TenantID,
			RequestID:    st.RequestID,
			SubgraphName: "combined",
			DAGNodeID:    node.ID,
		})
		if err != nil {
			logging.Orchestrator("could not persist combined result %s: %v", node.ID, err)
		} else {
			delta.ArtifactRefs = map[string]*types.ArtifactRef{node.ID: ref}
		}
	}
	return delta
}

// isTerminal reports whether no other DAG node consumes the given node.
func isTerminal(dag *types.ExecutionDAG, nodeID string) bool {
	for i := range dag.Nodes {
		for _, in := range dag.Nodes[i].Inputs {
			if in.ID == nodeID {
				return false
			}
		}
	}
	return true
}

// =============================================================================
// NODES 6-7: AGGREGATION & SYNTHESIS
// =============================================================================

// synthesize gathers the terminal relations and asks the answer synthesizer
// for the final response. Synthesis failure still yields a deterministic
// response.
func (o *Orchestrator) synthesize(ctx context.Context, st *GraphState, _ *runtime.Controller) *Delta {
	results := o.terminalResults(st)

	var unmapped []agents.UnmappedSubQuery
	if st.Decomposition != nil {
		unmapped = st.Decomposition.UnmappedSubQueries
	}
	system, user, err := agents.SynthesizerPrompt(st.Query, results, unmapped, st.snapshotErrors())
	if err == nil {
		var resp agents.AggregatedResponse
		if callErr := o.Caller.Call(ctx, agents.AgentAnswerSynthesizer, system, user, "", &resp); callErr == nil {
			resp.Warnings = append(resp.Warnings, skippedWarnings(results)...)
			return &Delta{Response: &resp}
		}
	}

	return &Delta{
		Response: deterministicResponse(results, unmapped, st.snapshotErrors()),
		Errors: []types.PipelineError{
			types.NewError(agents.AgentAnswerSynthesizer, types.ErrAggregatorFailed, types.SeverityWarning,
				"answer synthesis failed; returning raw results"),
		},
	}
}

func (o *Orchestrator) terminalResults(st *GraphState) []agents.TerminalResult {
	var results []agents.TerminalResult
	for _, node := range st.DAG.TerminalNodes() {
		tr := agents.TerminalResult{NodeID: node.ID}
		if reason, skipped := st.skipReason(node.ID); skipped {
			tr.Skipped = true
			tr.Reason = reason
		} else if frame, ok := st.frame(node.ID); ok {
			for _, c := range frame.Columns {
				tr.Columns = append(tr.Columns, c.Name)
			}
			tr.Rows = frame.Rows
		} else {
			tr.Skipped = true
			tr.Reason = "no result produced"
		}
		results = append(results, tr)
	}
	return results
}

func skippedWarnings(results []agents.TerminalResult) []string {
	var warnings []string
	for _, r := range results {
		if r.Skipped {
			warnings = append(warnings, fmt.Sprintf("part %s was not included: %s", r.NodeID, r.Reason))
		}
	}
	return warnings
}

// deterministicResponse builds the no-LLM answer used when synthesis is
// unavailable: tabular content straight from the terminal frames.
func deterministicResponse(results []agents.TerminalResult, unmapped []agents.UnmappedSubQuery, errs []types.PipelineError) *agents.AggregatedResponse {
	var produced []agents.TerminalResult
	for _, r := range results {
		if !r.Skipped {
			produced = append(produced, r)
		}
	}
	resp := &agents.AggregatedResponse{
		FormatType: agents.FormatTable,
		Content:    produced,
		Warnings:   skippedWarnings(results),
	}
	for _, u := range unmapped {
		resp.Warnings = append(resp.Warnings, "unanswered: "+u.Intent+" ("+u.Reason+")")
	}
	switch {
	case len(produced) > 0:
		resp.Summary = fmt.Sprintf("%d result set(s) were produced.", len(produced))
	default:
		resp.FormatType = agents.FormatText
		resp.Summary = "No results could be produced."
		var lines []string
		for _, e := range errs {
			if e.Severity != types.SeverityWarning {
				lines = append(lines, fmt.Sprintf("[%s] %s", e.Code, e.Message))
			}
		}
		resp.Content = strings.Join(lines, "\n")
	}
	return resp
}

// fallbackResponse covers termination before the synthesizer ran: timeout,
// cancellation, or a critical error in an early node.
func (o *Orchestrator) fallbackResponse(st *GraphState, outcome runtime.Outcome) *agents.AggregatedResponse {
	var unmapped []agents.UnmappedSubQuery
	var results []agents.TerminalResult
	if st.Decomposition != nil {
		unmapped = st.Decomposition.UnmappedSubQueries
	}
	if st.DAG != nil {
		results = o.terminalResults(st)
	}
	resp := deterministicResponse(results, unmapped, st.snapshotErrors())
	switch outcome {
	case runtime.OutcomeTimeout:
		resp.Summary = "The request timed out. " + resp.Summary
	case runtime.OutcomeCancelled:
		resp.Summary = "The request was cancelled. " + resp.Summary
	}
	return resp
}

// =============================================================================
// INDEXING FLOW
// =============================================================================

// IndexDatasource introspects one datasource on the indexing pool, registers
// the snapshot, and refreshes the retrieval index. Returns the registered
// schema version.
func (o *Orchestrator) IndexDatasource(ctx context.Context, datasourceID string, examples []string) (string, error) {
	res := o.Sandbox.SubmitIndexing(ctx, &sandbox.ExecutionRequest{
		Mode:         sandbox.ModeIntrospect,
		DatasourceID: datasourceID,
		TraceID:      observability.TraceID(ctx),
	})
	snapAny, ok := adapter.SnapshotFromResult(res)
	if !ok {
		if res != nil && res.Error != "" {
			return "", fmt.Errorf("introspection of %s failed: %s", datasourceID, res.Error)
		}
		return "", fmt.Errorf("introspection of %s produced no snapshot", datasourceID)
	}
	snap, ok := snapAny.(*schema.Snapshot)
	if !ok {
		return "", fmt.Errorf("introspection of %s returned an unexpected payload", datasourceID)
	}

	version, evicted, err := o.SchemaStore.RegisterSnapshot(ctx, snap)
	if err != nil {
		return "", fmt.Errorf("registering snapshot for %s: %w", datasourceID, err)
	}

	chunks := index.BuildChunks(snap, version, examples)
	_, err = o.Breakers.Execute(runtime.BreakerRetrieval, func() (any, error) {
		return nil, o.Index.RefreshSchemaChunks(ctx, datasourceID, version, chunks, evicted)
	})
	if err != nil {
		return "", fmt.Errorf("refreshing index for %s: %w", datasourceID, err)
	}
	logging.Orchestrator("indexed %s at schema version %s (%d chunks, %d evicted)",
		datasourceID, version, len(chunks), len(evicted))
	return version, nil
}

func waiterTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 60 * time.Second
	}
	return d
}
