package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryloom/internal/adapter"
	"queryloom/internal/agents"
	"queryloom/internal/config"
	"queryloom/internal/index"
	"queryloom/internal/policy"
	"queryloom/internal/runtime"
	"queryloom/internal/secrets"
	"queryloom/internal/types"
)

func twoSubQueries() []types.SubQuery {
	return []types.SubQuery{
		{ID: "sq1", DatasourceID: "sales", Intent: "revenue by region", ExpectedColumns: []string{"region", "revenue"}},
		{ID: "sq2", DatasourceID: "marketing", Intent: "spend by region"},
	}
}

func plannedDAG() types.ExecutionDAG {
	return types.ExecutionDAG{Nodes: []types.DAGNode{
		{ID: "scan_sq1", Kind: types.NodeScan, SubQueryID: "sq1", OutputSchema: []string{"region", "revenue"}},
		{ID: "scan_sq2", Kind: types.NodeScan, SubQueryID: "sq2", OutputSchema: []string{"region", "spend"}},
		{ID: "join_1", Kind: types.NodeCombine, OutputSchema: []string{"region", "revenue", "spend"},
			Inputs: []types.NodeInput{
				{Source: types.InputScan, ID: "scan_sq1"},
				{Source: types.InputScan, ID: "scan_sq2"},
			},
			Combine: &types.CombineSpec{Mode: types.CombineJoin, JoinType: types.JoinInner, LeftKey: "region", RightKey: "region"}},
	}}
}

func TestValidatePlannedDAGAccepts(t *testing.T) {
	dag := plannedDAG()
	require.NoError(t, validatePlannedDAG(&dag, twoSubQueries()))
	// Layers were computed as a side effect.
	assert.NotEmpty(t, dag.Layers)
}

func TestValidatePlannedDAGRejectsMissingScan(t *testing.T) {
	dag := plannedDAG()
	dag.Nodes = dag.Nodes[:1]
	assert.Error(t, validatePlannedDAG(&dag, twoSubQueries()))
}

func TestValidatePlannedDAGRejectsUnknownSubQuery(t *testing.T) {
	dag := plannedDAG()
	dag.Nodes[1].SubQueryID = "ghost"
	assert.Error(t, validatePlannedDAG(&dag, twoSubQueries()))
}

func TestValidatePlannedDAGRejectsDuplicateScan(t *testing.T) {
	dag := plannedDAG()
	dag.Nodes[1].SubQueryID = "sq1"
	assert.Error(t, validatePlannedDAG(&dag, twoSubQueries()))
}

func TestFallbackDAGOneScanPerSubQuery(t *testing.T) {
	dag := fallbackDAG(twoSubQueries())
	require.Len(t, dag.Nodes, 2)
	assert.Equal(t, "scan_sq1", dag.Nodes[0].ID)
	assert.Equal(t, []string{"region", "revenue"}, dag.Nodes[0].OutputSchema)
	// Missing expected columns degrade to a wildcard schema.
	assert.Equal(t, []string{"*"}, dag.Nodes[1].OutputSchema)
	require.Len(t, dag.Layers, 1)
	assert.ElementsMatch(t, []string{"scan_sq1", "scan_sq2"}, dag.Layers[0])

	require.NoError(t, validatePlannedDAG(dag, twoSubQueries()))
}

// flatEmbedder returns a constant vector so retrieval is deterministic and
// never ranks anything above anything else.
type flatEmbedder struct{}

func (flatEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (flatEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (flatEmbedder) Dimensions() int { return 2 }
func (flatEmbedder) Name() string    { return "flat" }

func mixedRegistry(t *testing.T) *adapter.Registry {
	t.Helper()
	registry, err := adapter.NewRegistry(context.Background(), []config.DatasourceConfig{
		{ID: "sales", Connection: map[string]any{"type": "sqlite", "path": ":memory:"}},
		{ID: "api_only", Connection: map[string]any{"type": "rest", "base_url": "http://127.0.0.1:1"}},
	}, secrets.NewResolver())
	require.NoError(t, err)
	return registry
}

func resolverOrchestrator(t *testing.T, roles map[string]config.RoleConfig) *Orchestrator {
	t.Helper()
	return &Orchestrator{
		Registry: mixedRegistry(t),
		Policy:   policy.NewEngine(roles, config.MismatchWarn),
		Index:    index.New(flatEmbedder{}, index.DefaultOptions()),
		Breakers: runtime.NewBreakers(config.BreakerConfig{FailMax: 5, ResetTimeout: time.Second}, nil),
	}
}

func TestResolveDatasourcesExcludesNonSQL(t *testing.T) {
	o := resolverOrchestrator(t, map[string]config.RoleConfig{
		"analyst": {AllowedDatasources: []string{"sales", "api_only"}, AllowedTables: []string{"*"}},
	})

	st := newGraphState(types.Request{Query: "total revenue", User: types.UserContext{Roles: []string{"analyst"}}})
	delta := o.resolveDatasources(context.Background(), st, nil)
	require.NotNil(t, delta)
	require.Empty(t, delta.Errors)
	// The REST datasource is granted but cannot serve scans.
	assert.Equal(t, []string{"sales"}, delta.CandidateDatasources)
	assert.Equal(t, []string{"api_only"}, delta.UnsupportedDatasources)

	st.Apply(delta)
	assert.Equal(t, []string{"api_only"}, st.snapshotUnsupported())
}

func TestResolveDatasourcesOnlyNonSQLGrantFails(t *testing.T) {
	o := resolverOrchestrator(t, map[string]config.RoleConfig{
		"api_user": {AllowedDatasources: []string{"api_only"}, AllowedTables: []string{"*"}},
	})

	st := newGraphState(types.Request{Query: "total revenue", User: types.UserContext{Roles: []string{"api_user"}}})
	delta := o.resolveDatasources(context.Background(), st, nil)
	require.NotNil(t, delta)
	assert.Empty(t, delta.CandidateDatasources)
	assert.Equal(t, []string{"api_only"}, delta.UnsupportedDatasources)
	require.Len(t, delta.Errors, 1)
	assert.Equal(t, types.ErrSecurityViolation, delta.Errors[0].Code)
	assert.Equal(t, types.SeverityCritical, delta.Errors[0].Severity)
}

func TestDeterministicResponseWithResults(t *testing.T) {
	results := []agents.TerminalResult{
		{NodeID: "join_1", Columns: []string{"region", "revenue"}, Rows: [][]any{{"EU", 10.0}}},
		{NodeID: "scan_sq2", Skipped: true, Reason: "upstream scan failed"},
	}
	unmapped := []agents.UnmappedSubQuery{{Intent: "forecast next year", Reason: "no accessible datasource can answer this part"}}

	resp := deterministicResponse(results, unmapped, nil)
	assert.Equal(t, agents.FormatTable, resp.FormatType)
	assert.Equal(t, "1 result set(s) were produced.", resp.Summary)

	produced := resp.Content.([]agents.TerminalResult)
	require.Len(t, produced, 1)
	assert.Equal(t, "join_1", produced[0].NodeID)

	require.Len(t, resp.Warnings, 2)
	assert.Contains(t, resp.Warnings[0], "scan_sq2")
	assert.Contains(t, resp.Warnings[0], "upstream scan failed")
	assert.Contains(t, resp.Warnings[1], "forecast next year")
}

func TestDeterministicResponseAllFailed(t *testing.T) {
	errs := []types.PipelineError{
		types.NewError("executor", types.ErrExecutionError, types.SeverityError, "query failed"),
		types.NewError("validator", types.ErrPerformanceWarning, types.SeverityWarning, "large scan"),
	}
	resp := deterministicResponse(nil, nil, errs)
	assert.Equal(t, agents.FormatText, resp.FormatType)
	assert.Equal(t, "No results could be produced.", resp.Summary)
	// Warnings stay out of the failure listing.
	assert.Equal(t, "[EXECUTION_ERROR] query failed", resp.Content)
}

func TestUnmappedSummary(t *testing.T) {
	assert.Equal(t, "The question does not reference any available data.", unmappedSummary(nil))

	got := unmappedSummary([]agents.UnmappedSubQuery{
		{Intent: "weather tomorrow", Reason: "no accessible datasource can answer this part"},
	})
	assert.Contains(t, got, "weather tomorrow")
	assert.Contains(t, got, "no accessible datasource")
}

func TestSkippedWarnings(t *testing.T) {
	assert.Empty(t, skippedWarnings([]agents.TerminalResult{{NodeID: "a"}}))
	got := skippedWarnings([]agents.TerminalResult{
		{NodeID: "a"},
		{NodeID: "b", Skipped: true, Reason: "circuit open"},
	})
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "b")
	assert.Contains(t, got[0], "circuit open")
}
