package orchestrator

import (
	"sync"

	"queryloom/internal/agents"
	"queryloom/internal/pipeline"
	"queryloom/internal/types"
)

// GraphState is the shared state threaded through the top-level graph. Nodes
// never mutate it directly: they return a Delta and the orchestrator merges
// it, so concurrent subgraphs cannot trample each other.
type GraphState struct {
	mu sync.Mutex

	TraceID   string
	RequestID string
	TenantID  string
	Query     string
	User      types.UserContext

	Intent               *agents.IntentValidationResult
	CandidateDatasources []string
	// UnsupportedDatasources lists registered datasources excluded from scan
	// planning because they carry no SQL capability.
	UnsupportedDatasources []string
	Decomposition          *agents.DecomposerResponse
	DAG                    *types.ExecutionDAG

	// ArtifactRefs and Frames are keyed by DAG node id. Skipped maps a node
	// id to the reason it was not evaluated.
	ArtifactRefs    map[string]*types.ArtifactRef
	Frames          map[string]*types.ResultFrame
	Skipped         map[string]string
	SubgraphOutputs map[string]*pipeline.SubgraphOutput

	Errors    []types.PipelineError
	Reasoning []string

	Response *agents.AggregatedResponse
}

func newGraphState(req types.Request) *GraphState {
	return &GraphState{
		TraceID:         req.TraceID,
		RequestID:       req.RequestID,
		TenantID:        req.TenantID,
		Query:           req.Query,
		User:            req.User,
		ArtifactRefs:    make(map[string]*types.ArtifactRef),
		Frames:          make(map[string]*types.ResultFrame),
		Skipped:         make(map[string]string),
		SubgraphOutputs: make(map[string]*pipeline.SubgraphOutput),
	}
}

// Delta is one node's contribution to the shared state. Merging appends the
// list fields, unions the map fields, and last-writes the scalar fields.
type Delta struct {
	Intent                 *agents.IntentValidationResult
	CandidateDatasources   []string
	UnsupportedDatasources []string
	Decomposition          *agents.DecomposerResponse
	DAG                    *types.ExecutionDAG

	ArtifactRefs    map[string]*types.ArtifactRef
	Frames          map[string]*types.ResultFrame
	Skipped         map[string]string
	SubgraphOutputs map[string]*pipeline.SubgraphOutput

	Errors    []types.PipelineError
	Reasoning []string

	Response *agents.AggregatedResponse
}

// Apply merges the delta into the state.
func (st *GraphState) Apply(d *Delta) {
	if d == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if d.Intent != nil {
		st.Intent = d.Intent
	}
	if d.CandidateDatasources != nil {
		st.CandidateDatasources = d.CandidateDatasources
	}
	if d.UnsupportedDatasources != nil {
		st.UnsupportedDatasources = d.UnsupportedDatasources
	}
	if d.Decomposition != nil {
		st.Decomposition = d.Decomposition
	}
	if d.DAG != nil {
		st.DAG = d.DAG
	}
	for k, v := range d.ArtifactRefs {
		st.ArtifactRefs[k] = v
	}
	for k, v := range d.Frames {
		st.Frames[k] = v
	}
	for k, v := range d.Skipped {
		st.Skipped[k] = v
	}
	for k, v := range d.SubgraphOutputs {
		st.SubgraphOutputs[k] = v
	}
	st.Errors = append(st.Errors, d.Errors...)
	st.Reasoning = append(st.Reasoning, d.Reasoning...)
	if d.Response != nil {
		st.Response = d.Response
	}
}

// snapshotErrors copies the accumulated errors for read-side consumers.
func (st *GraphState) snapshotErrors() []types.PipelineError {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]types.PipelineError, len(st.Errors))
	copy(out, st.Errors)
	return out
}

// hasCritical reports whether any accumulated error terminates the pipeline.
func (st *GraphState) hasCritical() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return types.HasCritical(st.Errors)
}

// frame fetches an evaluated frame under the lock.
func (st *GraphState) frame(nodeID string) (*types.ResultFrame, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	f, ok := st.Frames[nodeID]
	return f, ok
}

// response reads the synthesized answer under the lock.
func (st *GraphState) response() *agents.AggregatedResponse {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.Response
}

// snapshotUnsupported copies the excluded datasource ids for the response.
func (st *GraphState) snapshotUnsupported() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]string, len(st.UnsupportedDatasources))
	copy(out, st.UnsupportedDatasources)
	return out
}

// snapshotOutputs copies the subgraph outputs for the terminal response.
func (st *GraphState) snapshotOutputs() map[string]*pipeline.SubgraphOutput {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[string]*pipeline.SubgraphOutput, len(st.SubgraphOutputs))
	for k, v := range st.SubgraphOutputs {
		out[k] = v
	}
	return out
}

// skipReason fetches a skip marker under the lock.
func (st *GraphState) skipReason(nodeID string) (string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	r, ok := st.Skipped[nodeID]
	return r, ok
}
