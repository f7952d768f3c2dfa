// Package agents holds the typed contracts for every LLM-backed node and the
// structured-output wrapper that enforces them. No raw model text ever
// leaves this package: every response is parsed into its contract or
// converted into an error record.
package agents

import (
	"queryloom/internal/plan"
	"queryloom/internal/types"
)

// Agent names, used for metrics and audit records.
const (
	AgentIntentValidator   = "intent_validator"
	AgentDecomposer        = "decomposer"
	AgentGlobalPlanner     = "global_planner"
	AgentASTPlanner        = "ast_planner"
	AgentRefiner           = "refiner"
	AgentAnswerSynthesizer = "answer_synthesizer"
)

// ViolationCategory classifies an unsafe query.
type ViolationCategory string

const (
	ViolationJailbreak       ViolationCategory = "jailbreak"
	ViolationPIIExfiltration ViolationCategory = "pii_exfiltration"
	ViolationDestructive     ViolationCategory = "destructive"
	ViolationSystemProbing   ViolationCategory = "system_probing"
)

// IntentValidationResult is the intent validator's contract.
type IntentValidationResult struct {
	IsSafe            bool              `json:"is_safe"`
	ViolationCategory ViolationCategory `json:"violation_category,omitempty"`
	Reasoning         string            `json:"reasoning"`
}

// UnmappedSubQuery is a decomposed sub-query that could not be bound to an
// allowed datasource. Not an error: it surfaces in the final answer.
type UnmappedSubQuery struct {
	Intent string `json:"intent"`
	Reason string `json:"reason"`
}

// CombineGroupHint is the decomposer's sketch of how sub-query results
// relate; the global planner turns hints into DAG nodes.
type CombineGroupHint struct {
	ID          string            `json:"id"`
	Mode        types.CombineMode `json:"mode"`
	SubQueryIDs []string          `json:"sub_query_ids"`
	JoinType    types.JoinType    `json:"join_type,omitempty"`
	LeftKey     string            `json:"left_key,omitempty"`
	RightKey    string            `json:"right_key,omitempty"`
}

// PostCombineHint sketches a post-combine operator.
type PostCombineHint struct {
	ID   string         `json:"id"`
	Kind types.NodeKind `json:"kind"`
	Spec map[string]any `json:"spec,omitempty"`
}

// DecomposerResponse is the decomposer's contract.
type DecomposerResponse struct {
	SubQueries         []types.SubQuery   `json:"sub_queries"`
	CombineGroups      []CombineGroupHint `json:"combine_groups,omitempty"`
	PostCombineOps     []PostCombineHint  `json:"post_combine_ops,omitempty"`
	UnmappedSubQueries []UnmappedSubQuery `json:"unmapped_subqueries,omitempty"`
	Reasoning          string             `json:"reasoning,omitempty"`
}

// GlobalPlanResponse is the global planner's contract: the full execution
// DAG over scans and combine/post-combine operators.
type GlobalPlanResponse struct {
	DAG       types.ExecutionDAG `json:"dag"`
	Reasoning string             `json:"reasoning,omitempty"`
}

// PlanResponse is the AST planner's contract for one sub-query.
type PlanResponse struct {
	Plan      plan.Plan `json:"plan"`
	Reasoning string    `json:"reasoning,omitempty"`
}

// RefinerResponse is the refiner's contract: a feedback packet handed back
// to the planner on the next attempt.
type RefinerResponse struct {
	Feedback    string   `json:"feedback"`
	Corrections []string `json:"corrections,omitempty"`
}

// FormatType shapes the synthesized answer.
type FormatType string

const (
	FormatTable FormatType = "table"
	FormatList  FormatType = "list"
	FormatText  FormatType = "text"
)

// AggregatedResponse is the answer synthesizer's contract. It is always
// produced, even when every input failed.
type AggregatedResponse struct {
	Summary    string     `json:"summary"`
	FormatType FormatType `json:"format_type"`
	Content    any        `json:"content"`
	Warnings   []string   `json:"warnings,omitempty"`
}
