// Package policy resolves role-based access: which datasources a caller may
// touch and which datasource.table patterns their plans may reference.
package policy

import (
	"sort"
	"strings"

	"queryloom/internal/config"
	"queryloom/internal/logging"
	"queryloom/internal/types"
)

// Engine answers allow-questions from the configured role map. Roles are
// additive: a caller holding several roles gets the union of their grants.
type Engine struct {
	roles    map[string]config.RoleConfig
	mismatch config.MismatchPolicy
}

// NewEngine builds the policy engine. The role map is assumed validated by
// config.Load (namespaced table patterns).
func NewEngine(roles map[string]config.RoleConfig, mismatch config.MismatchPolicy) *Engine {
	if mismatch == "" {
		mismatch = config.MismatchWarn
	}
	return &Engine{roles: roles, mismatch: mismatch}
}

// GetAllowedDatasources returns the sorted union of datasources granted by
// the caller's roles. A "*" entry grants every datasource.
func (e *Engine) GetAllowedDatasources(user types.UserContext) []string {
	set := make(map[string]bool)
	for _, roleID := range user.Roles {
		role, ok := e.roles[roleID]
		if !ok {
			logging.Get(logging.CategoryPolicy).Warnf("unknown role %q on request", roleID)
			continue
		}
		for _, ds := range role.AllowedDatasources {
			set[ds] = true
		}
	}
	out := make([]string, 0, len(set))
	for ds := range set {
		out = append(out, ds)
	}
	sort.Strings(out)
	return out
}

// DatasourceAllowed reports whether the caller may touch a datasource.
func (e *Engine) DatasourceAllowed(user types.UserContext, datasourceID string) bool {
	for _, ds := range e.GetAllowedDatasources(user) {
		if ds == "*" || ds == datasourceID {
			return true
		}
	}
	return false
}

// GetAllowedTables returns the sorted union of table patterns granted by the
// caller's roles. Patterns are `*`, `ds.*` or `ds.table`.
func (e *Engine) GetAllowedTables(user types.UserContext) []string {
	set := make(map[string]bool)
	for _, roleID := range user.Roles {
		role, ok := e.roles[roleID]
		if !ok {
			continue
		}
		for _, p := range role.AllowedTables {
			set[p] = true
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// TableAllowed reports whether `datasourceID.table` is covered by any of the
// caller's patterns. Matching is case-insensitive on the table part.
func (e *Engine) TableAllowed(user types.UserContext, datasourceID, table string) bool {
	for _, pattern := range e.GetAllowedTables(user) {
		if matchTablePattern(pattern, datasourceID, table) {
			return true
		}
	}
	return false
}

// FilterDatasources prunes candidate datasources to the caller's allowed set.
func (e *Engine) FilterDatasources(user types.UserContext, candidates []string) []string {
	var out []string
	for _, c := range candidates {
		if e.DatasourceAllowed(user, c) {
			out = append(out, c)
		}
	}
	return out
}

func matchTablePattern(pattern, datasourceID, table string) bool {
	if pattern == "*" {
		return true
	}
	idx := strings.Index(pattern, ".")
	if idx < 0 {
		return false
	}
	ds, tbl := pattern[:idx], pattern[idx+1:]
	if ds != datasourceID {
		return false
	}
	return tbl == "*" || strings.EqualFold(tbl, table)
}

// =============================================================================
// SCHEMA VERSION MISMATCH
// =============================================================================

// MismatchDecision says how a stale retrieval hit is handled.
type MismatchDecision struct {
	// Drop means the candidate is discarded.
	Drop bool
	// Warning, when non-nil, is attached to the shared state.
	Warning *types.PipelineError
}

// CheckSchemaVersion applies the configured mismatch policy to a retrieved
// chunk's version against the datasource's current version.
func (e *Engine) CheckSchemaVersion(datasourceID, chunkVersion, currentVersion string) MismatchDecision {
	if chunkVersion == currentVersion {
		return MismatchDecision{}
	}
	switch e.mismatch {
	case config.MismatchIgnore:
		return MismatchDecision{}
	case config.MismatchFail:
		err := types.NewError("policy", types.ErrSchemaRetrieval, types.SeverityError,
			"retrieved schema context is stale for datasource %s", datasourceID).
			WithDatasource(datasourceID).
			WithDetail("chunk_version", chunkVersion).
			WithDetail("current_version", currentVersion)
		return MismatchDecision{Drop: true, Warning: &err}
	default: // warn
		warn := types.NewError("policy", types.ErrSchemaRetrieval, types.SeverityWarning,
			"retrieved schema context is stale for datasource %s", datasourceID).
			WithDatasource(datasourceID).
			WithDetail("chunk_version", chunkVersion).
			WithDetail("current_version", currentVersion)
		return MismatchDecision{Warning: &warn}
	}
}
