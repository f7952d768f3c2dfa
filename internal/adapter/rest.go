package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"queryloom/internal/config"
	"queryloom/internal/schema"
	"queryloom/internal/types"
)

func init() {
	RegisterConstructor("rest", NewRESTAdapter)
}

// RESTAdapter serves JSON APIs that expose tabular endpoints. It carries no
// SQL capability, so scans never route to it; it exists for plan_type=rest
// fetches and lake-style side inputs.
type RESTAdapter struct {
	id       string
	baseURL  string
	apiKey   string
	opts     config.DatasourceOptions
	client   *http.Client
	verified bool
}

// NewRESTAdapter is the "rest" engine constructor. Connection args:
// base_url, optional api_key.
func NewRESTAdapter(id string, args map[string]any, opts config.DatasourceOptions) (Adapter, error) {
	baseURL, ok := connValue(args, "base_url")
	if !ok || baseURL == "" {
		return nil, fmt.Errorf("rest connection requires a base_url")
	}
	apiKey, _ := connValue(args, "api_key")
	return &RESTAdapter{
		id:      id,
		baseURL: baseURL,
		apiKey:  apiKey,
		opts:    opts,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (a *RESTAdapter) ID() string { return a.id }

func (a *RESTAdapter) Capabilities() types.CapabilitySet {
	return types.NewCapabilitySet(types.CapREST)
}

func (a *RESTAdapter) Dialect() string { return "rest" }

func (a *RESTAdapter) Connect(ctx context.Context) error {
	a.verified = a.TestConnection(ctx)
	return nil
}

func (a *RESTAdapter) TestConnection(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.baseURL, nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

func (a *RESTAdapter) Details() map[string]any {
	return map[string]any{
		"engine":   "rest",
		"base_url": a.baseURL,
		"dialect":  a.Dialect(),
	}
}

// FetchSchemaSnapshot is unsupported: REST endpoints carry no introspectable
// contract.
func (a *RESTAdapter) FetchSchemaSnapshot(context.Context) (*schema.Snapshot, error) {
	return nil, fmt.Errorf("rest adapter %s does not support schema introspection", a.id)
}

// Execute fetches one endpoint returning a JSON array of flat objects and
// shapes it into a frame. Object keys become columns, sorted for determinism.
func (a *RESTAdapter) Execute(ctx context.Context, req types.AdapterRequest) *types.ResultFrame {
	if req.PlanType != types.PlanTypeREST {
		return errorFrame(types.ErrCapabilityViolation, a.id,
			fmt.Sprintf("adapter accepts plan_type=rest, got %q", req.PlanType), false)
	}
	path, _ := req.Payload["path"].(string)
	if path == "" {
		return errorFrame(types.ErrMissingSQL, a.id, "request payload carries no path", false)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return errorFrame(types.ErrExecutionError, a.id, fmt.Sprintf("building request: %v", err), false)
	}
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return errorFrame(types.ErrExecutionError, a.id, fmt.Sprintf("endpoint unreachable: %v", err), true)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errorFrame(types.ErrExecutionError, a.id,
			fmt.Sprintf("endpoint returned status %d", resp.StatusCode), resp.StatusCode >= 500)
	}

	var records []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return errorFrame(types.ErrExecutionError, a.id, fmt.Sprintf("decoding response: %v", err), false)
	}

	colSet := make(map[string]bool)
	for _, rec := range records {
		for k := range rec {
			colSet[k] = true
		}
	}
	names := make([]string, 0, len(colSet))
	for k := range colSet {
		names = append(names, k)
	}
	sort.Strings(names)

	columns := make([]types.ColumnSpec, len(names))
	for i, n := range names {
		columns[i] = types.ColumnSpec{Name: n, Type: "string"}
	}

	rowLimit := req.Limits.RowLimit
	if rowLimit <= 0 || (a.opts.RowLimit > 0 && rowLimit > a.opts.RowLimit) {
		rowLimit = a.opts.RowLimit
	}
	truncated := false
	if rowLimit > 0 && len(records) > rowLimit {
		records = records[:rowLimit]
		truncated = true
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, len(names))
		for j, n := range names {
			row[j] = rec[n]
		}
		rows[i] = row
	}

	return &types.ResultFrame{
		Success:      true,
		Columns:      columns,
		Rows:         rows,
		RowCount:     len(rows),
		Truncated:    truncated,
		DatasourceID: a.id,
	}
}
