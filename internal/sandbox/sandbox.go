// Package sandbox runs adapter work on two bounded worker pools: an
// interactive pool for SQL execution, dry runs and cost estimates, and an
// indexing pool reserved for schema introspection. Worker death is isolated
// and surfaced as a crash result, never a process fault.
package sandbox

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"queryloom/internal/config"
	"queryloom/internal/logging"
	"queryloom/internal/observability"
	"queryloom/internal/types"
)

// =============================================================================
// REQUEST / RESULT
// =============================================================================

// ExecutionMode selects what a submission does.
type ExecutionMode string

const (
	ModeExecute      ExecutionMode = "execute"
	ModeDryRun       ExecutionMode = "dry_run"
	ModeCostEstimate ExecutionMode = "cost_estimate"
	ModeIntrospect   ExecutionMode = "introspect"
)

// ExecutionRequest is a self-contained unit of sandbox work.
type ExecutionRequest struct {
	Mode           ExecutionMode  `json:"mode"`
	DatasourceID   string         `json:"datasource_id"`
	EngineType     string         `json:"engine_type"`
	ConnectionArgs map[string]any `json:"connection_args,omitempty"`
	SQL            string         `json:"sql,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	Limits         types.Limits   `json:"limits"`
	TraceID        string         `json:"trace_id,omitempty"`
}

// ExecutionResult is the uniform sandbox outcome. Metrics always carries
// duration_ms; crashes set is_crash to 1.
type ExecutionResult struct {
	Success bool               `json:"success"`
	Data    *types.ResultFrame `json:"data,omitempty"`
	Error   string             `json:"error,omitempty"`
	Metrics map[string]float64 `json:"metrics"`
}

// Executor performs the actual work for one request. The registry provides
// this; the sandbox only bounds, times and isolates it.
type Executor func(ctx context.Context, req *ExecutionRequest) (*types.ResultFrame, error)

// =============================================================================
// WORKER POOL
// =============================================================================

type task struct {
	ctx      context.Context
	req      *ExecutionRequest
	enqueued time.Time
	done     chan *ExecutionResult
}

type pool struct {
	name  string
	exec  Executor
	tasks chan *task
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newPool(name string, workers int, exec Executor) *pool {
	if workers <= 0 {
		workers = 1
	}
	p := &pool{
		name:  name,
		exec:  exec,
		tasks: make(chan *task),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	logging.Sandbox("pool %s started with %d workers", name, workers)
	return p
}

func (p *pool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		t.done <- p.run(t)
	}
}

// run executes one task with panic isolation. A panic in adapter code is
// translated to a crash result and the worker keeps serving.
func (p *pool) run(t *task) (result *ExecutionResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategorySandbox).Errorf("pool %s worker crash: %v\n%s", p.name, r, debug.Stack())
			observability.Metrics().SandboxSubmissions.WithLabelValues(p.name, "crash").Inc()
			result = &ExecutionResult{
				Success: false,
				Error:   fmt.Sprintf("SANDBOX CRASH: %v", r),
				Metrics: map[string]float64{
					"is_crash":    1,
					"duration_ms": float64(time.Since(start).Milliseconds()),
				},
			}
		}
	}()

	queueMS := float64(start.Sub(t.enqueued).Milliseconds())
	frame, err := p.exec(t.ctx, t.req)
	durationMS := float64(time.Since(start).Milliseconds())
	if err != nil {
		observability.Metrics().SandboxSubmissions.WithLabelValues(p.name, "error").Inc()
		return &ExecutionResult{
			Success: false,
			Error:   err.Error(),
			Metrics: map[string]float64{"is_crash": 0, "duration_ms": durationMS, "queue_ms": queueMS},
		}
	}
	observability.Metrics().SandboxSubmissions.WithLabelValues(p.name, "ok").Inc()
	return &ExecutionResult{
		Success: frame != nil && frame.Success,
		Data:    frame,
		Metrics: map[string]float64{"is_crash": 0, "duration_ms": durationMS, "queue_ms": queueMS},
	}
}

// submit queues a task and waits for its result or the deadline.
func (p *pool) submit(ctx context.Context, req *ExecutionRequest, timeout time.Duration) *ExecutionResult {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		observability.Metrics().SandboxSubmissions.WithLabelValues(p.name, "rejected").Inc()
		return failure(fmt.Sprintf("pool %s is shut down", p.name))
	}
	p.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	t := &task{ctx: ctx, req: req, enqueued: time.Now(), done: make(chan *ExecutionResult, 1)}

	select {
	case p.tasks <- t:
	case <-ctx.Done():
		observability.Metrics().SandboxSubmissions.WithLabelValues(p.name, "timeout").Inc()
		return failure(fmt.Sprintf("pool %s queue wait exceeded deadline: %v", p.name, ctx.Err()))
	}

	select {
	case res := <-t.done:
		return res
	case <-ctx.Done():
		observability.Metrics().SandboxSubmissions.WithLabelValues(p.name, "timeout").Inc()
		return failure(fmt.Sprintf("pool %s submission exceeded deadline: %v", p.name, ctx.Err()))
	}
}

func (p *pool) shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.tasks)
	p.wg.Wait()
}

func failure(msg string) *ExecutionResult {
	return &ExecutionResult{
		Success: false,
		Error:   msg,
		Metrics: map[string]float64{"is_crash": 0, "duration_ms": 0},
	}
}

// =============================================================================
// SANDBOX
// =============================================================================

// Sandbox owns the interactive and indexing pools.
type Sandbox struct {
	interactive   *pool
	indexing      *pool
	submitTimeout time.Duration
}

// New builds both pools over a shared executor.
func New(cfg config.SandboxConfig, exec Executor) *Sandbox {
	return &Sandbox{
		interactive:   newPool("interactive", cfg.InteractiveWorkers, exec),
		indexing:      newPool("indexing", cfg.IndexingWorkers, exec),
		submitTimeout: cfg.SubmitTimeout,
	}
}

// SubmitInteractive runs one SQL execution, dry run or cost estimate.
func (s *Sandbox) SubmitInteractive(ctx context.Context, req *ExecutionRequest) *ExecutionResult {
	switch req.Mode {
	case ModeExecute, ModeDryRun, ModeCostEstimate:
	default:
		return failure(fmt.Sprintf("mode %q not allowed on the interactive pool", req.Mode))
	}
	return s.interactive.submit(ctx, req, s.submitTimeout)
}

// SubmitIndexing runs one schema introspection.
func (s *Sandbox) SubmitIndexing(ctx context.Context, req *ExecutionRequest) *ExecutionResult {
	if req.Mode != ModeIntrospect {
		return failure(fmt.Sprintf("mode %q not allowed on the indexing pool", req.Mode))
	}
	return s.indexing.submit(ctx, req, s.submitTimeout)
}

// Shutdown stops both pools after draining pending submissions.
func (s *Sandbox) Shutdown() {
	s.interactive.shutdown()
	s.indexing.shutdown()
	logging.Sandbox("sandbox shut down")
}
