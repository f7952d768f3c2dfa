package runtime

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"queryloom/internal/config"
	"queryloom/internal/logging"
)

// Audit event types.
const (
	EventLLMInteraction    = "llm_interaction"
	EventSecurityViolation = "security_violation"
	EventBreakerTransition = "breaker_transition"
	EventPipelineStart     = "pipeline_start"
	EventPipelineEnd       = "pipeline_end"
	EventCancellation      = "cancellation"
)

// redactedKeys are matched case-insensitively against every map key,
// recursively, before a record is written.
var redactedKeys = []string{"api_key", "password", "secret", "authorization"}

// AuditRecord is one JSON line in the audit stream.
type AuditRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	TraceID   string         `json:"trace_id,omitempty"`
	TenantID  string         `json:"tenant_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Auditor writes structured audit events to a size-rotated JSONL file.
type Auditor struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
}

// NewAuditor opens the rotating sink (default 10 MiB x 5 backups).
func NewAuditor(cfg config.AuditConfig) *Auditor {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	maxBackups := cfg.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 5
	}
	return &Auditor{
		writer: &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			Compress:   false,
		},
	}
}

// Emit writes one event. Sensitive keys are redacted recursively before the
// record touches the sink; emission failures are logged, never propagated.
func (a *Auditor) Emit(eventType, traceID, tenantID string, data map[string]any) {
	rec := AuditRecord{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		TraceID:   traceID,
		TenantID:  tenantID,
		Data:      Redact(data),
	}
	line, err := json.Marshal(rec)
	if err != nil {
		logging.Get(logging.CategoryRuntime).Errorf("audit marshal failed: %v", err)
		return
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.writer.Write(line); err != nil {
		logging.Get(logging.CategoryRuntime).Errorf("audit write failed: %v", err)
	}
}

// Close flushes and closes the sink.
func (a *Auditor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writer.Close()
}

// Redact returns a deep copy of data with every sensitive value replaced.
// Nested maps and slices are walked; keys match case-insensitively on
// substring so variants like "db_password" are covered.
func Redact(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if isSensitiveKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Redact(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range redactedKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
