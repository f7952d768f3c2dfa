// Package config defines the declarative configuration surface: datasources,
// policy roles, sandbox sizing and pipeline limits. Connection secrets use
// ${scheme:key} references resolved at registry construction, never here.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"queryloom/internal/logging"
)

// tablePattern matches `*`, `ds.*` and `ds.table` entries.
var tablePattern = regexp.MustCompile(`^(\*|[A-Za-z0-9_-]+\.(\*|[A-Za-z0-9_.]+))$`)

// DatasourceOptions carries the per-datasource safeguard ceilings.
type DatasourceOptions struct {
	RowLimit           int   `yaml:"row_limit" json:"row_limit"`
	MaxBytes           int64 `yaml:"max_bytes" json:"max_bytes"`
	StatementTimeoutMS int   `yaml:"statement_timeout_ms" json:"statement_timeout_ms"`
	// ExampleQuestions are curated questions indexed alongside the schema to
	// sharpen datasource resolution.
	ExampleQuestions []string `yaml:"example_questions,omitempty" json:"example_questions,omitempty"`
}

// isZero reports whether none of the safeguard ceilings is set.
// ExampleQuestions is deliberately excluded: curated questions alone do not
// count as configuring the ceilings.
func (o DatasourceOptions) isZero() bool {
	return o.RowLimit == 0 && o.MaxBytes == 0 && o.StatementTimeoutMS == 0
}

// DefaultDatasourceOptions returns the ceilings applied when unset.
func DefaultDatasourceOptions() DatasourceOptions {
	return DatasourceOptions{
		RowLimit:           10000,
		MaxBytes:           64 << 20,
		StatementTimeoutMS: 30000,
	}
}

// DatasourceConfig declares one data source. Connection holds engine-specific
// parameters; "type" selects the adapter constructor.
type DatasourceConfig struct {
	ID         string            `yaml:"id" json:"id" validate:"required"`
	Connection map[string]any    `yaml:"connection" json:"connection" validate:"required"`
	Options    DatasourceOptions `yaml:"options" json:"options"`
}

// EngineType extracts the connection "type" tag.
func (d DatasourceConfig) EngineType() string {
	if t, ok := d.Connection["type"].(string); ok {
		return t
	}
	return ""
}

// RoleConfig maps one role to its allowed datasources and table patterns.
type RoleConfig struct {
	Description        string   `yaml:"description" json:"description"`
	Role               string   `yaml:"role" json:"role"`
	AllowedDatasources []string `yaml:"allowed_datasources" json:"allowed_datasources"`
	AllowedTables      []string `yaml:"allowed_tables" json:"allowed_tables"`
}

// MismatchPolicy selects how a schema-version mismatch between a retrieved
// chunk and the current version is handled.
type MismatchPolicy string

const (
	MismatchWarn   MismatchPolicy = "warn"
	MismatchFail   MismatchPolicy = "fail"
	MismatchIgnore MismatchPolicy = "ignore"
)

// PipelineConfig bounds the orchestrator.
type PipelineConfig struct {
	GlobalTimeout     time.Duration  `yaml:"global_timeout" json:"global_timeout"`
	MaxRetries        int            `yaml:"max_retries" json:"max_retries"`
	SchemaMaxVersions int            `yaml:"schema_max_versions" json:"schema_max_versions"`
	Mismatch          MismatchPolicy `yaml:"schema_mismatch_policy" json:"schema_mismatch_policy"`
	RetrievalTopK     int            `yaml:"retrieval_top_k" json:"retrieval_top_k"`
}

// SandboxConfig sizes the execution pools.
type SandboxConfig struct {
	InteractiveWorkers int           `yaml:"interactive_workers" json:"interactive_workers"`
	IndexingWorkers    int           `yaml:"indexing_workers" json:"indexing_workers"`
	SubmitTimeout      time.Duration `yaml:"submit_timeout" json:"submit_timeout"`
}

// ArtifactConfig selects the artifact backend.
type ArtifactConfig struct {
	Backend      string `yaml:"backend" json:"backend" validate:"oneof=local s3 adls"`
	Root         string `yaml:"root" json:"root"`     // local: directory
	Bucket       string `yaml:"bucket" json:"bucket"` // s3/adls: container
	PathTemplate string `yaml:"path_template" json:"path_template"`
}

// BreakerConfig bounds the three global circuit breakers.
type BreakerConfig struct {
	FailMax      uint32        `yaml:"fail_max" json:"fail_max"`
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
}

// AuditConfig locates the rotating audit sink.
type AuditConfig struct {
	FilePath   string `yaml:"file_path" json:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
}

// LLMConfig selects the planning and synthesis model. APIKey accepts a
// ${scheme:key} secret reference.
type LLMConfig struct {
	APIKey string `yaml:"api_key" json:"api_key"`
	Model  string `yaml:"model" json:"model"`
}

// EmbeddingConfig selects the retrieval embedding backend. APIKey accepts a
// ${scheme:key} secret reference when the provider is "genai".
type EmbeddingConfig struct {
	Provider       string `yaml:"provider" json:"provider"` // ollama | genai
	OllamaEndpoint string `yaml:"ollama_endpoint" json:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model" json:"ollama_model"`
	APIKey         string `yaml:"api_key" json:"api_key"`
	Model          string `yaml:"model" json:"model"`
}

// SchemaStoreConfig locates the schema version store.
type SchemaStoreConfig struct {
	Backend string `yaml:"backend" json:"backend" validate:"oneof=memory sqlite"`
	Path    string `yaml:"path" json:"path"`
}

// Config is the full declarative configuration.
type Config struct {
	Logging     logging.Config        `yaml:"logging" json:"logging"`
	Datasources []DatasourceConfig    `yaml:"datasources" json:"datasources" validate:"dive"`
	Policy      map[string]RoleConfig `yaml:"policy" json:"policy"`
	Pipeline    PipelineConfig        `yaml:"pipeline" json:"pipeline"`
	Sandbox     SandboxConfig         `yaml:"sandbox" json:"sandbox"`
	Artifact    ArtifactConfig        `yaml:"artifact" json:"artifact"`
	Breakers    BreakerConfig         `yaml:"breakers" json:"breakers"`
	Audit       AuditConfig           `yaml:"audit" json:"audit"`
	LLM         LLMConfig             `yaml:"llm" json:"llm"`
	Embedding   EmbeddingConfig       `yaml:"embedding" json:"embedding"`
	SchemaStore SchemaStoreConfig     `yaml:"schema_store" json:"schema_store"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Logging: logging.DefaultConfig(),
		Pipeline: PipelineConfig{
			GlobalTimeout:     60 * time.Second,
			MaxRetries:        3,
			SchemaMaxVersions: 3,
			Mismatch:          MismatchWarn,
			RetrievalTopK:     5,
		},
		Sandbox: SandboxConfig{
			InteractiveWorkers: 4,
			IndexingWorkers:    2,
			SubmitTimeout:      30 * time.Second,
		},
		Artifact: ArtifactConfig{
			Backend:      "local",
			Root:         ".queryloom/artifacts",
			PathTemplate: "{tenant_id}/{request_id}/{subgraph_name}/{dag_node_id}/{schema_version}/part-00000.parquet",
		},
		Breakers: BreakerConfig{
			FailMax:      5,
			ResetTimeout: 30 * time.Second,
		},
		Audit: AuditConfig{
			FilePath:   ".queryloom/audit/audit.jsonl",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		LLM: LLMConfig{
			APIKey: "${env:GEMINI_API_KEY}",
			Model:  "gemini-2.0-flash",
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			Model:          "gemini-embedding-001",
		},
		SchemaStore: SchemaStoreConfig{
			Backend: "sqlite",
			Path:    ".queryloom/schema.db",
		},
	}
}

// Load reads a YAML configuration file over the defaults and validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks structural validity plus the policy namespacing rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	seen := make(map[string]bool, len(c.Datasources))
	for i := range c.Datasources {
		ds := &c.Datasources[i]
		if ds.EngineType() == "" {
			return fmt.Errorf("datasource %q: connection.type is required", ds.ID)
		}
		if seen[ds.ID] {
			return fmt.Errorf("duplicate datasource id %q", ds.ID)
		}
		seen[ds.ID] = true
		if ds.Options.isZero() {
			examples := ds.Options.ExampleQuestions
			ds.Options = DefaultDatasourceOptions()
			ds.Options.ExampleQuestions = examples
		}
	}

	for roleID, role := range c.Policy {
		for _, pattern := range role.AllowedTables {
			if !tablePattern.MatchString(pattern) {
				return fmt.Errorf("role %q: table pattern %q must be namespaced (`*`, `ds.*` or `ds.table`)",
					roleID, pattern)
			}
			// A bare table name without datasource prefix is rejected above,
			// but keep the error explicit for the common mistake.
			if pattern != "*" && !strings.Contains(pattern, ".") {
				return fmt.Errorf("role %q: table pattern %q lacks a datasource namespace", roleID, pattern)
			}
		}
	}
	return nil
}
