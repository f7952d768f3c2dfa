// queryloom answers natural-language analytical questions over configured
// datasources. One invocation optionally refreshes the schema index, runs a
// single query, and prints the synthesized answer as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"queryloom/internal/adapter"
	"queryloom/internal/agents"
	"queryloom/internal/artifact"
	"queryloom/internal/config"
	"queryloom/internal/embedding"
	"queryloom/internal/index"
	"queryloom/internal/logging"
	"queryloom/internal/orchestrator"
	"queryloom/internal/pipeline"
	"queryloom/internal/policy"
	"queryloom/internal/runtime"
	"queryloom/internal/sandbox"
	"queryloom/internal/schema"
	"queryloom/internal/secrets"
	"queryloom/internal/types"
)

func main() {
	var (
		configPath   = flag.String("config", "queryloom.yaml", "configuration file")
		query        = flag.String("query", "", "natural-language question to answer")
		roles        = flag.String("roles", "", "comma-separated role ids for the request")
		tenant       = flag.String("tenant", "default", "tenant id")
		reindex      = flag.Bool("reindex", false, "refresh schema snapshots and the retrieval index before querying")
		healthCheck  = flag.Bool("health", false, "report adapter connectivity and exit")
		printVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *printVersion {
		fmt.Println("queryloom " + version)
		return
	}

	if err := run(*configPath, *query, *roles, *tenant, *reindex, *healthCheck); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var version = "dev"

func run(configPath, query, roles, tenant string, reindex, healthCheck bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	logging.Boot("queryloom %s starting", version)

	ctx := context.Background()
	resolver := secrets.NewResolver()

	registry, err := adapter.NewRegistry(ctx, cfg.Datasources, resolver)
	if err != nil {
		return fmt.Errorf("building adapter registry: %w", err)
	}
	if healthCheck {
		return reportHealth(ctx, registry)
	}
	if query == "" && !reindex {
		return fmt.Errorf("nothing to do: pass -query and/or -reindex")
	}

	sb := sandbox.New(cfg.Sandbox, registry.Executor())
	defer sb.Shutdown()

	schemaStore, err := buildSchemaStore(cfg)
	if err != nil {
		return err
	}
	artifacts, err := artifact.NewStore(ctx, cfg.Artifact)
	if err != nil {
		return fmt.Errorf("building artifact store: %w", err)
	}

	embedCfg := embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIModel:     cfg.Embedding.Model,
		TaskType:       "RETRIEVAL_DOCUMENT",
	}
	if cfg.Embedding.APIKey != "" {
		key, err := resolver.Resolve(ctx, cfg.Embedding.APIKey)
		if err == nil {
			embedCfg.GenAIAPIKey = key.Reveal()
		}
	}
	embedder, err := embedding.NewEngine(embedCfg)
	if err != nil {
		return fmt.Errorf("building embedding engine: %w", err)
	}
	idx := index.New(embedder, index.DefaultOptions())

	auditor := runtime.NewAuditor(cfg.Audit)
	breakers := runtime.NewBreakers(cfg.Breakers, auditor)

	caller := agents.NewCaller(buildLLMClient(ctx, resolver, cfg), breakers, auditor)
	policyEngine := policy.NewEngine(cfg.Policy, cfg.Pipeline.Mismatch)

	orch := &orchestrator.Orchestrator{
		Registry:    registry,
		Policy:      policyEngine,
		Index:       idx,
		SchemaStore: schemaStore,
		Sandbox:     sb,
		Artifacts:   artifacts,
		Caller:      caller,
		Breakers:    breakers,
		Auditor:     auditor,
		Pipeline: &pipeline.Pipeline{
			Index:         idx,
			SchemaStore:   schemaStore,
			Registry:      registry,
			Sandbox:       sb,
			Artifacts:     artifacts,
			Policy:        policyEngine,
			Caller:        caller,
			Breakers:      breakers,
			MaxRetries:    cfg.Pipeline.MaxRetries,
			RetrievalTopK: cfg.Pipeline.RetrievalTopK,
		},
		Timeout:   cfg.Pipeline.GlobalTimeout,
		MaxFanout: cfg.Sandbox.InteractiveWorkers,
	}

	controller := runtime.NewController()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		controller.Cancel("received " + sig.String())
	}()

	if reindex {
		examplesByID := make(map[string][]string, len(cfg.Datasources))
		for _, ds := range cfg.Datasources {
			examplesByID[ds.ID] = ds.Options.ExampleQuestions
		}
		for _, id := range registry.Routable(types.CapSchemaIntrospection) {
			if _, err := orch.IndexDatasource(ctx, id, examplesByID[id]); err != nil {
				logging.Boot("indexing %s failed: %v", id, err)
			}
		}
	}
	if query == "" {
		return nil
	}

	resp := orch.Execute(ctx, types.Request{
		Query:    query,
		TenantID: tenant,
		User:     types.UserContext{Roles: splitRoles(roles)},
	}, controller)

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func loadConfig(path string) (config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logging.Boot("config %s not found, using defaults", path)
		return config.Default(), nil
	}
	return config.Load(path)
}

func buildSchemaStore(cfg config.Config) (schema.Store, error) {
	switch cfg.SchemaStore.Backend {
	case "sqlite":
		store, err := schema.NewSQLiteStore(cfg.SchemaStore.Path, cfg.Pipeline.SchemaMaxVersions)
		if err != nil {
			return nil, fmt.Errorf("opening schema store: %w", err)
		}
		return store, nil
	default:
		return schema.NewMemoryStore(cfg.Pipeline.SchemaMaxVersions), nil
	}
}

// buildLLMClient resolves the API key and constructs the model client. A nil
// return is tolerated: LLM-backed nodes then fail with a structured error
// instead of a startup crash, which keeps -reindex usable offline.
func buildLLMClient(ctx context.Context, resolver *secrets.Resolver, cfg config.Config) types.LLMClient {
	key, err := resolver.Resolve(ctx, cfg.LLM.APIKey)
	if err != nil || key.Reveal() == "" {
		logging.Boot("no LLM API key resolved; planning nodes will be unavailable")
		return nil
	}
	client, err := agents.NewGenAIClient(ctx, key.Reveal(), cfg.LLM.Model)
	if err != nil {
		logging.Boot("LLM client construction failed: %v", err)
		return nil
	}
	return client
}

func reportHealth(ctx context.Context, registry *adapter.Registry) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	report := registry.HealthReport(ctx)
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func splitRoles(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
