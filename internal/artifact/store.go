package artifact

import (
	"context"
	"fmt"
	"strings"
	"time"

	"queryloom/internal/config"
	"queryloom/internal/logging"
	"queryloom/internal/observability"
	"queryloom/internal/types"
)

// =============================================================================
// ARTIFACT STORE
// =============================================================================

// Store writes and reads result frames through a pluggable backend.
type Store struct {
	backend  Backend
	template string
}

// NewStore builds a store from configuration. The adls backend is declared
// in configuration but not yet implemented.
func NewStore(ctx context.Context, cfg config.ArtifactConfig) (*Store, error) {
	var backend Backend
	var err error
	switch cfg.Backend {
	case "local", "":
		backend, err = NewLocalBackend(cfg.Root)
	case "s3":
		backend, err = NewS3Backend(ctx, cfg.Bucket)
	case "adls":
		return nil, fmt.Errorf("artifact backend %q is not implemented", cfg.Backend)
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewStoreWithBackend(backend, cfg.PathTemplate), nil
}

// NewStoreWithBackend wires an explicit backend, mainly for tests.
func NewStoreWithBackend(backend Backend, template string) *Store {
	if template == "" {
		template = "{tenant_id}/{request_id}/{subgraph_name}/{dag_node_id}/{schema_version}/part-00000.parquet"
	}
	return &Store{backend: backend, template: template}
}

// PathFor renders the deterministic relative path for a key.
func (s *Store) PathFor(key types.ArtifactKey) string {
	r := strings.NewReplacer(
		"{tenant_id}", sanitizeSegment(key.TenantID),
		"{request_id}", sanitizeSegment(key.RequestID),
		"{subgraph_name}", sanitizeSegment(key.SubgraphName),
		"{dag_node_id}", sanitizeSegment(key.DAGNodeID),
		"{schema_version}", sanitizeSegment(key.SchemaVersion),
	)
	return r.Replace(s.template)
}

// WriteResultFrame persists a frame and returns its reference. Identical keys
// with identical frame contents produce identical hashes and URIs.
func (s *Store) WriteResultFrame(ctx context.Context, frame *types.ResultFrame, key types.ArtifactKey) (*types.ArtifactRef, error) {
	if frame == nil || !frame.Success {
		return nil, fmt.Errorf("only successful frames are persisted")
	}

	hash, err := contentHash(frame)
	if err != nil {
		return nil, err
	}
	data, err := encodeFrame(frame)
	if err != nil {
		return nil, err
	}

	relPath := s.PathFor(key)
	if err := s.backend.Put(ctx, relPath, data); err != nil {
		return nil, err
	}
	observability.Metrics().ArtifactWrites.WithLabelValues(s.backend.Name()).Inc()

	ref := &types.ArtifactRef{
		URI:           s.backend.URI(relPath),
		Backend:       s.backend.Name(),
		RowCount:      frame.RowCount,
		Columns:       frame.ColumnNames(),
		ByteSize:      int64(len(data)),
		ContentHash:   hash,
		CreatedAt:     time.Now().UTC(),
		SchemaVersion: key.SchemaVersion,
		PathTemplate:  s.template,
	}
	logging.Get(logging.CategoryArtifact).Infof("wrote artifact %s rows=%d bytes=%d hash=%s",
		ref.URI, ref.RowCount, ref.ByteSize, hash[:12])
	return ref, nil
}

// ReadResultFrame fetches and decodes the frame behind a reference.
func (s *Store) ReadResultFrame(ctx context.Context, ref *types.ArtifactRef) (*types.ResultFrame, error) {
	if ref == nil {
		return nil, fmt.Errorf("nil artifact reference")
	}
	relPath, err := s.relPathOf(ref.URI)
	if err != nil {
		return nil, err
	}
	data, err := s.backend.Get(ctx, relPath)
	if err != nil {
		return nil, err
	}
	frame, err := decodeFrame(data)
	if err != nil {
		return nil, fmt.Errorf("decoding artifact %s: %w", ref.URI, err)
	}
	return frame, nil
}

func (s *Store) relPathOf(uri string) (string, error) {
	prefix := s.backend.URI("")
	if !strings.HasPrefix(uri, prefix) {
		return "", fmt.Errorf("artifact URI %q does not belong to backend %s", uri, s.backend.Name())
	}
	return strings.TrimPrefix(strings.TrimPrefix(uri, prefix), "/"), nil
}

// sanitizeSegment keeps path segments flat and template-safe.
func sanitizeSegment(s string) string {
	if s == "" {
		return "_"
	}
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return strings.ReplaceAll(s, " ", "_")
}
