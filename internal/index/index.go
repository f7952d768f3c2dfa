package index

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"queryloom/internal/embedding"
	"queryloom/internal/logging"
)

// =============================================================================
// RETRIEVAL INDEX
// =============================================================================

// Options bounds retrieval behavior.
type Options struct {
	// UseMMR enables the max-marginal-relevance diversity pass.
	UseMMR bool
	// Lambda balances relevance against diversity when MMR is on.
	Lambda float64
	// Oversample widens the candidate pool handed to MMR (multiplier on k).
	Oversample int
}

// DefaultOptions enables MMR with a relevance-leaning lambda.
func DefaultOptions() Options {
	return Options{UseMMR: true, Lambda: 0.7, Oversample: 3}
}

type storedChunk struct {
	chunk  Chunk
	vector []float32
}

// Index is the in-memory embedding index. Writes happen only during schema
// indexing (one atomic sweep per version); retrieval is read-only.
type Index struct {
	engine embedding.Engine
	opts   Options

	mu     sync.RWMutex
	chunks []storedChunk
}

// ScoredChunk is one retrieval hit.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// New creates an index over the given embedding engine.
func New(engine embedding.Engine, opts Options) *Index {
	if opts.Lambda == 0 {
		opts.Lambda = 0.7
	}
	if opts.Oversample <= 0 {
		opts.Oversample = 3
	}
	return &Index{engine: engine, opts: opts}
}

// RefreshSchemaChunks embeds the new chunk set, then in one atomic sweep
// deletes every chunk belonging to the evicted versions (and any stale copy
// of this version) and inserts the new chunks.
func (ix *Index) RefreshSchemaChunks(ctx context.Context, datasourceID, schemaVersion string, chunks []Chunk, evictedVersions []string) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := ix.engine.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding %d chunks for %s@%s: %w", len(chunks), datasourceID, schemaVersion, err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: %d vectors for %d chunks", len(vectors), len(chunks))
	}

	drop := make(map[string]bool, len(evictedVersions)+1)
	for _, v := range evictedVersions {
		drop[v] = true
	}
	drop[schemaVersion] = true

	ix.mu.Lock()
	defer ix.mu.Unlock()

	kept := ix.chunks[:0]
	removed := 0
	for _, sc := range ix.chunks {
		if sc.chunk.DatasourceID == datasourceID && drop[sc.chunk.SchemaVersion] {
			removed++
			continue
		}
		kept = append(kept, sc)
	}
	ix.chunks = kept
	for i, c := range chunks {
		ix.chunks = append(ix.chunks, storedChunk{chunk: c, vector: vectors[i]})
	}

	logging.Get(logging.CategoryIndex).Infof("refreshed chunks for %s@%s: inserted=%d removed=%d evicted_versions=%v",
		datasourceID, schemaVersion, len(chunks), removed, evictedVersions)
	return nil
}

// Count returns the number of stored chunks matching the filter; empty
// arguments match everything.
func (ix *Index) Count(datasourceID, schemaVersion string, t ChunkType) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, sc := range ix.chunks {
		if datasourceID != "" && sc.chunk.DatasourceID != datasourceID {
			continue
		}
		if schemaVersion != "" && sc.chunk.SchemaVersion != schemaVersion {
			continue
		}
		if t != "" && sc.chunk.Type != t {
			continue
		}
		n++
	}
	return n
}

// RetrieveDatasourceCandidates returns datasource-level chunks ranked by
// similarity to the query.
func (ix *Index) RetrieveDatasourceCandidates(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	return ix.retrieve(ctx, query, k, func(c Chunk) bool {
		return c.Type == ChunkDatasource
	})
}

// RetrieveSchemaContext returns table-level chunks within a datasource.
func (ix *Index) RetrieveSchemaContext(ctx context.Context, query, datasourceID string, k int) ([]ScoredChunk, error) {
	return ix.retrieve(ctx, query, k, func(c Chunk) bool {
		return c.Type == ChunkTable && c.DatasourceID == datasourceID
	})
}

// RetrievePlanningContext returns column and relationship chunks restricted
// to the given fully-qualified tables.
func (ix *Index) RetrievePlanningContext(ctx context.Context, query, datasourceID string, tables []string, k int) ([]ScoredChunk, error) {
	allowed := make(map[string]bool, len(tables))
	for _, t := range tables {
		allowed[strings.ToLower(t)] = true
	}
	return ix.retrieve(ctx, query, k, func(c Chunk) bool {
		if c.DatasourceID != datasourceID {
			return false
		}
		if c.Type != ChunkColumn && c.Type != ChunkRelationship {
			return false
		}
		return allowed[strings.ToLower(c.Table)]
	})
}

// RetrieveExamples returns example-question chunks for a datasource.
func (ix *Index) RetrieveExamples(ctx context.Context, query, datasourceID string, k int) ([]ScoredChunk, error) {
	return ix.retrieve(ctx, query, k, func(c Chunk) bool {
		return c.Type == ChunkExample && c.DatasourceID == datasourceID
	})
}

func (ix *Index) retrieve(ctx context.Context, query string, k int, match func(Chunk) bool) ([]ScoredChunk, error) {
	if k <= 0 {
		k = 5
	}

	queryVec, err := ix.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	ix.mu.RLock()
	var candidates []Chunk
	var corpus [][]float32
	for _, sc := range ix.chunks {
		if match(sc.chunk) {
			candidates = append(candidates, sc.chunk)
			corpus = append(corpus, sc.vector)
		}
	}
	ix.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, nil
	}

	pool := k
	if ix.opts.UseMMR {
		pool = k * ix.opts.Oversample
	}
	top := embedding.TopK(queryVec, corpus, pool)
	if ix.opts.UseMMR {
		top = embedding.MMR(queryVec, corpus, top, k, ix.opts.Lambda)
	}

	out := make([]ScoredChunk, len(top))
	for i, r := range top {
		out[i] = ScoredChunk{Chunk: candidates[r.Index], Score: r.Similarity}
	}
	return out, nil
}
