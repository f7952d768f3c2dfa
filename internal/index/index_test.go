package index

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryloom/internal/schema"
)

// keywordEmbedder maps texts onto a fixed keyword axis so similarity is
// deterministic: texts sharing a keyword score 1, others 0.
type keywordEmbedder struct {
	keywords []string
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{keywords: []string{"orders", "customers", "campaigns", "revenue"}}
}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, len(e.keywords))
	lower := strings.ToLower(text)
	for i, kw := range e.keywords {
		if strings.Contains(lower, kw) {
			vec[i] = 1
		}
	}
	return vec, nil
}

func (e *keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *keywordEmbedder) Dimensions() int { return len(e.keywords) }
func (e *keywordEmbedder) Name() string    { return "keyword" }

func salesSnapshot() *schema.Snapshot {
	return &schema.Snapshot{
		DatasourceID: "sales",
		Contract: schema.Contract{
			{
				Name: "main.orders",
				Columns: []schema.Column{
					{Name: "id", Type: "integer", PrimaryKey: true},
					{Name: "customer_id", Type: "integer"},
					{Name: "total", Type: "double"},
				},
				ForeignKeys: []schema.ForeignKey{
					{Column: "customer_id", RefTable: "main.customers", RefColumn: "id", Cardinality: schema.ManyToOne},
				},
			},
			{
				Name: "main.customers",
				Columns: []schema.Column{
					{Name: "id", Type: "integer", PrimaryKey: true},
					{Name: "name", Type: "string"},
				},
			},
		},
		Metadata: schema.Metadata{
			Description: "order and revenue warehouse",
			Tables: map[string]schema.TableMetadata{
				"main.orders": {
					Description: "customer orders with revenue totals",
					Columns: map[string]schema.ColumnMetadata{
						"total": {Description: "order value", Synonyms: []string{"revenue", "amount"}},
					},
				},
			},
		},
	}
}

func TestBuildChunksCoversEveryLevel(t *testing.T) {
	chunks := BuildChunks(salesSnapshot(), "sv-1", []string{"What is total revenue by region?"})

	byType := map[ChunkType]int{}
	for _, c := range chunks {
		byType[c.Type]++
		assert.Equal(t, "sales", c.DatasourceID)
		assert.Equal(t, "sv-1", c.SchemaVersion)
		assert.NotEmpty(t, c.ID)
		assert.NotEmpty(t, c.Text)
	}
	assert.Equal(t, 1, byType[ChunkDatasource])
	assert.Equal(t, 2, byType[ChunkTable])
	assert.Equal(t, 5, byType[ChunkColumn])
	assert.Equal(t, 1, byType[ChunkRelationship])
	assert.Equal(t, 1, byType[ChunkExample])

	// Synonyms from column metadata land in the chunk text.
	var totalChunk *Chunk
	for i := range chunks {
		if chunks[i].Type == ChunkColumn && chunks[i].Column == "total" {
			totalChunk = &chunks[i]
		}
	}
	require.NotNil(t, totalChunk)
	assert.Contains(t, totalChunk.Text, "revenue")
}

func TestBuildChunksIsDeterministic(t *testing.T) {
	a := BuildChunks(salesSnapshot(), "sv-1", nil)
	b := BuildChunks(salesSnapshot(), "sv-1", nil)
	assert.Equal(t, a, b)
}

func indexWith(t *testing.T, version string, evicted []string) *Index {
	t.Helper()
	ix := New(newKeywordEmbedder(), Options{})
	chunks := BuildChunks(salesSnapshot(), version, nil)
	require.NoError(t, ix.RefreshSchemaChunks(context.Background(), "sales", version, chunks, evicted))
	return ix
}

func TestRetrieveSchemaContextRanksByQuery(t *testing.T) {
	ix := indexWith(t, "sv-1", nil)

	hits, err := ix.RetrieveSchemaContext(context.Background(), "total revenue from orders", "sales", 2)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, ChunkTable, hits[0].Chunk.Type)
	assert.Equal(t, "main.orders", hits[0].Chunk.Table)

	// Other datasources see nothing.
	hits, err = ix.RetrieveSchemaContext(context.Background(), "orders", "marketing", 2)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRetrieveDatasourceCandidates(t *testing.T) {
	ix := indexWith(t, "sv-1", nil)

	hits, err := ix.RetrieveDatasourceCandidates(context.Background(), "customer revenue", 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, ChunkDatasource, hits[0].Chunk.Type)
	assert.Equal(t, "sales", hits[0].Chunk.DatasourceID)
}

func TestRetrievePlanningContextRestrictsToTables(t *testing.T) {
	ix := indexWith(t, "sv-1", nil)

	hits, err := ix.RetrievePlanningContext(context.Background(), "customer orders", "sales", []string{"MAIN.ORDERS"}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		assert.Equal(t, "main.orders", h.Chunk.Table)
		assert.Contains(t, []ChunkType{ChunkColumn, ChunkRelationship}, h.Chunk.Type)
	}
}

func TestRefreshSweepsEvictedVersions(t *testing.T) {
	ix := indexWith(t, "sv-1", nil)
	require.Greater(t, ix.Count("sales", "sv-1", ""), 0)

	chunks := BuildChunks(salesSnapshot(), "sv-2", nil)
	require.NoError(t, ix.RefreshSchemaChunks(context.Background(), "sales", "sv-2", chunks, []string{"sv-1"}))

	assert.Equal(t, 0, ix.Count("sales", "sv-1", ""))
	assert.Greater(t, ix.Count("sales", "sv-2", ""), 0)
}

func TestRefreshReplacesStaleCopyOfSameVersion(t *testing.T) {
	ix := indexWith(t, "sv-1", nil)
	before := ix.Count("sales", "sv-1", "")

	chunks := BuildChunks(salesSnapshot(), "sv-1", nil)
	require.NoError(t, ix.RefreshSchemaChunks(context.Background(), "sales", "sv-1", chunks, nil))
	assert.Equal(t, before, ix.Count("sales", "sv-1", ""))
}
