package artifact

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryloom/internal/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	backend, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	return NewStoreWithBackend(backend, "")
}

func testKey() types.ArtifactKey {
	return types.ArtifactKey{
		TenantID:      "acme",
		RequestID:     "req-1",
		SubgraphName:  "sg_revenue",
		DAGNodeID:     "scan_1",
		SchemaVersion: "sv-abc",
	}
}

func testFrame() *types.ResultFrame {
	return &types.ResultFrame{
		Success: true,
		Columns: []types.ColumnSpec{
			{Name: "region", Type: "string"},
			{Name: "orders", Type: "integer"},
			{Name: "revenue", Type: "double"},
			{Name: "active", Type: "boolean"},
			{Name: "seen_at", Type: "timestamp"},
		},
		Rows: [][]any{
			{"EU", int64(3), 42.5, true, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
			{"US", int64(7), 99.0, false, nil},
			{nil, nil, nil, nil, nil},
		},
		RowCount: 3,
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ref, err := s.WriteResultFrame(ctx, testFrame(), testKey())
	require.NoError(t, err)
	assert.Equal(t, "local", ref.Backend)
	assert.Equal(t, 3, ref.RowCount)
	assert.Equal(t, []string{"region", "orders", "revenue", "active", "seen_at"}, ref.Columns)
	assert.Greater(t, ref.ByteSize, int64(0))

	got, err := s.ReadResultFrame(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, 3, got.RowCount)
	// Declared column order survives the alphabetical parquet schema.
	assert.Equal(t, []string{"region", "orders", "revenue", "active", "seen_at"}, got.ColumnNames())
	assert.Equal(t, "EU", got.Rows[0][0])
	assert.Equal(t, int64(3), got.Rows[0][1])
	assert.Equal(t, 42.5, got.Rows[0][2])
	assert.Equal(t, true, got.Rows[0][3])
	assert.Nil(t, got.Rows[1][4])
	assert.Nil(t, got.Rows[2][0])
}

func TestWriteRejectsFailedFrames(t *testing.T) {
	s := testStore(t)
	_, err := s.WriteResultFrame(context.Background(), &types.ResultFrame{Success: false}, testKey())
	assert.Error(t, err)
	_, err = s.WriteResultFrame(context.Background(), nil, testKey())
	assert.Error(t, err)
}

func TestContentHashIsStableAcrossRewrites(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ref1, err := s.WriteResultFrame(ctx, testFrame(), testKey())
	require.NoError(t, err)
	ref2, err := s.WriteResultFrame(ctx, testFrame(), testKey())
	require.NoError(t, err)

	assert.Equal(t, ref1.ContentHash, ref2.ContentHash)
	assert.Equal(t, ref1.URI, ref2.URI)

	changed := testFrame()
	changed.Rows[0][2] = 43.0
	ref3, err := s.WriteResultFrame(ctx, changed, testKey())
	require.NoError(t, err)
	assert.NotEqual(t, ref1.ContentHash, ref3.ContentHash)
}

func TestPathForSubstitutesAndSanitizes(t *testing.T) {
	s := testStore(t)
	key := testKey()
	assert.Equal(t, "acme/req-1/sg_revenue/scan_1/sv-abc/part-00000.parquet", s.PathFor(key))

	key.TenantID = "a/b c"
	key.SchemaVersion = ""
	assert.Equal(t, "a_b_c/req-1/sg_revenue/scan_1/_/part-00000.parquet", s.PathFor(key))
}

func TestReadRejectsForeignURI(t *testing.T) {
	s := testStore(t)
	_, err := s.ReadResultFrame(context.Background(), &types.ArtifactRef{URI: "s3://other/path"})
	assert.Error(t, err)
	_, err = s.ReadResultFrame(context.Background(), nil)
	assert.Error(t, err)
}

func TestByteCellsRoundTripAsText(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	frame := &types.ResultFrame{
		Success: true,
		Columns: []types.ColumnSpec{{Name: "note", Type: "string"}},
		Rows:    [][]any{{[]byte("hi")}},
	}
	ref, err := s.WriteResultFrame(ctx, frame, testKey())
	require.NoError(t, err)

	got, err := s.ReadResultFrame(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Rows[0][0])
}

func TestWriteRejectsUnhandledCellType(t *testing.T) {
	s := testStore(t)
	frame := &types.ResultFrame{
		Success: true,
		Columns: []types.ColumnSpec{{Name: "blob", Type: "string"}},
		Rows:    [][]any{{struct{ X int }{1}}},
	}
	_, err := s.WriteResultFrame(context.Background(), frame, testKey())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blob")
}

func TestEmptyFrameRoundTrips(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	frame := &types.ResultFrame{
		Success: true,
		Columns: []types.ColumnSpec{{Name: "x", Type: "integer"}},
	}
	ref, err := s.WriteResultFrame(ctx, frame, testKey())
	require.NoError(t, err)

	got, err := s.ReadResultFrame(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RowCount)
	assert.Equal(t, []string{"x"}, got.ColumnNames())
}
