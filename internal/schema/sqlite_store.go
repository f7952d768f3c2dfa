package schema

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"queryloom/internal/logging"
)

// SQLiteStore is the file-backed Store. Observable behavior matches
// MemoryStore exactly; the embedded database only adds durability.
type SQLiteStore struct {
	mu          sync.RWMutex
	db          *sql.DB
	maxVersions int
}

// NewSQLiteStore opens (or creates) the store at path.
func NewSQLiteStore(path string, maxVersions int) (*SQLiteStore, error) {
	if maxVersions <= 0 {
		maxVersions = 3
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating schema store directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening schema store: %w", err)
	}
	s := &SQLiteStore{db: db, maxVersions: maxVersions}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Get(logging.CategorySchema).Infof("sqlite schema store open at %s (max_versions=%d)", path, maxVersions)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_snapshots (
			datasource_id TEXT NOT NULL,
			version       TEXT NOT NULL,
			seq           INTEGER NOT NULL,
			contract      TEXT NOT NULL,
			metadata      TEXT NOT NULL,
			created_at    TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (datasource_id, version)
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_seq ON schema_snapshots(datasource_id, seq);
	`)
	if err != nil {
		return fmt.Errorf("migrating schema store: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// RegisterSnapshot implements Store.
func (s *SQLiteStore) RegisterSnapshot(ctx context.Context, snapshot *Snapshot) (string, []string, error) {
	if err := snapshot.Validate(); err != nil {
		return "", nil, err
	}
	version := Fingerprint(snapshot.Contract)

	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schema_snapshots WHERE datasource_id = ? AND version = ?`,
		snapshot.DatasourceID, version).Scan(&exists)
	if err != nil {
		return "", nil, fmt.Errorf("checking snapshot: %w", err)
	}
	if exists > 0 {
		return version, nil, nil
	}

	contractJSON, err := json.Marshal(snapshot.Contract)
	if err != nil {
		return "", nil, fmt.Errorf("encoding contract: %w", err)
	}
	metadataJSON, err := json.Marshal(snapshot.Metadata)
	if err != nil {
		return "", nil, fmt.Errorf("encoding metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, fmt.Errorf("begin register: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM schema_snapshots WHERE datasource_id = ?`,
		snapshot.DatasourceID).Scan(&maxSeq); err != nil {
		return "", nil, fmt.Errorf("reading sequence: %w", err)
	}
	seq := maxSeq.Int64 + 1

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_snapshots (datasource_id, version, seq, contract, metadata) VALUES (?, ?, ?, ?, ?)`,
		snapshot.DatasourceID, version, seq, string(contractJSON), string(metadataJSON)); err != nil {
		return "", nil, fmt.Errorf("inserting snapshot: %w", err)
	}

	// Evict oldest beyond retention.
	rows, err := tx.QueryContext(ctx,
		`SELECT version FROM schema_snapshots WHERE datasource_id = ? ORDER BY seq ASC`,
		snapshot.DatasourceID)
	if err != nil {
		return "", nil, fmt.Errorf("listing versions: %w", err)
	}
	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return "", nil, err
		}
		versions = append(versions, v)
	}
	rows.Close()

	var evicted []string
	for len(versions) > s.maxVersions {
		old := versions[0]
		versions = versions[1:]
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM schema_snapshots WHERE datasource_id = ? AND version = ?`,
			snapshot.DatasourceID, old); err != nil {
			return "", nil, fmt.Errorf("evicting version %s: %w", old, err)
		}
		evicted = append(evicted, old)
	}

	if err := tx.Commit(); err != nil {
		return "", nil, fmt.Errorf("commit register: %w", err)
	}
	return version, evicted, nil
}

// GetLatestVersion implements Store.
func (s *SQLiteStore) GetLatestVersion(ctx context.Context, datasourceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var version string
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM schema_snapshots WHERE datasource_id = ? ORDER BY seq DESC LIMIT 1`,
		datasourceID).Scan(&version)
	if err == sql.ErrNoRows {
		return "", NotFound("datasource %q", datasourceID)
	}
	if err != nil {
		return "", err
	}
	return version, nil
}

// ListVersions implements Store, oldest first.
func (s *SQLiteStore) ListVersions(ctx context.Context, datasourceID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT version FROM schema_snapshots WHERE datasource_id = ? ORDER BY seq ASC`,
		datasourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	if len(versions) == 0 {
		return nil, NotFound("datasource %q", datasourceID)
	}
	return versions, nil
}

// GetSnapshot implements Store.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, datasourceID, version string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var contractJSON, metadataJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT contract, metadata FROM schema_snapshots WHERE datasource_id = ? AND version = ?`,
		datasourceID, version).Scan(&contractJSON, &metadataJSON)
	if err == sql.ErrNoRows {
		return nil, NotFound("snapshot %s@%s", datasourceID, version)
	}
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{DatasourceID: datasourceID}
	if err := json.Unmarshal([]byte(contractJSON), &snap.Contract); err != nil {
		return nil, fmt.Errorf("decoding contract: %w", err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &snap.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return snap, nil
}

// GetTableContract implements Store.
func (s *SQLiteStore) GetTableContract(ctx context.Context, datasourceID, version, table string) (*TableContract, error) {
	snap, err := s.GetSnapshot(ctx, datasourceID, version)
	if err != nil {
		return nil, err
	}
	t, ok := snap.Contract.Table(table)
	if !ok {
		return nil, NotFound("table %q in %s@%s", table, datasourceID, version)
	}
	return t, nil
}

// GetTableMetadata implements Store.
func (s *SQLiteStore) GetTableMetadata(ctx context.Context, datasourceID, version, table string) (*TableMetadata, error) {
	snap, err := s.GetSnapshot(ctx, datasourceID, version)
	if err != nil {
		return nil, err
	}
	meta, ok := snap.Metadata.Tables[table]
	if !ok {
		return nil, NotFound("metadata for table %q in %s@%s", table, datasourceID, version)
	}
	return &meta, nil
}
