package schema

import (
	"context"
	"fmt"
	"sync"

	"queryloom/internal/logging"
)

// Store is the versioned snapshot store. Writes happen only during indexing;
// planning and validation read. At most maxVersions versions are retained per
// datasource, oldest evicted first.
type Store interface {
	// RegisterSnapshot computes the contract fingerprint, de-duplicates, and
	// returns the version plus any versions evicted by retention.
	RegisterSnapshot(ctx context.Context, snapshot *Snapshot) (version string, evicted []string, err error)
	GetLatestVersion(ctx context.Context, datasourceID string) (string, error)
	ListVersions(ctx context.Context, datasourceID string) ([]string, error)
	GetSnapshot(ctx context.Context, datasourceID, version string) (*Snapshot, error)
	GetTableContract(ctx context.Context, datasourceID, version, table string) (*TableContract, error)
	GetTableMetadata(ctx context.Context, datasourceID, version, table string) (*TableMetadata, error)
}

// ErrNotFound is returned for unknown datasources, versions or tables.
type ErrNotFound struct {
	What string
}

func (e ErrNotFound) Error() string { return e.What + " not found" }

// NotFound builds an ErrNotFound.
func NotFound(format string, args ...any) ErrNotFound {
	return ErrNotFound{What: fmt.Sprintf(format, args...)}
}

// =============================================================================
// IN-MEMORY STORE
// =============================================================================

type versionEntry struct {
	version  string
	snapshot *Snapshot
}

// MemoryStore keeps versions ordered per datasource, newest last.
type MemoryStore struct {
	mu          sync.RWMutex
	maxVersions int
	byDS        map[string][]versionEntry
}

// NewMemoryStore creates a store retaining up to maxVersions per datasource.
func NewMemoryStore(maxVersions int) *MemoryStore {
	if maxVersions <= 0 {
		maxVersions = 3
	}
	return &MemoryStore{maxVersions: maxVersions, byDS: make(map[string][]versionEntry)}
}

// RegisterSnapshot implements Store.
func (m *MemoryStore) RegisterSnapshot(_ context.Context, snapshot *Snapshot) (string, []string, error) {
	if err := snapshot.Validate(); err != nil {
		return "", nil, err
	}
	version := Fingerprint(snapshot.Contract)

	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.byDS[snapshot.DatasourceID]
	for _, e := range entries {
		if e.version == version {
			// Identical contract: same version, nothing evicted.
			return version, nil, nil
		}
	}

	entries = append(entries, versionEntry{version: version, snapshot: cloneSnapshot(snapshot)})
	var evicted []string
	for len(entries) > m.maxVersions {
		evicted = append(evicted, entries[0].version)
		entries = entries[1:]
	}
	m.byDS[snapshot.DatasourceID] = entries

	if len(evicted) > 0 {
		logging.Get(logging.CategorySchema).Infof("datasource %s: registered %s, evicted %v",
			snapshot.DatasourceID, version, evicted)
	}
	return version, evicted, nil
}

// GetLatestVersion implements Store.
func (m *MemoryStore) GetLatestVersion(_ context.Context, datasourceID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.byDS[datasourceID]
	if len(entries) == 0 {
		return "", NotFound("datasource %q", datasourceID)
	}
	return entries[len(entries)-1].version, nil
}

// ListVersions implements Store, oldest first.
func (m *MemoryStore) ListVersions(_ context.Context, datasourceID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.byDS[datasourceID]
	if len(entries) == 0 {
		return nil, NotFound("datasource %q", datasourceID)
	}
	versions := make([]string, len(entries))
	for i, e := range entries {
		versions[i] = e.version
	}
	return versions, nil
}

// GetSnapshot implements Store.
func (m *MemoryStore) GetSnapshot(_ context.Context, datasourceID, version string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.byDS[datasourceID] {
		if e.version == version {
			return cloneSnapshot(e.snapshot), nil
		}
	}
	return nil, NotFound("snapshot %s@%s", datasourceID, version)
}

// GetTableContract implements Store.
func (m *MemoryStore) GetTableContract(ctx context.Context, datasourceID, version, table string) (*TableContract, error) {
	snap, err := m.GetSnapshot(ctx, datasourceID, version)
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
func (m *MemoryStore) GetTableMetadata(ctx context.Context, datasourceID, version, table string) (*TableMetadata, error) {
	snap, err := m.GetSnapshot(ctx, datasourceID, version)
	if err != nil {
		return nil, err
	}
	meta, ok := snap.Metadata.Tables[table]
	if !ok {
		return nil, NotFound("metadata for table %q in %s@%s", table, datasourceID, version)
	}
	return &meta, nil
}

// cloneSnapshot guards stored snapshots against caller mutation.
func cloneSnapshot(s *Snapshot) *Snapshot {
	out := &Snapshot{DatasourceID: s.DatasourceID}
	out.Contract = make(Contract, len(s.Contract))
	copy(out.Contract, s.Contract)
	out.Metadata = Metadata{Description: s.Metadata.Description}
	if s.Metadata.Tables != nil {
		out.Metadata.Tables = make(map[string]TableMetadata, len(s.Metadata.Tables))
		for k, v := range s.Metadata.Tables {
			out.Metadata.Tables[k] = v
		}
	}
	return out
}
