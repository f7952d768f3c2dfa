// Package schema holds canonical schema snapshots and the versioned store
// that retains them. A version is a stable fingerprint of the contract, so
// identical contracts de-duplicate to the same version regardless of when or
// how often they are registered.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Cardinality types a foreign-key relationship.
type Cardinality string

const (
	OneToOne   Cardinality = "one_to_one"
	OneToMany  Cardinality = "one_to_many"
	ManyToOne  Cardinality = "many_to_one"
	ManyToMany Cardinality = "many_to_many"
)

// Column is one column of a table contract.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
}

// ForeignKey relates a column to another table in the same contract.
type ForeignKey struct {
	Column      string      `json:"column"`
	RefTable    string      `json:"ref_table"`
	RefColumn   string      `json:"ref_column"`
	Cardinality Cardinality `json:"cardinality"`
}

// TableContract is one fully-qualified table ("schema.table") with its
// columns and outgoing foreign keys.
type TableContract struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
}

// Column returns the named column, matched case-insensitively.
func (t *TableContract) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// Contract is the ordered table list of one datasource snapshot.
type Contract []TableContract

// Table returns the named table contract.
func (c Contract) Table(name string) (*TableContract, bool) {
	for i := range c {
		if strings.EqualFold(c[i].Name, name) {
			return &c[i], true
		}
	}
	return nil, false
}

// ColumnMetadata carries descriptive metadata used for retrieval and planning.
type ColumnMetadata struct {
	Description string         `json:"description,omitempty"`
	Synonyms    []string       `json:"synonyms,omitempty"`
	PII         bool           `json:"pii,omitempty"`
	Stats       map[string]any `json:"stats,omitempty"`
}

// TableMetadata carries per-table descriptive metadata.
type TableMetadata struct {
	Description string                    `json:"description,omitempty"`
	RowCount    int64                     `json:"row_count,omitempty"`
	Columns     map[string]ColumnMetadata `json:"columns,omitempty"`
}

// Metadata is the descriptive half of a snapshot. It is deliberately excluded
// from the version fingerprint: statistics churn must not invalidate plans.
type Metadata struct {
	Description string                   `json:"description,omitempty"`
	Tables      map[string]TableMetadata `json:"tables,omitempty"`
}

// Snapshot is one canonical (contract, metadata) pair for a datasource.
type Snapshot struct {
	DatasourceID string   `json:"datasource_id"`
	Contract     Contract `json:"contract"`
	Metadata     Metadata `json:"metadata"`
}

// Validate checks the snapshot invariants: unique column names per table and
// foreign keys referencing tables present in the contract.
func (s *Snapshot) Validate() error {
	if s.DatasourceID == "" {
		return fmt.Errorf("snapshot has no datasource id")
	}
	names := make(map[string]bool, len(s.Contract))
	for _, t := range s.Contract {
		if names[strings.ToLower(t.Name)] {
			return fmt.Errorf("duplicate table %q in contract", t.Name)
		}
		names[strings.ToLower(t.Name)] = true

		cols := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			key := strings.ToLower(c.Name)
			if cols[key] {
				return fmt.Errorf("table %q: duplicate column %q", t.Name, c.Name)
			}
			cols[key] = true
		}
	}
	for _, t := range s.Contract {
		for _, fk := range t.ForeignKeys {
			if _, ok := s.Contract.Table(fk.RefTable); !ok {
				return fmt.Errorf("table %q: foreign key references unknown table %q", t.Name, fk.RefTable)
			}
		}
	}
	return nil
}

// Fingerprint computes the stable version of a contract. Only the contract
// participates: identical contracts yield identical versions.
func Fingerprint(c Contract) string {
	data, err := json.Marshal(c)
	if err != nil {
		// Contract is plain data; marshal cannot fail in practice.
		data = []byte(fmt.Sprintf("%v", c))
	}
	sum := sha256.Sum256(data)
	return "sv-" + hex.EncodeToString(sum[:8])
}
