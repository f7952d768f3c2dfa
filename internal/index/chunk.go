// Package index is the embedding-backed retrieval store over schema chunks.
// Chunks are rewritten atomically per schema version; retrieval narrows by
// chunk type, datasource and table set.
package index

import (
	"fmt"
	"strings"

	"queryloom/internal/schema"
)

// ChunkType tags what a chunk describes.
type ChunkType string

const (
	ChunkDatasource   ChunkType = "datasource"
	ChunkTable        ChunkType = "table"
	ChunkColumn       ChunkType = "column"
	ChunkRelationship ChunkType = "relationship"
	ChunkExample      ChunkType = "example"
)

// Chunk is one embeddable unit of schema knowledge. IDs are deterministic in
// (datasource, version, type, subject) so a re-registration of the same
// contract produces identical chunks.
type Chunk struct {
	ID            string    `json:"id"`
	Type          ChunkType `json:"type"`
	DatasourceID  string    `json:"datasource_id"`
	SchemaVersion string    `json:"schema_version"`
	Table         string    `json:"table,omitempty"`
	Column        string    `json:"column,omitempty"`
	Text          string    `json:"text"`
}

func chunkID(datasourceID, version string, t ChunkType, subject string) string {
	if subject == "" {
		return fmt.Sprintf("%s@%s/%s", datasourceID, version, t)
	}
	return fmt.Sprintf("%s@%s/%s/%s", datasourceID, version, t, subject)
}

// BuildChunks derives the chunk set for a registered snapshot. Examples are
// optional curated example questions for the datasource.
func BuildChunks(snap *schema.Snapshot, version string, examples []string) []Chunk {
	var chunks []Chunk
	ds := snap.DatasourceID

	dsText := fmt.Sprintf("Datasource %s", ds)
	if snap.Metadata.Description != "" {
		dsText += ": " + snap.Metadata.Description
	}
	var tableNames []string
	for _, t := range snap.Contract {
		tableNames = append(tableNames, t.Name)
	}
	if len(tableNames) > 0 {
		dsText += ". Tables: " + strings.Join(tableNames, ", ")
	}
	chunks = append(chunks, Chunk{
		ID:            chunkID(ds, version, ChunkDatasource, ""),
		Type:          ChunkDatasource,
		DatasourceID:  ds,
		SchemaVersion: version,
		Text:          dsText,
	})

	for _, t := range snap.Contract {
		meta := snap.Metadata.Tables[t.Name]

		var cols []string
		for _, c := range t.Columns {
			cols = append(cols, c.Name+" "+c.Type)
		}
		tableText := fmt.Sprintf("Table %s (%s)", t.Name, strings.Join(cols, ", "))
		if meta.Description != "" {
			tableText += ". " + meta.Description
		}
		chunks = append(chunks, Chunk{
			ID:            chunkID(ds, version, ChunkTable, t.Name),
			Type:          ChunkTable,
			DatasourceID:  ds,
			SchemaVersion: version,
			Table:         t.Name,
			Text:          tableText,
		})

		for _, c := range t.Columns {
			colText := fmt.Sprintf("Column %s.%s type %s", t.Name, c.Name, c.Type)
			if cm, ok := meta.Columns[c.Name]; ok {
				if cm.Description != "" {
					colText += ". " + cm.Description
				}
				if len(cm.Synonyms) > 0 {
					colText += ". Also known as: " + strings.Join(cm.Synonyms, ", ")
				}
			}
			chunks = append(chunks, Chunk{
				ID:            chunkID(ds, version, ChunkColumn, t.Name+"."+c.Name),
				Type:          ChunkColumn,
				DatasourceID:  ds,
				SchemaVersion: version,
				Table:         t.Name,
				Column:        c.Name,
				Text:          colText,
			})
		}

		for _, fk := range t.ForeignKeys {
			relText := fmt.Sprintf("Relationship: %s.%s references %s.%s (%s)",
				t.Name, fk.Column, fk.RefTable, fk.RefColumn, fk.Cardinality)
			chunks = append(chunks, Chunk{
				ID:            chunkID(ds, version, ChunkRelationship, t.Name+"."+fk.Column),
				Type:          ChunkRelationship,
				DatasourceID:  ds,
				SchemaVersion: version,
				Table:         t.Name,
				Column:        fk.Column,
				Text:          relText,
			})
		}
	}

	for i, ex := range examples {
		chunks = append(chunks, Chunk{
			ID:            chunkID(ds, version, ChunkExample, fmt.Sprintf("%04d", i)),
			Type:          ChunkExample,
			DatasourceID:  ds,
			SchemaVersion: version,
			Text:          ex,
		})
	}
	return chunks
}
