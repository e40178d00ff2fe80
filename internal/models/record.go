package models

import "time"

// CollectionRecord is the catalog entry for a collection (one per website).
// SourceURL or DocumentsDir names the upstream content used for lazy builds.
type CollectionRecord struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	SourceURL    string     `json:"source_url,omitempty"`
	DocumentsDir string     `json:"documents_dir,omitempty"`
	Status       IndexState `json:"status"`
	ChunkCount   int        `json:"chunk_count"`
	Dimension    int        `json:"dimension"`
	SourceDigest string     `json:"source_digest,omitempty"`
	IndexedAt    *time.Time `json:"indexed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HasSource reports whether the record names any upstream content.
func (r *CollectionRecord) HasSource() bool {
	return r.SourceURL != "" || r.DocumentsDir != ""
}

// CollectionInput is the input for registering or updating a collection.
// Documents, when present, are indexed directly instead of fetching the source.
type CollectionInput struct {
	Title        string   `json:"title,omitempty"`
	SourceURL    string   `json:"source_url,omitempty"`
	DocumentsDir string   `json:"documents_dir,omitempty"`
	Documents    []string `json:"documents,omitempty"`
}

// Chat is one question/answer exchange against a collection.
type Chat struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collection_id"`
	Query        string    `json:"query"`
	Prompt       string    `json:"prompt"`
	Response     string    `json:"response"`
	CreatedAt    time.Time `json:"created_at"`
}
