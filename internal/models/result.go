package models

import "strings"

// Hit is a single retrieval hit: the chunk text and its squared L2 distance to the query.
type Hit struct {
	ChunkID  int     `json:"chunk_id"`
	Text     string  `json:"text"`
	Distance float32 `json:"distance"`
}

// RetrievalResult holds at most k hits ordered by ascending distance (most similar first).
type RetrievalResult []Hit

// Texts returns the chunk texts in rank order.
func (r RetrievalResult) Texts() []string {
	out := make([]string, len(r))
	for i, h := range r {
		out[i] = h.Text
	}
	return out
}

// Context joins the hit texts into the single context string handed to answer generation.
func (r RetrievalResult) Context() string {
	return strings.Join(r.Texts(), "\n\n")
}

// QueryRequest is the body of a retrieval or ask request.
type QueryRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

// QueryResponse is the response for a retrieval request.
type QueryResponse struct {
	CollectionID string          `json:"collection_id"`
	Query        string          `json:"query"`
	Results      RetrievalResult `json:"results"`
	QueryTime    int64           `json:"query_time_ms"`
}

// AskResponse is the response for an ask request (retrieval plus generated answer).
type AskResponse struct {
	QueryResponse
	ChatID string `json:"chat_id,omitempty"`
	Answer string `json:"answer"`
}
