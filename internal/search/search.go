// Package search indexes drafts in Meilisearch and falls back to Postgres
// full-text search when Meilisearch is unavailable.
package search

import "context"

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	Owner      string `json:"owner"`
	DocumentID string `json:"documentId,omitempty"`
	Language   string `json:"language,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Owner  string // empty = every owner
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push drafts into a search index.
type Indexer interface {
	Healthy() bool
	IndexDrafts(records []DraftRecord) error
	DeleteDraft(id string) error
}

// DraftRecord is the data we index for a draft.
type DraftRecord struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Contract   string `json:"contract"`
	Summary    string `json:"summary"`
	Owner      string `json:"owner"`
	Language   string `json:"language"`
	DocumentID string `json:"documentId"`
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}
