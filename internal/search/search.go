// Package search indexes session utterances and answers full-text queries,
// preferring Meilisearch and falling back to PostgreSQL FTS.
package search

import "time"

// Result is a single search hit returned to the caller.
type Result struct {
	UtteranceID string    `json:"utterance_id"`
	SessionKey  string    `json:"session_key"`
	UserID      string    `json:"user_id,omitempty"`
	Snippet     string    `json:"snippet"`
	CreatedAt   time.Time `json:"created_at"`
}

// Query describes a search request.
type Query struct {
	Text             string
	FilterSessionKey string // empty = all sessions
	Limit            int
	Offset           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over utterances.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// UtteranceRecord is the data we index per utterance.
type UtteranceRecord struct {
	ID         string `json:"id"`
	SessionKey string `json:"sessionKey"`
	UserID     string `json:"userId"`
	Text       string `json:"text"`
	CreatedAt  int64  `json:"createdAt"`
}
