package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a tsquery match over utterances with ts_headline snippets.
// The expression mirrors the GIN index on to_tsvector('simple', text).
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "to_tsvector('simple', u.text) @@ plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	if q.FilterSessionKey != "" {
		where += " AND u.session_key = $2"
		args = append(args, q.FilterSessionKey)
	}

	countSQL := fmt.Sprintf(`SELECT count(*) FROM utterances u WHERE %s`, where)

	dataSQL := fmt.Sprintf(`
		SELECT u.utterance_id, u.session_key, coalesce(u.user_id, ''),
			ts_headline('simple', u.text, plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			u.created_at
		FROM utterances u
		WHERE %s
		ORDER BY ts_rank(to_tsvector('simple', u.text), plainto_tsquery('simple', $1)) DESC, u.created_at DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.UtteranceID, &r.SessionKey, &r.UserID, &r.Snippet, &r.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every utterance for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]UtteranceRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT utterance_id, session_key, coalesce(user_id, ''), text, created_at
		FROM utterances
	`)
	if err != nil {
		return nil, fmt.Errorf("load utterances: %w", err)
	}
	defer rows.Close()

	records := make([]UtteranceRecord, 0)
	for rows.Next() {
		var (
			r         UtteranceRecord
			createdAt sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.SessionKey, &r.UserID, &r.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan utterance: %w", err)
		}
		if createdAt.Valid {
			r.CreatedAt = createdAt.Time.UnixMilli()
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate utterances: %w", err)
	}
	return records, nil
}
