package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mindweave/api/internal/engine"
	"mindweave/api/internal/graph"
	"mindweave/api/internal/history"
	"mindweave/api/internal/search"
	"mindweave/api/internal/store"
)

type dataStore interface {
	Ping(ctx context.Context) error
	ListUtterances(ctx context.Context, sessionKey string) ([]store.Utterance, error)
	ListVersions(ctx context.Context, sessionKey string) ([]store.GraphVersion, error)
	LatestSnapshot(ctx context.Context, sessionKey string) (*store.GraphVersion, []byte, error)
}

type ingestor interface {
	Ingest(ctx context.Context, req engine.IngestRequest) (graph.Projection, error)
}

type searcher interface {
	Search(q search.Query) search.Response
}

type historian interface {
	History(sessionKey string, limit int) ([]history.CommitInfo, error)
}

type snapshotCache interface {
	Get(ctx context.Context, sessionKey string) ([]byte, error)
}

// Service holds the request-facing operations. search, historian, and cache
// are optional; the corresponding endpoints degrade when they are nil.
type Service struct {
	store     dataStore
	engine    ingestor
	search    searcher
	historian historian
	cache     snapshotCache
}

func NewService(st dataStore, eng ingestor, srch searcher, hist historian, c snapshotCache) *Service {
	return &Service{
		store:     st,
		engine:    eng,
		search:    srch,
		historian: hist,
		cache:     c,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// IngestUtterance validates and runs one utterance through the engine.
func (s *Service) IngestUtterance(ctx context.Context, sessionKey string, userID *string, text string, createdAt time.Time) (graph.Projection, error) {
	if strings.TrimSpace(sessionKey) == "" {
		return graph.Projection{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "session_key is required", nil)
	}
	if strings.TrimSpace(text) == "" {
		return graph.Projection{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text must not be empty", nil)
	}
	return s.engine.Ingest(ctx, engine.IngestRequest{
		SessionKey: sessionKey,
		UserID:     userID,
		Text:       text,
		CreatedAt:  createdAt,
	})
}

// LatestGraph returns the viewer projection of a session's newest version,
// serving from the cache when possible.
func (s *Service) LatestGraph(ctx context.Context, sessionKey string) (json.RawMessage, error) {
	if s.cache != nil {
		if doc, err := s.cache.Get(ctx, sessionKey); err == nil {
			return doc, nil
		}
		// Cache miss and cache failure both fall through to the store.
	}

	version, state, err := s.store.LatestSnapshot(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if version == nil || state == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "no graph for this session", nil)
	}

	var merged graph.State
	if err := json.Unmarshal(state, &merged); err != nil {
		return nil, fmt.Errorf("decode stored state: %w", err)
	}
	doc, err := json.Marshal(graph.Project(merged))
	if err != nil {
		return nil, fmt.Errorf("marshal projection: %w", err)
	}
	return doc, nil
}

// VersionInfo is one row of the version listing.
type VersionInfo struct {
	VersionID string    `json:"graph_version_id"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Service) Versions(ctx context.Context, sessionKey string) ([]VersionInfo, error) {
	versions, err := s.store.ListVersions(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	items := make([]VersionInfo, 0, len(versions))
	for _, v := range versions {
		items = append(items, VersionInfo{VersionID: v.ID, Version: v.Version, CreatedAt: v.CreatedAt})
	}
	return items, nil
}

// UtteranceInfo is one row of the utterance listing.
type UtteranceInfo struct {
	UtteranceID string    `json:"utterance_id"`
	SessionKey  string    `json:"session_key"`
	UserID      *string   `json:"user_id,omitempty"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Service) Utterances(ctx context.Context, sessionKey string) ([]UtteranceInfo, error) {
	utterances, err := s.store.ListUtterances(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	items := make([]UtteranceInfo, 0, len(utterances))
	for _, u := range utterances {
		items = append(items, UtteranceInfo{
			UtteranceID: u.ID,
			SessionKey:  u.SessionKey,
			UserID:      u.UserID,
			Text:        u.Text,
			CreatedAt:   u.CreatedAt,
		})
	}
	return items, nil
}

func (s *Service) History(sessionKey string, limit int) ([]history.CommitInfo, error) {
	if s.historian == nil {
		return []history.CommitInfo{}, nil
	}
	return s.historian.History(sessionKey, limit)
}

func (s *Service) Search(q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	return s.search.Search(q), nil
}
