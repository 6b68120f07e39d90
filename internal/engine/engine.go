// Package engine runs the ingest pipeline: serialize per session, save the
// utterance, generate a skeleton, merge it into the previous state, persist
// the new version, and hand the result to the background fan-out path.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"mindweave/api/internal/graph"
	"mindweave/api/internal/history"
	"mindweave/api/internal/search"
	"mindweave/api/internal/store"
)

// Event names pushed to graph viewers.
const (
	EventKeywordUpdate = "keyword_update"
	EventImageUpdate   = "image_update"
)

// Event is the payload broadcast to a session's graph room.
type Event struct {
	Event      string           `json:"event"`
	CoreImgURL string           `json:"core_img_url,omitempty"`
	GraphState graph.Projection `json:"graph_state"`
}

// Store is the persistence surface the engine needs.
type Store interface {
	InsertUtterance(ctx context.Context, u store.Utterance) error
	LatestSnapshot(ctx context.Context, sessionKey string) (*store.GraphVersion, []byte, error)
	PersistSnapshot(ctx context.Context, sessionKey, versionID string, state []byte) (int, error)
}

// Generator produces graph skeletons and optional cover images.
type Generator interface {
	GenerateSkeleton(ctx context.Context, utterance string, prev *graph.State) (graph.Skeleton, error)
	GenerateCoverImage(ctx context.Context, prompt string) ([]byte, error)
}

// Broadcaster fans events out to a session's viewers.
type Broadcaster interface {
	Broadcast(roomKey string, payload any)
}

// SnapshotCache keeps the latest projection per session for the read path.
type SnapshotCache interface {
	Set(ctx context.Context, sessionKey string, doc []byte) error
}

// Historian records each persisted snapshot in the session's audit repo.
type Historian interface {
	CommitSnapshot(sessionKey string, version int, versionID string, state []byte) (history.CommitInfo, error)
}

// Indexer pushes utterances into the search index.
type Indexer interface {
	IndexUtterance(u search.UtteranceRecord)
}

// Media stores cover image bytes and returns a public URL.
type Media interface {
	UploadPNG(ctx context.Context, data []byte) (string, error)
}

// IngestRequest is one utterance turn for a session.
type IngestRequest struct {
	SessionKey string
	UserID     *string
	Text       string
	CreatedAt  time.Time
}

// Engine owns the per-session serializer and the ingest pipeline.
// cache, historian, indexer, and media may be nil; the pipeline skips them.
type Engine struct {
	serializer *Serializer
	store      Store
	generator  Generator
	graphHub   Broadcaster

	cache       SnapshotCache
	historian   Historian
	indexer     Indexer
	media       Media
	coverImages bool
}

type Option func(*Engine)

func WithCache(c SnapshotCache) Option { return func(e *Engine) { e.cache = c } }
func WithHistorian(h Historian) Option { return func(e *Engine) { e.historian = h } }
func WithIndexer(i Indexer) Option     { return func(e *Engine) { e.indexer = i } }
func WithCoverImages(m Media) Option {
	return func(e *Engine) {
		e.media = m
		e.coverImages = true
	}
}

func New(st Store, gen Generator, graphHub Broadcaster, idleTTL time.Duration, opts ...Option) *Engine {
	e := &Engine{
		serializer: NewSerializer(idleTTL),
		store:      st,
		generator:  gen,
		graphHub:   graphHub,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// turnTimeout bounds one detached pipeline turn. It has to outlast the
// generator's own HTTP timeout.
const turnTimeout = 2 * time.Minute

// Ingest runs one utterance through the pipeline and returns the viewer
// projection of the merged state. The turn is serialized per session key and
// the snapshot is persisted before the turn ends, so the next turn for the
// same session always merges against it. History, cache, and broadcast happen
// in the background after the response; their failures are logged and never
// reach the caller.
func (e *Engine) Ingest(ctx context.Context, req IngestRequest) (graph.Projection, error) {
	var (
		projection graph.Projection
		turnErr    error
	)
	err := e.serializer.Do(ctx, req.SessionKey, func() {
		// Only the wait above is bound to the caller. The turn itself runs
		// detached so a client disconnect cannot abort a pipeline that is
		// already in flight.
		turnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), turnTimeout)
		defer cancel()
		projection, turnErr = e.turn(turnCtx, req)
	})
	if err != nil {
		return graph.Projection{}, err
	}
	return projection, turnErr
}

func (e *Engine) turn(ctx context.Context, req IngestRequest) (graph.Projection, error) {
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	} else {
		createdAt = createdAt.UTC()
	}

	utterance := store.Utterance{
		ID:         uuid.NewString(),
		SessionKey: req.SessionKey,
		UserID:     req.UserID,
		Text:       req.Text,
		CreatedAt:  createdAt,
	}
	if err := e.store.InsertUtterance(ctx, utterance); err != nil {
		return graph.Projection{}, fmt.Errorf("save utterance: %w", err)
	}
	if e.indexer != nil {
		record := search.UtteranceRecord{
			ID:         utterance.ID,
			SessionKey: utterance.SessionKey,
			Text:       utterance.Text,
			CreatedAt:  utterance.CreatedAt.UnixMilli(),
		}
		if utterance.UserID != nil {
			record.UserID = *utterance.UserID
		}
		e.indexer.IndexUtterance(record)
	}

	prev, err := e.loadPrevState(ctx, req.SessionKey)
	if err != nil {
		return graph.Projection{}, err
	}

	// The utterance above stays saved even when generation fails.
	skeleton, err := e.generator.GenerateSkeleton(ctx, req.Text, prev)
	if err != nil {
		return graph.Projection{}, err
	}

	merged := graph.Merge(skeleton, prev)
	stateJSON, err := json.Marshal(merged)
	if err != nil {
		return graph.Projection{}, fmt.Errorf("marshal merged state: %w", err)
	}

	// Persist inside the serialized turn. The next turn for this session
	// reads LatestSnapshot, so the write has to land before this turn ends.
	version, err := e.store.PersistSnapshot(ctx, req.SessionKey, merged.VersionID, stateJSON)
	if err != nil {
		return graph.Projection{}, fmt.Errorf("persist snapshot: %w", err)
	}

	newRoot := prev == nil || prev.RootNode != merged.RootNode
	go e.finish(req.SessionKey, version, merged, stateJSON, newRoot)

	return graph.Project(merged), nil
}

func (e *Engine) loadPrevState(ctx context.Context, sessionKey string) (*graph.State, error) {
	_, raw, err := e.store.LatestSnapshot(ctx, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("load previous state: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var prev graph.State
	if err := json.Unmarshal(raw, &prev); err != nil {
		return nil, fmt.Errorf("decode previous state: %w", err)
	}
	return &prev, nil
}

// finish is the background half of a turn, run only for a snapshot that was
// durably written: record it in the history repo, refresh the cache, and
// broadcast to viewers. Every failure here is logged and dropped.
func (e *Engine) finish(sessionKey string, version int, merged graph.State, stateJSON []byte, newRoot bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if e.historian != nil {
		if _, err := e.historian.CommitSnapshot(sessionKey, version, merged.VersionID, stateJSON); err != nil {
			log.Printf("engine: history commit for session %s: %v", sessionKey, err)
		}
	}

	projection := graph.Project(merged)
	if e.cache != nil {
		doc, err := json.Marshal(projection)
		if err != nil {
			log.Printf("engine: marshal projection for session %s: %v", sessionKey, err)
		} else if err := e.cache.Set(ctx, sessionKey, doc); err != nil {
			log.Printf("engine: cache snapshot for session %s: %v", sessionKey, err)
		}
	}

	e.graphHub.Broadcast(sessionKey, Event{
		Event:      EventKeywordUpdate,
		GraphState: projection,
	})

	if newRoot && e.coverImages && e.media != nil {
		e.generateCover(sessionKey, merged, projection)
	}
}

// generateCover renders a cover image for the session's root concept, stores
// it, and broadcasts an image_update carrying the URL.
func (e *Engine) generateCover(sessionKey string, merged graph.State, projection graph.Projection) {
	label := rootLabel(merged)
	if label == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	prompt := fmt.Sprintf("A clean concept illustration of %q on a neutral background, product design sketch style.", label)
	data, err := e.generator.GenerateCoverImage(ctx, prompt)
	if err != nil {
		log.Printf("engine: cover image generation for session %s: %v", sessionKey, err)
		return
	}

	url, err := e.media.UploadPNG(ctx, data)
	if err != nil {
		log.Printf("engine: cover image upload for session %s: %v", sessionKey, err)
		return
	}

	e.graphHub.Broadcast(sessionKey, Event{
		Event:      EventImageUpdate,
		CoreImgURL: url,
		GraphState: projection,
	})
}

func rootLabel(state graph.State) string {
	for _, node := range state.MainGraph.Nodes {
		if node.ID == state.RootNode {
			return node.Label
		}
	}
	return ""
}
