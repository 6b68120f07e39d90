package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mindweave/api/internal/cache"
	"mindweave/api/internal/engine"
	"mindweave/api/internal/graph"
	"mindweave/api/internal/history"
	"mindweave/api/internal/llm"
	"mindweave/api/internal/search"
	"mindweave/api/internal/store"
	"mindweave/api/internal/ws"
)

type fakeDataStore struct {
	pingErr    error
	utterances []store.Utterance
	versions   []store.GraphVersion
	latest     *store.GraphVersion
	state      []byte
	latestErr  error
}

func (f *fakeDataStore) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeDataStore) ListUtterances(ctx context.Context, sessionKey string) ([]store.Utterance, error) {
	return f.utterances, nil
}

func (f *fakeDataStore) ListVersions(ctx context.Context, sessionKey string) ([]store.GraphVersion, error) {
	return f.versions, nil
}

func (f *fakeDataStore) LatestSnapshot(ctx context.Context, sessionKey string) (*store.GraphVersion, []byte, error) {
	return f.latest, f.state, f.latestErr
}

type fakeIngestor struct {
	projection graph.Projection
	err        error
	gotReq     engine.IngestRequest
}

func (f *fakeIngestor) Ingest(ctx context.Context, req engine.IngestRequest) (graph.Projection, error) {
	f.gotReq = req
	if f.err != nil {
		return graph.Projection{}, f.err
	}
	return f.projection, nil
}

type fakeSearcher struct {
	response search.Response
	gotQuery search.Query
}

func (f *fakeSearcher) Search(q search.Query) search.Response {
	f.gotQuery = q
	return f.response
}

type fakeHistorian struct {
	commits []history.CommitInfo
}

func (f *fakeHistorian) History(sessionKey string, limit int) ([]history.CommitInfo, error) {
	return f.commits, nil
}

type fakeCache struct {
	doc []byte
}

func (f *fakeCache) Get(ctx context.Context, sessionKey string) ([]byte, error) {
	if f.doc == nil {
		return nil, cache.ErrMiss
	}
	return f.doc, nil
}

func newTestServer(svc *Service) *httptest.Server {
	s := NewHTTPServer(svc, ws.NewHub("room"), ws.NewHub("graph"), "*")
	return httptest.NewServer(s.Handler())
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(NewService(&fakeDataStore{}, &fakeIngestor{}, nil, nil, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestReadyReportsDatabaseFailure(t *testing.T) {
	srv := newTestServer(NewService(&fakeDataStore{pingErr: errors.New("down")}, &fakeIngestor{}, nil, nil, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/ready")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestIngestReturnsProjection(t *testing.T) {
	ing := &fakeIngestor{projection: graph.Projection{
		VersionID: "v-1",
		RootNode:  "n-1",
		MainGraph: graph.ViewerGraph{
			Nodes: []graph.ViewerNode{{Label: "Lamp", Class: 1}},
			Edges: []graph.ViewerEdge{},
		},
		SubGraphs: []graph.ViewerSubGraph{},
	}}
	srv := newTestServer(NewService(&fakeDataStore{}, ing, nil, nil, nil))
	defer srv.Close()

	body := strings.NewReader(`{"session_key":"session-1","text":"a tall lamp","created_at":"2026-09-01T10:00:00Z"}`)
	resp, err := http.Post(srv.URL+"/api/utterances", "application/json", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var payload struct {
		VersionID string `json:"graph_version_id"`
		RootNode  string `json:"root_node"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.VersionID != "v-1" || payload.RootNode != "n-1" {
		t.Errorf("unexpected payload: %+v", payload)
	}

	if ing.gotReq.SessionKey != "session-1" {
		t.Errorf("engine got session %q", ing.gotReq.SessionKey)
	}
	want := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	if !ing.gotReq.CreatedAt.Equal(want) {
		t.Errorf("engine got createdAt %v", ing.gotReq.CreatedAt)
	}
}

func TestIngestRejectsEmptyText(t *testing.T) {
	srv := newTestServer(NewService(&fakeDataStore{}, &fakeIngestor{}, nil, nil, nil))
	defer srv.Close()

	body := strings.NewReader(`{"session_key":"session-1","text":"   "}`)
	resp, err := http.Post(srv.URL+"/api/utterances", "application/json", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	var payload struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Code != "VALIDATION_ERROR" {
		t.Errorf("unexpected error code %q", payload.Code)
	}
}

func TestIngestNaiveTimestampAssumedUTC(t *testing.T) {
	ing := &fakeIngestor{}
	srv := newTestServer(NewService(&fakeDataStore{}, ing, nil, nil, nil))
	defer srv.Close()

	body := strings.NewReader(`{"session_key":"s","text":"x","created_at":"2026-09-01T10:00:00"}`)
	resp, err := http.Post(srv.URL+"/api/utterances", "application/json", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	want := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	if !ing.gotReq.CreatedAt.Equal(want) {
		t.Errorf("naive timestamp not treated as UTC: %v", ing.gotReq.CreatedAt)
	}
}

func TestIngestGenerationFailureMapsTo502(t *testing.T) {
	ing := &fakeIngestor{err: fmt.Errorf("%w: model output rejected", llm.ErrGeneration)}
	srv := newTestServer(NewService(&fakeDataStore{}, ing, nil, nil, nil))
	defer srv.Close()

	body := strings.NewReader(`{"session_key":"s","text":"x"}`)
	resp, err := http.Post(srv.URL+"/api/utterances", "application/json", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}

	var payload struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Code != "GENERATION_FAILED" {
		t.Errorf("unexpected error code %q", payload.Code)
	}
}

func TestIngestVersionConflictMapsTo409(t *testing.T) {
	ing := &fakeIngestor{err: fmt.Errorf("persist snapshot: %w", store.ErrVersionConflict)}
	srv := newTestServer(NewService(&fakeDataStore{}, ing, nil, nil, nil))
	defer srv.Close()

	body := strings.NewReader(`{"session_key":"s","text":"x"}`)
	resp, err := http.Post(srv.URL+"/api/utterances", "application/json", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Code != "VERSION_CONFLICT" {
		t.Errorf("unexpected error code %q", payload.Code)
	}
}

func TestLatestGraphServedFromCache(t *testing.T) {
	cached := []byte(`{"graph_version_id":"v-cached","root_node":"n-1","main_graph":{"nodes":[],"edges":[]},"sub_graphs":[]}`)
	svc := NewService(&fakeDataStore{}, &fakeIngestor{}, nil, nil, &fakeCache{doc: cached})
	srv := newTestServer(svc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/sessions/session-1/graph/latest")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		VersionID string `json:"graph_version_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.VersionID != "v-cached" {
		t.Errorf("expected cached document, got %+v", payload)
	}
}

func TestLatestGraphFallsBackToStore(t *testing.T) {
	state := graph.State{
		VersionID: "v-db",
		RootNode:  "n-1",
		MainGraph: graph.MainGraph{
			Nodes: []graph.Node{{ID: "n-1", Label: "Lamp", Class: 1}},
			Edges: []graph.Edge{},
		},
		SubGraphs: []graph.SubGraph{},
	}
	raw, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}
	st := &fakeDataStore{
		latest: &store.GraphVersion{ID: "v-db", SessionKey: "session-1", Version: 3},
		state:  raw,
	}
	srv := newTestServer(NewService(st, &fakeIngestor{}, nil, nil, &fakeCache{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/sessions/session-1/graph/latest")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload graph.Projection
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.VersionID != "v-db" {
		t.Errorf("unexpected version id %q", payload.VersionID)
	}
	if len(payload.MainGraph.Nodes) != 1 || payload.MainGraph.Nodes[0].Label != "Lamp" {
		t.Errorf("unexpected main graph: %+v", payload.MainGraph)
	}
}

func TestLatestGraphNotFound(t *testing.T) {
	srv := newTestServer(NewService(&fakeDataStore{}, &fakeIngestor{}, nil, nil, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/sessions/ghost/graph/latest")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestListVersions(t *testing.T) {
	st := &fakeDataStore{versions: []store.GraphVersion{
		{ID: "v-1", SessionKey: "s", Version: 1},
		{ID: "v-2", SessionKey: "s", Version: 2},
	}}
	srv := newTestServer(NewService(st, &fakeIngestor{}, nil, nil, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/sessions/s/versions")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		Versions []VersionInfo `json:"versions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Versions) != 2 || payload.Versions[1].Version != 2 {
		t.Errorf("unexpected versions: %+v", payload.Versions)
	}
}

func TestListUtterances(t *testing.T) {
	userID := "user-7"
	st := &fakeDataStore{utterances: []store.Utterance{
		{ID: "u-1", SessionKey: "s", UserID: &userID, Text: "a tall lamp"},
	}}
	srv := newTestServer(NewService(st, &fakeIngestor{}, nil, nil, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/sessions/s/utterances")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		Utterances []UtteranceInfo `json:"utterances"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Utterances) != 1 || payload.Utterances[0].Text != "a tall lamp" {
		t.Errorf("unexpected utterances: %+v", payload.Utterances)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	hist := &fakeHistorian{commits: []history.CommitInfo{
		{Hash: "abc1234", Message: "Graph version 1 (v-1)"},
	}}
	srv := newTestServer(NewService(&fakeDataStore{}, &fakeIngestor{}, nil, hist, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/sessions/s/history")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		Commits []history.CommitInfo `json:"commits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Commits) != 1 || payload.Commits[0].Hash != "abc1234" {
		t.Errorf("unexpected commits: %+v", payload.Commits)
	}
}

func TestSearchEndpoint(t *testing.T) {
	srch := &fakeSearcher{response: search.Response{
		Results: []search.Result{{UtteranceID: "u-1", SessionKey: "s", Snippet: "a tall <mark>lamp</mark>"}},
		Total:   1,
		Query:   "lamp",
	}}
	srv := newTestServer(NewService(&fakeDataStore{}, &fakeIngestor{}, srch, nil, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/search?q=lamp&session_key=s&limit=5")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	if srch.gotQuery.Text != "lamp" || srch.gotQuery.FilterSessionKey != "s" || srch.gotQuery.Limit != 5 {
		t.Errorf("unexpected query: %+v", srch.gotQuery)
	}

	var payload search.Response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Total != 1 || len(payload.Results) != 1 {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestSearchUnavailableWithoutBackend(t *testing.T) {
	srv := newTestServer(NewService(&fakeDataStore{}, &fakeIngestor{}, nil, nil, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/search?q=lamp")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	srv := newTestServer(NewService(&fakeDataStore{}, &fakeIngestor{}, nil, nil, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/nope")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSessionRoutesRejectNonGet(t *testing.T) {
	srv := newTestServer(NewService(&fakeDataStore{}, &fakeIngestor{}, nil, nil, nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/sessions/s/versions", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

func TestWebsocketUpgradeThroughMiddleware(t *testing.T) {
	graphHub := ws.NewHub("graph")
	s := NewHTTPServer(NewService(&fakeDataStore{}, &fakeIngestor{}, nil, nil, nil), ws.NewHub("room"), graphHub, "*")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/graph/session-1"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	deadline := time.Now().Add(2 * time.Second)
	for graphHub.ConnectionCount("session-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	graphHub.Broadcast("session-1", map[string]string{"event": "keyword_update"})

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(string(data), "keyword_update") {
		t.Errorf("unexpected frame: %s", data)
	}
}
