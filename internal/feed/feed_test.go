package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	dbmodel "timeline/core/internal/db"
	"timeline/core/internal/engine"
	"timeline/core/internal/protocol"
	"timeline/core/internal/timeline"

	"github.com/coder/websocket"
)

type testEnv struct {
	engine *engine.Engine
	server *Server
	http   *httptest.Server
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	gdb, err := dbmodel.Open(filepath.Join(t.TempDir(), "timeline.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = dbmodel.Close(gdb) })

	hub := NewHub(nil)
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	e, err := engine.New(gdb, engine.Options{Publisher: hub, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	srv := NewServer(Deps{Reader: e, Hub: hub})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return testEnv{engine: e, server: srv, http: ts}
}

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

func getJSON(t *testing.T, url string, wantStatus int) envelope {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: expected %d, got %d", url, wantStatus, resp.StatusCode)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return env
}

func createTask(t *testing.T, e *engine.Engine, owner, title, parentID string) string {
	t.Helper()
	id, err := e.CreateSubtype(owner, &timeline.Task{Base: timeline.Base{Title: title}, ParentID: parentID})
	if err != nil {
		t.Fatalf("create task %q: %v", title, err)
	}
	return id
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	got := getJSON(t, env.http.URL+"/healthz", http.StatusOK)
	if !got.OK {
		t.Fatalf("expected ok envelope, got %+v", got)
	}
}

func TestItemEndpoints(t *testing.T) {
	env := newTestEnv(t)
	root := createTask(t, env.engine, "alice", "plan trip", "")
	child := createTask(t, env.engine, "alice", "book flights", root)
	createTask(t, env.engine, "bob", "other", "")

	got := getJSON(t, env.http.URL+"/api/v1/items/"+child, http.StatusOK)
	var item timeline.TimelineItem
	if err := json.Unmarshal(got.Data, &item); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	if item.ID != child || item.Kind != timeline.KindTask || item.Title != "book flights" {
		t.Fatalf("unexpected item: %+v", item)
	}

	got = getJSON(t, env.http.URL+"/api/v1/items?owner=alice&kind=task", http.StatusOK)
	var items []timeline.TimelineItem
	if err := json.Unmarshal(got.Data, &items); err != nil {
		t.Fatalf("decode items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected alice's 2 items, got %d", len(items))
	}

	missing := getJSON(t, env.http.URL+"/api/v1/items/nope", http.StatusNotFound)
	if missing.OK || missing.Error.Code != "NOT_FOUND" {
		t.Fatalf("unexpected not found envelope: %+v", missing)
	}
	getJSON(t, env.http.URL+"/api/v1/items", http.StatusBadRequest)
	getJSON(t, env.http.URL+"/api/v1/items?owner=alice&end_from=yesterday", http.StatusBadRequest)
}

func TestTaskTreeAndProgress(t *testing.T) {
	env := newTestEnv(t)
	root := createTask(t, env.engine, "alice", "root", "")
	a := createTask(t, env.engine, "alice", "a", root)
	createTask(t, env.engine, "alice", "b", root)
	createTask(t, env.engine, "alice", "a1", a)

	got := getJSON(t, env.http.URL+"/api/v1/tasks/"+root+"/tree", http.StatusOK)
	var nodes []struct {
		Depth int `json:"depth"`
		Task  struct {
			Title string
		} `json:"task"`
	}
	if err := json.Unmarshal(got.Data, &nodes); err != nil {
		t.Fatalf("decode tree: %v", err)
	}
	var order []string
	for _, n := range nodes {
		order = append(order, n.Task.Title)
	}
	if strings.Join(order, ",") != "root,a,b,a1" {
		t.Fatalf("unexpected tree order: %v", order)
	}

	got = getJSON(t, env.http.URL+"/api/v1/tasks/"+root+"/tree?max_depth=0", http.StatusOK)
	if err := json.Unmarshal(got.Data, &nodes); err != nil {
		t.Fatalf("decode tree: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Depth != 0 {
		t.Fatalf("expected root only, got %+v", nodes)
	}

	got = getJSON(t, env.http.URL+"/api/v1/tasks/"+root+"/progress", http.StatusOK)
	var progress struct {
		Progress int `json:"progress"`
	}
	if err := json.Unmarshal(got.Data, &progress); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if progress.Progress != 0 {
		t.Fatalf("expected 0 progress, got %d", progress.Progress)
	}

	getJSON(t, env.http.URL+"/api/v1/tasks/"+root+"/tree?max_depth=x", http.StatusBadRequest)
	getJSON(t, env.http.URL+"/api/v1/tasks/missing/tree", http.StatusNotFound)
	getJSON(t, env.http.URL+"/api/v1/tasks/"+root+"/unknown", http.StatusNotFound)
}

func TestRunningIntervalEndpoint(t *testing.T) {
	env := newTestEnv(t)
	task := createTask(t, env.engine, "alice", "focus", "")

	got := getJSON(t, env.http.URL+"/api/v1/users/alice/running-interval", http.StatusOK)
	if string(got.Data) != "null" {
		t.Fatalf("expected no running interval, got %s", got.Data)
	}
	id, err := env.engine.OpenInterval("alice", task, "")
	if err != nil {
		t.Fatalf("open interval: %v", err)
	}
	got = getJSON(t, env.http.URL+"/api/v1/users/alice/running-interval", http.StatusOK)
	var iv struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(got.Data, &iv); err != nil {
		t.Fatalf("decode interval: %v", err)
	}
	if !strings.Contains(string(got.Data), id) {
		t.Fatalf("expected running interval %s, got %s", id, got.Data)
	}
}

func TestHubDeliversOwnersEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + env.http.URL[len("http"):] + "/ws?owner=alice"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	deadline := time.Now().Add(3 * time.Second)
	for env.server.Hub().Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	createTask(t, env.engine, "bob", "not mine", "")
	id := createTask(t, env.engine, "alice", "mine", "")

	_, raw, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read ws failed: %v", err)
	}
	var msg protocol.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode ws event failed: %v", err)
	}
	if msg.Type != protocol.TypeEvent || msg.Op != engine.TopicItemCreated {
		t.Fatalf("unexpected message: %s", raw)
	}
	var payload map[string]any
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["owner_id"] != "alice" || payload["item_id"] != id {
		t.Fatalf("expected alice's event for %s, got %v", id, payload)
	}
}

func TestHubRejectsMissingOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+env.http.URL[len("http"):]+"/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	_, raw, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read ws failed: %v", err)
	}
	var msg protocol.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != protocol.TypeError || msg.Error == nil || msg.Error.Code != "OWNER_REQUIRED" {
		t.Fatalf("unexpected message: %s", raw)
	}
}
