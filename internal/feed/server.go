// Package feed serves the read side of the timeline core over HTTP: a
// websocket stream of committed mutation events and read-only projection
// endpoints. Mutations go through the engine, never through this package.
package feed

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"timeline/core/internal/engine"
	"timeline/core/internal/logging"
	"timeline/core/internal/timeline"
)

// Reader is the slice of the engine the feed serves.
type Reader interface {
	GetSupertypeView(id string) (timeline.TimelineItem, error)
	ListItems(ownerID string, f engine.ItemFilter) ([]timeline.TimelineItem, error)
	GetSubtaskTree(rootID string, maxDepth int) *engine.Tree
	TaskProgress(id string) (int, error)
	RunningInterval(userID string) (timeline.TimeInterval, bool, error)
	ListAnchors(memoryID string) ([]timeline.Anchor, error)
}

type Deps struct {
	Reader Reader
	Hub    *Hub
	Logger *slog.Logger
}

type Server struct {
	deps Deps
	mux  *http.ServeMux
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(deps.Logger)
	}
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/ws", s.deps.Hub.HandleWS)
	s.mux.HandleFunc("/api/v1/items", s.handleListItems)
	s.mux.HandleFunc("/api/v1/items/", s.handleItem)
	s.mux.HandleFunc("/api/v1/tasks/", s.handleTask)
	s.mux.HandleFunc("/api/v1/users/", s.handleUser)
	s.mux.HandleFunc("/api/v1/memories/", s.handleMemory)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Hub() *Hub {
	return s.deps.Hub
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, map[string]any{"status": "ok", "subscribers": s.deps.Hub.Subscribers()})
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	q := r.URL.Query()
	owner := strings.TrimSpace(q.Get("owner"))
	if owner == "" {
		respondError(w, http.StatusBadRequest, "OWNER_REQUIRED", "owner is required")
		return
	}
	var f engine.ItemFilter
	for _, k := range splitList(q.Get("kind")) {
		f.Kinds = append(f.Kinds, timeline.Kind(k))
	}
	for _, st := range splitList(q.Get("status")) {
		f.Statuses = append(f.Statuses, timeline.ItemStatus(st))
	}
	var err error
	if f.EndFrom, err = parseTime(q.Get("end_from")); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_TIME", err.Error())
		return
	}
	if f.EndTo, err = parseTime(q.Get("end_to")); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_TIME", err.Error())
		return
	}
	if raw := q.Get("limit"); raw != "" {
		if f.Limit, err = strconv.Atoi(raw); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_LIMIT", err.Error())
			return
		}
	}
	items, err := s.deps.Reader.ListItems(owner, f)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondOK(w, items)
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/items/")
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if id == "" || strings.Contains(id, "/") {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
		return
	}
	item, err := s.deps.Reader.GetSupertypeView(id)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondOK(w, item)
}

type treeNode struct {
	Depth int           `json:"depth"`
	Task  timeline.Task `json:"task"`
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
		return
	}
	taskID := parts[0]
	switch parts[1] {
	case "tree":
		maxDepth := -1
		if raw := r.URL.Query().Get("max_depth"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				respondError(w, http.StatusBadRequest, "INVALID_DEPTH", err.Error())
				return
			}
			maxDepth = v
		}
		tree := s.deps.Reader.GetSubtaskTree(taskID, maxDepth)
		nodes := []treeNode{}
		for task, depth := range tree.All() {
			nodes = append(nodes, treeNode{Depth: depth, Task: task})
		}
		if err := tree.Err(); err != nil {
			s.respondEngineError(w, err)
			return
		}
		respondOK(w, nodes)
	case "progress":
		p, err := s.deps.Reader.TaskProgress(taskID)
		if err != nil {
			s.respondEngineError(w, err)
			return
		}
		respondOK(w, map[string]any{"task_id": taskID, "progress": p})
	default:
		respondError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	}
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/users/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "running-interval" {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
		return
	}
	iv, ok, err := s.deps.Reader.RunningInterval(parts[0])
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	if !ok {
		respondOK(w, nil)
		return
	}
	respondOK(w, iv)
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/memories/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "anchors" {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
		return
	}
	anchors, err := s.deps.Reader.ListAnchors(parts[0])
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondOK(w, anchors)
}

func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	var te *timeline.Error
	if !errors.As(err, &te) {
		s.deps.Logger.Error("feed read failed", logging.Err(err))
		respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	status := http.StatusUnprocessableEntity
	switch te.Code {
	case timeline.CodeNotFound:
		status = http.StatusNotFound
	case timeline.CodeOwnershipMismatch:
		status = http.StatusForbidden
	case timeline.CodeKindMismatch, timeline.CodeAlreadyRunning, timeline.CodeCycleDetected:
		status = http.StatusConflict
	}
	respondError(w, status, strings.ToUpper(string(te.Code)), te.Error())
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func respondOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": data})
}

func respondError(w http.ResponseWriter, code int, errCode string, msg string) {
	writeJSON(w, code, map[string]any{"ok": false, "error": map[string]any{"code": errCode, "message": msg}})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
