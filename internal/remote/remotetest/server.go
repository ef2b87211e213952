// Package remotetest runs an in-process fake of the bot's tag-manager API.
//
// The fake keeps tasks, status entries and the tag-config document in memory
// and exposes knobs to inject the failure modes the client has to handle.
package remotetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"tagdesk/internal/remote"
)

// NotInitializedMessage is the body the bot sends while its plugin starts.
const NotInitializedMessage = "Plugin not initialized"

// Server is a fake bot API. The zero value is not usable; call New.
type Server struct {
	URL string

	srv *httptest.Server

	mu          sync.Mutex
	tasks       []remote.Task
	status      map[string]remote.StatusEntry
	statusOrder []string
	doc         remote.TagConfig
	nextID      int

	notInit    int
	rejections map[string]rejection
	failed     map[string]string
	hooks      map[string]func()
	calls      map[string]int
	headers    []http.Header

	// Envelope wraps status responses as {"status","tasks"} and reports the
	// not-initialized state as {"status":"error","message"} with HTTP 200.
	Envelope bool
	// AckOnly makes create answer with {"message","task_id"} and update with
	// {"message"} instead of the task, as the bot does.
	AckOnly bool
	// BareFailedNames reports broadcast failures as a list of names.
	BareFailedNames bool
}

type rejection struct {
	status  int
	message string
}

// New starts a fake server and closes it when t finishes.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		status:     map[string]remote.StatusEntry{},
		rejections: map[string]rejection{},
		failed:     map[string]string{},
		hooks:      map[string]func(){},
		calls:      map[string]int{},
		doc: remote.TagConfig{
			Enable:      true,
			TagPrefix:   "#",
			AutoReply:   map[string]string{},
			TagsFriends: map[string][]string{},
		},
	}
	s.srv = httptest.NewServer(s.routes())
	s.URL = s.srv.URL
	t.Cleanup(s.srv.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)

	r.Get("/api/tasks", s.listTasks)
	r.Post("/api/tasks", s.createTask)
	r.Get("/api/tasks/status", s.taskStatus)
	r.Put("/api/tasks/{id}", s.updateTask)
	r.Delete("/api/tasks/{id}", s.deleteTask)

	r.Post("/api/broadcast", s.broadcast)

	r.Get("/api/tag-config", s.getTagConfig)
	r.Post("/api/tag-config", s.saveTagConfig)
	r.Post("/api/tags", s.addTag)
	r.Delete("/api/tags/{tag}", s.removeTag)

	r.Get("/api/export-config", s.exportConfig)
	r.Post("/api/import-config", s.importConfig)
	return r
}

// record counts calls per "METHOD pattern", runs hooks and applies
// injected rejections before the handler sees the request.
func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rctx := chi.RouteContext(r.Context())
		pattern := r.URL.Path
		if rctx != nil {
			tctx := chi.NewRouteContext()
			if rctx.Routes != nil && rctx.Routes.Match(tctx, r.Method, r.URL.Path) {
				pattern = tctx.RoutePattern()
			}
		}
		key := r.Method + " " + pattern

		s.mu.Lock()
		s.calls[key]++
		s.headers = append(s.headers, r.Header.Clone())
		hook := s.hooks[key]
		rej, rejected := s.rejections[key]
		s.mu.Unlock()

		if hook != nil {
			hook()
		}
		if rejected {
			writeJSON(w, rej.status, map[string]string{"error": rej.message})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---- knobs ----

// Reject makes every call to route answer with status and {"error": message}.
// route is "METHOD /pattern", e.g. "PUT /api/tasks/{id}".
func (s *Server) Reject(route string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejections[route] = rejection{status: status, message: message}
}

func (s *Server) ClearRejections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejections = map[string]rejection{}
}

// Hook runs fn before the handler for route. fn runs outside the server lock.
func (s *Server) Hook(route string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[route] = fn
}

// NotInitialized makes the next n status polls fail with the transient body.
func (s *Server) NotInitialized(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notInit = n
}

// FailFriend makes broadcasts to name fail with reason.
func (s *Server) FailFriend(name, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[name] = reason
}

// Calls returns how many requests hit route.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// Headers returns the headers of every request seen so far.
func (s *Server) Headers() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.headers)
}

// SeedTask stores a task as if it had been created earlier and returns it.
func (s *Server) SeedTask(p remote.TaskPayload) remote.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(p)
}

// Tasks returns the server-side task list.
func (s *Server) Tasks() []remote.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tasks)
}

// DropTask removes a task behind the client's back.
func (s *Server) DropTask(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(id)
}

// SetStatus sets the status entry for id. id need not exist as a task.
func (s *Server) SetStatus(id string, st remote.ExecStatus, nextRun string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.status[id]; !ok {
		s.statusOrder = append(s.statusOrder, id)
	}
	s.status[id] = remote.StatusEntry{ID: id, Status: st, NextRun: nextRun}
}

func (s *Server) SetTagConfig(doc remote.TagConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc.Clone()
}

func (s *Server) TagConfig() remote.TagConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

func (s *Server) insertLocked(p remote.TaskPayload) remote.Task {
	s.nextID++
	t := remote.Task{ID: fmt.Sprintf("task_%d", s.nextID), TaskPayload: p}
	s.tasks = append(s.tasks, t)
	s.statusOrder = append(s.statusOrder, t.ID)
	s.status[t.ID] = remote.StatusEntry{ID: t.ID}
	return t
}

func (s *Server) deleteLocked(id string) bool {
	i := slices.IndexFunc(s.tasks, func(t remote.Task) bool { return t.ID == id })
	if i < 0 {
		return false
	}
	s.tasks = slices.Delete(s.tasks, i, i+1)
	delete(s.status, id)
	s.statusOrder = slices.DeleteFunc(s.statusOrder, func(v string) bool { return v == id })
	return true
}

// ---- handlers ----

func (s *Server) listTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Tasks())
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var p remote.TaskPayload
	if !decode(w, r, &p) {
		return
	}
	s.mu.Lock()
	t := s.insertLocked(p)
	ack := s.AckOnly
	s.mu.Unlock()

	if ack {
		writeJSON(w, http.StatusCreated, map[string]string{"message": "任务添加成功", "task_id": t.ID})
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var p remote.TaskPayload
	if !decode(w, r, &p) {
		return
	}
	s.mu.Lock()
	i := slices.IndexFunc(s.tasks, func(t remote.Task) bool { return t.ID == id })
	if i < 0 {
		s.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	s.tasks[i].TaskPayload = p
	t := s.tasks[i]
	ack := s.AckOnly
	s.mu.Unlock()
	if ack {
		writeJSON(w, http.StatusOK, map[string]string{"message": "任务更新成功"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	ok := s.deleteLocked(id)
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "task deleted"})
}

func (s *Server) taskStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	envelope := s.Envelope
	if s.notInit > 0 {
		s.notInit--
		s.mu.Unlock()
		if envelope {
			writeJSON(w, http.StatusOK, map[string]any{"status": "error", "message": NotInitializedMessage, "tasks": []any{}})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": NotInitializedMessage})
		return
	}
	out := make([]remote.StatusEntry, 0, len(s.statusOrder))
	for _, id := range s.statusOrder {
		out = append(out, s.status[id])
	}
	s.mu.Unlock()

	if envelope {
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "tasks": out})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) broadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tag     string `json:"tag"`
		Message string `json:"message"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Tag == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tag and message are required"})
		return
	}

	s.mu.Lock()
	friends := slices.Clone(s.doc.TagsFriends[req.Tag])
	bare := s.BareFailedNames
	var (
		ok      int
		objects []remote.FailedFriend
		names   []string
	)
	for _, f := range friends {
		if reason, bad := s.failed[f]; bad {
			objects = append(objects, remote.FailedFriend{Name: f, Error: reason})
			names = append(names, f)
			continue
		}
		ok++
	}
	s.mu.Unlock()

	resp := map[string]any{
		"message":       "broadcast finished",
		"success_count": ok,
		"fail_count":    len(objects),
	}
	if bare {
		resp["failed_friends"] = names
	} else {
		resp["failed_friends"] = objects
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getTagConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.TagConfig())
}

func (s *Server) saveTagConfig(w http.ResponseWriter, r *http.Request) {
	var doc remote.TagConfig
	if !decode(w, r, &doc) {
		return
	}
	s.SetTagConfig(doc)
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) addTag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tag string `json:"tag"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Tag == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tag is required"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.doc.EnabledTags, req.Tag) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "tag already exists"})
		return
	}
	s.doc.EnabledTags = append(s.doc.EnabledTags, req.Tag)
	writeJSON(w, http.StatusOK, map[string]string{"message": "tag added"})
}

func (s *Server) removeTag(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.Index(s.doc.EnabledTags, tag)
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "tag not found"})
		return
	}
	s.doc.EnabledTags = slices.Delete(s.doc.EnabledTags, i, i+1)
	writeJSON(w, http.StatusOK, map[string]string{"message": "tag removed"})
}

type exportDoc struct {
	TagConfig remote.TagConfig `json:"tag_config"`
	Tasks     []remote.Task    `json:"tasks"`
}

func (s *Server) exportConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, exportDoc{TagConfig: s.TagConfig(), Tasks: s.Tasks()})
}

func (s *Server) importConfig(w http.ResponseWriter, r *http.Request) {
	var doc exportDoc
	if !decode(w, r, &doc) {
		return
	}
	s.SetTagConfig(doc.TagConfig)
	writeJSON(w, http.StatusOK, map[string]string{"message": "config imported"})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
