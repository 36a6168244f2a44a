// Package httpapi is the HTTP create/get/list/delete surface. It is a
// collaborator of the dispatch engine, never imported by it: the core
// never depends on JSON shape or routing.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/falconq/falconq/internal/store"
	"github.com/falconq/falconq/pkg/types"
)

// SubmitRecorder receives a count of tasks successfully inserted via the
// HTTP surface.
type SubmitRecorder interface {
	RecordSubmitted()
}

// Server exposes the task CRUD surface over HTTP.
type Server struct {
	gateway  store.Gateway
	logger   *slog.Logger
	recorder SubmitRecorder
}

// New creates a Server. Call Router to obtain the http.Handler to serve.
func New(gateway store.Gateway, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{gateway: gateway, logger: logger.With("component", "httpapi")}
}

// SetRecorder attaches a metrics SubmitRecorder. Call before serving.
func (s *Server) SetRecorder(r SubmitRecorder) {
	s.recorder = r
}

// Router builds the route table using gorilla/mux.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/task", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/task", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/task/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/task/{id}", s.handleDelete).Methods(http.MethodDelete)
	return r
}

type createRequest struct {
	TaskType      string `json:"task_type"`
	ExecutionTime string `json:"execution_time"`
}

type createResponse struct {
	TaskID string `json:"task_id"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	taskType := types.TaskType(req.TaskType)
	if !taskType.Valid() {
		writeError(w, http.StatusBadRequest, "task_type must be one of foo, bar, baz")
		return
	}

	execTime, err := time.Parse(time.RFC3339, req.ExecutionTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "execution_time must be an RFC3339 timestamp")
		return
	}

	task := &types.Task{
		ID:            uuid.New(),
		CreatedAt:     time.Now().UTC(),
		ExecutionTime: execTime.UTC(),
		TaskType:      taskType,
	}
	if err := s.gateway.Insert(r.Context(), task); err != nil {
		s.logger.Error("failed to insert task", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}
	if s.recorder != nil {
		s.recorder.RecordSubmitted()
	}

	writeJSON(w, http.StatusOK, createResponse{TaskID: task.ID.String()})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}

	task, err := s.gateway.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get task", "task_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter := store.Filter{
		Status:   types.Status(r.URL.Query().Get("status")),
		TaskType: types.TaskType(r.URL.Query().Get("type")),
	}

	tasks, err := s.gateway.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list tasks", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}

	outcome, current, err := s.gateway.DeleteIfSubmitted(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to delete task", "task_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete task")
		return
	}

	switch outcome {
	case store.Deleted:
		w.WriteHeader(http.StatusOK)
	case store.NotDeletable:
		writeError(w, http.StatusConflict, "task is no longer submitted (status: "+string(current)+")")
	case store.NotFoundOutcome:
		writeError(w, http.StatusNotFound, "task not found")
	}
}

func parseID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
