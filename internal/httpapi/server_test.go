package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falconq/falconq/internal/httpapi"
	"github.com/falconq/falconq/internal/store"
	"github.com/falconq/falconq/pkg/types"
)

type fakeGateway struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*types.Task
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{tasks: make(map[uuid.UUID]*types.Task)}
}

func (f *fakeGateway) Insert(ctx context.Context, task *types.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task.Status = types.StatusSubmitted
	f.tasks[task.ID] = task
	return nil
}

func (f *fakeGateway) Get(ctx context.Context, id uuid.UUID) (*types.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeGateway) List(ctx context.Context, filter store.Filter) ([]*types.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Task
	for _, t := range f.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.TaskType != "" && t.TaskType != filter.TaskType {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeGateway) DeleteIfSubmitted(ctx context.Context, id uuid.UUID) (store.DeleteOutcome, types.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return store.NotFoundOutcome, "", nil
	}
	if t.Status != types.StatusSubmitted {
		return store.NotDeletable, t.Status, nil
	}
	t.Status = types.StatusDeleted
	return store.Deleted, types.StatusDeleted, nil
}

func (f *fakeGateway) FindUpcoming(ctx context.Context, window time.Duration, limit int) ([]uuid.UUID, error) {
	return nil, nil
}

func (f *fakeGateway) Claim(ctx context.Context, id uuid.UUID, workerID string) (*types.Task, error) {
	return nil, store.ErrLost
}

func (f *fakeGateway) MarkDone(ctx context.Context, id uuid.UUID) error   { return nil }
func (f *fakeGateway) MarkFailed(ctx context.Context, id uuid.UUID) error { return nil }

func TestHandleCreateValidatesTaskType(t *testing.T) {
	srv := httpapi.New(newFakeGateway(), nil)
	body := bytes.NewBufferString(`{"task_type":"nonsense","execution_time":"2026-01-01T00:00:00Z"}`)
	req := httptest.NewRequest(http.MethodPost, "/task", body)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateAndGetRoundtrip(t *testing.T) {
	srv := httpapi.New(newFakeGateway(), nil)

	body := bytes.NewBufferString(`{"task_type":"foo","execution_time":"2026-01-01T00:00:00Z"}`)
	req := httptest.NewRequest(http.MethodPost, "/task", body)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var created struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	getReq := httptest.NewRequest(http.MethodGet, "/task/"+created.TaskID, nil)
	getRec := httptest.NewRecorder()
	srv.Router().ServeHTTP(getRec, getReq)

	assert.Equal(t, http.StatusOK, getRec.Code)

	var task types.Task
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &task))
	assert.Equal(t, types.StatusSubmitted, task.Status)
}

type fakeRecorder struct {
	mu        sync.Mutex
	submitted int
}

func (r *fakeRecorder) RecordSubmitted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted++
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.submitted
}

func TestHandleCreateReportsSubmittedToRecorder(t *testing.T) {
	srv := httpapi.New(newFakeGateway(), nil)
	rec := &fakeRecorder{}
	srv.SetRecorder(rec)

	body := bytes.NewBufferString(`{"task_type":"foo","execution_time":"2026-01-01T00:00:00Z"}`)
	req := httptest.NewRequest(http.MethodPost, "/task", body)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, rec.count(), "a successful create must report RecordSubmitted")
}

func TestHandleCreateValidationFailureDoesNotReportSubmitted(t *testing.T) {
	srv := httpapi.New(newFakeGateway(), nil)
	rec := &fakeRecorder{}
	srv.SetRecorder(rec)

	body := bytes.NewBufferString(`{"task_type":"nonsense","execution_time":"2026-01-01T00:00:00Z"}`)
	req := httptest.NewRequest(http.MethodPost, "/task", body)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, rec.count(), "a rejected create must not report RecordSubmitted")
}

func TestHandleGetUnknownIDReturnsNotFound(t *testing.T) {
	srv := httpapi.New(newFakeGateway(), nil)
	req := httptest.NewRequest(http.MethodGet, "/task/"+uuid.New().String(), nil)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDeleteConflictWhenNotSubmitted(t *testing.T) {
	gw := newFakeGateway()
	id := uuid.New()
	gw.tasks[id] = &types.Task{ID: id, Status: types.StatusDone, TaskType: types.TaskFoo, ExecutionTime: time.Now()}

	srv := httpapi.New(gw, nil)
	req := httptest.NewRequest(http.MethodDelete, "/task/"+id.String(), nil)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleDeleteSucceedsWhenSubmitted(t *testing.T) {
	gw := newFakeGateway()
	id := uuid.New()
	gw.tasks[id] = &types.Task{ID: id, Status: types.StatusSubmitted, TaskType: types.TaskFoo, ExecutionTime: time.Now()}

	srv := httpapi.New(gw, nil)
	req := httptest.NewRequest(http.MethodDelete, "/task/"+id.String(), nil)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
