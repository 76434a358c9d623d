package task

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/taskwarden/internal/authz"
	"github.com/kazz187/taskwarden/pkg/cerr"
	"github.com/kazz187/taskwarden/pkg/clog"
)

type Server struct {
	engine *Engine
}

func NewServer(engine *Engine) *Server {
	return &Server{engine: engine}
}

// Routes mounts the task API. Callers must run authz.Middleware first.
func (s *Server) Routes(r chi.Router) {
	r.Post("/", s.CreateTask)
	r.Get("/", s.ListTasks)
	r.Route("/{taskId}", func(r chi.Router) {
		r.Get("/", s.GetTask)
		r.Patch("/", s.UpdateTask)
		r.Delete("/", s.DeleteTask)
		r.Post("/reopen", s.ReopenTask)
	})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return cerr.NewError(cerr.InvalidArgument, "malformed request body", err)
	}
	return nil
}

func claims(r *http.Request) *authz.Claims {
	c, _ := authz.ClaimsFromContext(r.Context())
	return c
}

func taskID(r *http.Request) string {
	id := chi.URLParam(r, "taskId")
	clog.AddAttribute(r.Context(), "task_id", id)
	return id
}

func (s *Server) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var in CreateInput
	if err := decode(r, &in); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.engine.Create(ctx, claims(r), in)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	clog.AddAttribute(ctx, "task_id", t.ID)
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, t)
}

func (s *Server) ListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	f := ListFilter{Status: Status(q.Get("status"))}
	if f.Status != "" && !f.Status.Valid() {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "unknown status filter", nil)
		return
	}
	if owner := q.Get("userId"); owner != "" {
		f.OwnerUserIDs = []string{owner}
	}
	for param, dst := range map[string]*time.Time{"deadlineFrom": &f.DeadlineFrom, "deadlineTo": &f.DeadlineTo} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		d, err := ParseDeadline(v)
		if err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
		*dst = d
	}
	tasks, err := s.engine.List(ctx, claims(r), f)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if tasks == nil {
		tasks = []*Task{}
	}
	cerr.SetJSONResponse(ctx, tasks)
}

func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.engine.Get(ctx, claims(r), taskID(r))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) UpdateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var in UpdateInput
	if err := decode(r, &in); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.engine.Update(ctx, claims(r), taskID(r), in)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) ReopenTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var in ReopenInput
	if r.ContentLength != 0 {
		if err := decode(r, &in); err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
	}
	t, err := s.engine.Reopen(ctx, claims(r), taskID(r), in)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) DeleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := taskID(r)
	if err := s.engine.Delete(ctx, claims(r), id); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]string{"taskId": id})
}

// ExpireTask is the maintenance hook behind the internal API.
func (s *Server) ExpireTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.engine.Expire(ctx, taskID(r))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}
