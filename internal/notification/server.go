package notification

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/taskwarden/internal/authz"
	"github.com/kazz187/taskwarden/pkg/cerr"
)

const defaultListLimit = 50

type Server struct {
	repo Repository
}

func NewServer(repo Repository) *Server {
	return &Server{repo: repo}
}

func (s *Server) Routes(r chi.Router) {
	r.Get("/", s.ListNotifications)
}

// ListNotifications returns the caller's own history, newest first.
func (s *Server) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, ok := authz.ClaimsFromContext(ctx)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "unauthenticated", nil)
		return
	}
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "limit must be a positive integer", err)
			return
		}
		limit = n
	}
	records, err := s.repo.ListByUser(ctx, c.Subject, limit)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if records == nil {
		records = []*Record{}
	}
	cerr.SetJSONResponse(ctx, records)
}
