package user

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/taskwarden/internal/authz"
	"github.com/kazz187/taskwarden/pkg/cerr"
)

type Server struct {
	repo   Repository
	policy *authz.Policy
}

func NewServer(repo Repository, policy *authz.Policy) *Server {
	return &Server{repo: repo, policy: policy}
}

func (s *Server) Routes(r chi.Router) {
	r.Get("/", s.ListUsers)
	r.Delete("/{userId}", s.DeleteUser)
}

func (s *Server) ListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, _ := authz.ClaimsFromContext(ctx)
	if !s.policy.IsAdmin(c) {
		cerr.SetNewJSONError(ctx, cerr.PermissionDenied, "not allowed to list users", nil)
		return
	}
	role := Role(r.URL.Query().Get("role"))
	if role != "" && role != RoleAdmin && role != RoleMember {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "unknown role filter", nil)
		return
	}
	users, err := s.repo.List(ctx, role)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if users == nil {
		users = []*User{}
	}
	cerr.SetJSONResponse(ctx, users)
}

// DeleteUser removes a directory entry. Admins cannot delete themselves.
func (s *Server) DeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "userId")
	c, _ := authz.ClaimsFromContext(ctx)
	if err := s.policy.Require(authz.DeleteUser, c, authz.Resource{TargetUserID: id}); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]string{"userId": id})
}
