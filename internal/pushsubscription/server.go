package pushsubscription

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/kazz187/taskwarden/internal/authz"
	"github.com/kazz187/taskwarden/pkg/cerr"
)

type Server struct {
	repo           Repository
	vapidPublicKey string
	now            func() time.Time
}

func NewServer(repo Repository, vapidPublicKey string) *Server {
	return &Server{repo: repo, vapidPublicKey: vapidPublicKey, now: time.Now}
}

func (s *Server) Routes(r chi.Router) {
	r.Get("/vapid-public-key", s.GetVapidPublicKey)
	r.Post("/", s.Register)
	r.Delete("/", s.Unregister)
}

type registerRequest struct {
	Endpoint  string `json:"endpoint"`
	P256dhKey string `json:"p256dhKey"`
	AuthKey   string `json:"authKey"`
}

func (s *Server) GetVapidPublicKey(w http.ResponseWriter, r *http.Request) {
	if s.vapidPublicKey == "" {
		cerr.SetNewJSONError(r.Context(), cerr.FailedPrecondition, "VAPID keys not configured", nil)
		return
	}
	cerr.SetJSONResponse(r.Context(), map[string]string{"publicKey": s.vapidPublicKey})
}

// Register is idempotent per endpoint: a known endpoint gets its keys and
// owner refreshed.
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, ok := authz.ClaimsFromContext(ctx)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "unauthenticated", nil)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "malformed request body", err)
		return
	}
	switch {
	case req.Endpoint == "":
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "endpoint is required", nil)
		return
	case req.P256dhKey == "":
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "p256dhKey is required", nil)
		return
	case req.AuthKey == "":
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "authKey is required", nil)
		return
	}

	sub, err := s.repo.FindByEndpoint(ctx, req.Endpoint)
	switch {
	case err == nil:
	case cerr.IsCode(err, cerr.NotFound):
		sub = &Subscription{ID: ulid.Make().String(), Endpoint: req.Endpoint, CreatedAt: s.now().UTC()}
	default:
		cerr.SetJSONError(ctx, err)
		return
	}
	sub.UserID = c.Subject
	sub.P256dhKey = req.P256dhKey
	sub.AuthKey = req.AuthKey
	if err := s.repo.Put(ctx, sub); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, sub)
}

func (s *Server) Unregister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, ok := authz.ClaimsFromContext(ctx)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "unauthenticated", nil)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "endpoint is required", err)
		return
	}
	sub, err := s.repo.FindByEndpoint(ctx, req.Endpoint)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if sub.UserID != c.Subject {
		cerr.SetNewJSONError(ctx, cerr.NotFound, "push subscription not found", nil)
		return
	}
	if err := s.repo.Delete(ctx, sub.ID); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]string{"id": sub.ID})
}
