package internal

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kazz187/taskwarden/internal/authz"
	"github.com/kazz187/taskwarden/internal/config"
	"github.com/kazz187/taskwarden/internal/event"
	"github.com/kazz187/taskwarden/internal/notification"
	"github.com/kazz187/taskwarden/internal/pushsubscription"
	"github.com/kazz187/taskwarden/internal/scanner"
	"github.com/kazz187/taskwarden/internal/task"
	"github.com/kazz187/taskwarden/internal/user"
	"github.com/kazz187/taskwarden/pkg/cerr"
	"github.com/kazz187/taskwarden/pkg/clog"
)

// maintenanceCaller stands in for schedulers that authenticate with the API key.
var maintenanceCaller = &authz.Claims{Subject: "maintenance"}

type Server struct {
	server                 *http.Server
	env                    *config.Env
	verifier               *authz.Verifier
	policy                 *authz.Policy
	taskServer             *task.Server
	userServer             *user.Server
	notificationServer     *notification.Server
	pushSubscriptionServer *pushsubscription.Server
	eventServer            *event.Server
	scanServer             *scanner.Server
}

func NewServer(
	env *config.Env,
	verifier *authz.Verifier,
	policy *authz.Policy,
	taskServer *task.Server,
	userServer *user.Server,
	notificationServer *notification.Server,
	pushSubscriptionServer *pushsubscription.Server,
	eventServer *event.Server,
	scanServer *scanner.Server,
) *Server {
	return &Server{
		env:                    env,
		verifier:               verifier,
		policy:                 policy,
		taskServer:             taskServer,
		userServer:             userServer,
		notificationServer:     notificationServer,
		pushSubscriptionServer: pushSubscriptionServer,
		eventServer:            eventServer,
		scanServer:             scanServer,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Route("/api", func(r chi.Router) {
		r.Use(
			clog.SlogChiMiddleware(clog.WithChiFilter(func(r *http.Request) bool {
				// Event streams log their own open and close.
				return r.URL.Path != "/api/events"
			})),
			cerr.NewJSONResponseChiMiddleware(),
		)
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
		})
		r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
			cerr.SetNewJSONError(r.Context(), cerr.Unimplemented, "method not allowed", nil)
		})

		r.Route("/internal", func(r chi.Router) {
			r.Use(s.maintenanceMiddleware)
			r.Post("/scan", s.scanServer.RunScan)
			r.Post("/tasks/{taskId}/expire", s.taskServer.ExpireTask)
		})

		r.Group(func(r chi.Router) {
			r.Use(authz.Middleware(s.verifier))
			r.Route("/tasks", s.taskServer.Routes)
			r.Route("/users", s.userServer.Routes)
			r.Route("/notifications", s.notificationServer.Routes)
			r.Route("/push-subscriptions", s.pushSubscriptionServer.Routes)
			r.Get("/events", s.eventServer.SubscribeEvents)
		})
	})

	return h2c.NewHandler(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(r), &http2.Server{})
}

// ListenAndServe starts the HTTP server. ctx is the base context of every
// request, so cancelling it also ends open event streams.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// maintenanceMiddleware admits either the configured API key or an admin
// bearer token.
func (s *Server) maintenanceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if key := r.Header.Get("X-API-Key"); key != "" {
			if s.env.APIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.env.APIKey)) != 1 {
				cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "invalid api key", nil)
				return
			}
			clog.AddAttribute(ctx, "caller", maintenanceCaller.Subject)
			next.ServeHTTP(w, r.WithContext(authz.ContextWithClaims(ctx, maintenanceCaller)))
			return
		}
		authz.Middleware(s.verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, _ := authz.ClaimsFromContext(r.Context())
			if err := s.policy.Require(authz.RunMaintenance, c, authz.Resource{}); err != nil {
				cerr.SetJSONError(r.Context(), err)
				return
			}
			next.ServeHTTP(w, r)
		})).ServeHTTP(w, r)
	})
}
