package authz

import (
	"net/http"
	"strings"

	"github.com/kazz187/taskwarden/pkg/cerr"
	"github.com/kazz187/taskwarden/pkg/clog"
)

// Middleware authenticates the bearer token and stores the claims in the
// request context. It must run inside cerr.NewJSONResponseChiMiddleware.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := bearerToken(r)
			if !ok {
				cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "missing bearer token", nil)
				return
			}
			claims, err := v.Verify(token)
			if err != nil {
				cerr.SetJSONError(ctx, err)
				return
			}
			clog.AddAttribute(ctx, "caller", claims.Subject)
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(ctx, claims)))
		})
	}
}

// bearerToken also accepts an access_token query parameter, since
// EventSource cannot set headers.
func bearerToken(r *http.Request) (string, bool) {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && token != "" {
		return token, true
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, true
	}
	return "", false
}
