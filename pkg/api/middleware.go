package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/metrics"
	"github.com/artifortress/artifortress/pkg/types"
)

type ctxKey int

const principalKey ctxKey = iota

// principalFrom returns the authenticated principal stored by the
// authenticate middleware
func principalFrom(ctx context.Context) (types.Principal, bool) {
	principal, ok := ctx.Value(principalKey).(types.Principal)
	return principal, ok
}

// logRequests writes one structured line per request once the handler
// finished
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		timer := metrics.NewTimer()

		next.ServeHTTP(ww, r)

		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", timer.Duration()).
			Str("requestId", middleware.GetReqID(r.Context())).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

// recoverPanics turns a handler panic into a 500 envelope instead of a
// dropped connection
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error().
					Interface("panic", rec).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("handler panicked")
				writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
					"error":   "internal",
					"message": "internal error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// instrument records the request counter and duration histogram labeled
// by the matched route pattern, so path parameters never explode the
// cardinality
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		timer := metrics.NewTimer()

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.APIRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method, route)
	})
}

// authenticate resolves the bearer token to a principal and stores it in
// the request context. Requests without a resolvable credential stop
// here with 401.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := s.mgr.Tenant()
		if tenant == nil {
			writeError(w, s.logger, errs.Unavailable("not_ready", "tenant not resolved yet"))
			return
		}

		bearer := bearerToken(r)
		principal, err := s.mgr.Authenticator().Authenticate(r.Context(), tenant.TenantID, bearer)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from the Authorization header
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
