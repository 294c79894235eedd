package web

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/signonhq/signon/pkg/observability"
)

// NewRouter wires the sign-in routes with request-ID, logging, metrics and
// tracing middleware. metrics may be nil.
func NewRouter(h *Handler, logger *observability.Logger, metrics *observability.Metrics) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc(h.cfg.LoginPath, h.Login).Methods(http.MethodGet)
	r.HandleFunc(h.cfg.AuthorizePath, h.Authorize).Methods(http.MethodGet)
	r.HandleFunc(h.cfg.CallbackPath, h.Callback).Methods(http.MethodGet)
	r.Handle(h.cfg.LandingPath, h.RequireLogin(http.HandlerFunc(h.Landing))).Methods(http.MethodGet)
	r.HandleFunc(h.cfg.LogoutPath, h.Logout).Methods(http.MethodGet, http.MethodPost)

	var handler http.Handler = r
	if metrics != nil {
		handler = metrics.MetricsMiddleware(handler)
	}
	handler = requestLogging(logger)(handler)
	handler = requestID(logger, h.cookieName())(handler)
	return otelhttp.NewHandler(handler, "signon")
}

// requestID assigns each request an ID and threads it plus the session ID
// and logger through the context.
func requestID(logger *observability.Logger, cookieName string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)

			ctx := observability.WithRequestID(r.Context(), id)
			ctx = observability.WithLogger(ctx, logger)
			if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
				ctx = observability.WithSessionID(ctx, cookie.Value)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestLogging emits one line per request.
func requestLogging(logger *observability.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &loggingRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			observability.FromContext(r.Context()).WithFields(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Info("Request handled")
		})
	}
}

type loggingRecorder struct {
	http.ResponseWriter
	status int
}

func (r *loggingRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
