package chi

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/cardsense/internal/metrics"
)

// NewRouter wires the middleware stack and the server routes.
func NewRouter(s *Server, apiKeys []string, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(Recoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(BearerAuthMiddleware(apiKeys))
	r.Use(metrics.Middleware())
	s.Routes(r)
	return r
}
