// Package server assembles the HTTP router.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/fdfsweb/gateway/internal/file"
	appMiddleware "github.com/fdfsweb/gateway/internal/middleware"
)

// Options tune the router around the file handler.
type Options struct {
	// JWTSecret protects the delete endpoint when non-empty.
	JWTSecret string
	// UploadQPS caps upload requests per second; 0 disables the limit.
	UploadQPS int
	// EnableCatalog mounts the upload listing.
	EnableCatalog bool
}

// NewRouter returns the HTTP handler of the gateway.
func NewRouter(h *file.Handler, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	// Swagger UI at /swagger/index.html
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/fdfs", func(r chi.Router) {
		r.With(appMiddleware.RateLimit(opts.UploadQPS)).Post("/upload", h.Upload)
		r.Get("/download", h.Download)
		r.Get("/metadata", h.Metadata)

		r.Group(func(r chi.Router) {
			if opts.JWTSecret != "" {
				r.Use(appMiddleware.RequireAuth(opts.JWTSecret))
			}
			r.Delete("/delete", h.Delete)
		})

		if opts.EnableCatalog {
			r.Get("/files", h.List)
		}
	})

	return r
}
