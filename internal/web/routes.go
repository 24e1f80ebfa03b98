package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/kozaktomas/face-finder/internal/logging"
	"github.com/kozaktomas/face-finder/internal/web/handlers"
	"github.com/kozaktomas/face-finder/internal/web/static"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	uploadHandler := handlers.NewUploadHandler(s.deps.Ingest)
	searchHandler := handlers.NewSearchHandler(s.config, s.deps.Search)
	imagesHandler := handlers.NewImagesHandler(s.deps.Blobs)
	statsHandler := handlers.NewStatsHandler(s.deps.Images, s.deps.Blobs, s.deps.MaxRecords)

	// Search page and upload page
	s.router.Get("/", servePage("index.html"))
	s.router.Get("/admin", servePage("admin.html"))

	s.router.Get("/health", handlers.HealthCheck)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/stats", statsHandler.Get)

	// Upload and search run the embedding model, so they are rate limited per client
	s.router.Group(func(r chi.Router) {
		r.Use(s.rateLimit())
		r.Post("/upload", uploadHandler.Upload)
		r.Post("/search", searchHandler.Search)
	})

	// Stored images
	s.router.Get("/download/{image_id}", imagesHandler.Download)
	s.router.Get("/get_image/{image_id}", imagesHandler.GetImage)
	s.router.Get("/view/{image_id}", imagesHandler.View)
}

// rateLimit limits requests per IP per minute; a zero limit disables it.
func (s *Server) rateLimit() func(http.Handler) http.Handler {
	if s.config.Server.RateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.LimitByIP(s.config.Server.RateLimit, time.Minute)
}

// servePage serves one of the embedded HTML pages.
func servePage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := static.Page(name)
		if err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Str("page", name).Msg("embedded page missing")
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(page) //nolint:errcheck // client went away
	}
}
