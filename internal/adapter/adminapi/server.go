// Package adminapi exposes the ambient control surface shared by every
// worker role: health/readiness probes, Prometheus metrics, and a manual
// rescan trigger for operators (spec.md's domain stack expansion; not
// present in the original spec.md, added because every teacher-style
// service carries one).
package adminapi

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/louisb0/talos/internal/domain"
)

// Config controls the admin surface's auth and readiness behaviour.
type Config struct {
	Username     string
	PasswordHash string
	AuthEnabled  bool
}

// Pinger reports whether a downstream dependency is reachable, used for
// the readiness probe.
type Pinger interface {
	Ping(ctx domain.Context) error
}

// Server is the admin/control HTTP surface.
type Server struct {
	router  chi.Router
	subs    domain.SubscriptionRepository
	db      Pinger
	cfg     Config
}

// New builds the admin router. subs is used by the manual-rescan endpoint;
// db is used by the readiness probe.
func New(cfg Config, subs domain.SubscriptionRepository, db Pinger) *Server {
	s := &Server{subs: subs, db: db, cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))
	r.Use(httprate.LimitAll(60, time.Minute))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(s.basicAuth)
		}
		r.Post("/admin/rescan/{community}", s.handleManualRescan)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			slog.Warn("readiness check failed", slog.Any("error", err))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleManualRescan(w http.ResponseWriter, r *http.Request) {
	community := chi.URLParam(r, "community")
	if community == "" {
		http.Error(w, "community is required", http.StatusBadRequest)
		return
	}
	if err := s.subs.ClearForManualRescan(r.Context(), community); err != nil {
		slog.Error("manual rescan trigger failed", slog.String("community", community), slog.Any("error", err))
		http.Error(w, "rescan trigger failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Username)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="talos-admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.PasswordHash), []byte(pass)); err != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="talos-admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
