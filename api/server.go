/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:      Unique ID per request for tracing
  2. RequestLogger:  zap request log (status, duration, request ID, user)
  3. Recoverer:      Panic recovery (500 instead of crash)
  4. CORS:           Cross-origin requests for frontend
  5. Authenticated:  Bearer token check (all routes but register/login)

ROUTE GROUPS:
  /api/register, /api/login   Public
  /api/me/*                   Account and history
  /api/books/*                Catalog
  /api/download/{id}          Purchased content
  /api/purchase, /api/topup   Two-phase transactions
  /api/challenges/{id}        Transaction state
  /api/scenarios/*            Demo scenarios (dev mode only)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// DevMode mounts the scenario routes, which reset the store.
	DevMode        bool
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(Authenticated(h.Tokens()))

			r.Route("/me", func(r chi.Router) {
				r.Get("/", h.GetMe)
				r.Get("/ledger", h.GetLedger)
				r.Get("/purchases", h.GetPurchases)
			})

			r.Route("/books", func(r chi.Router) {
				r.Get("/", h.ListBooks)
				r.Get("/{id}", h.GetBook)
			})
			r.Get("/download/{id}", h.DownloadBook)

			r.Post("/purchase", h.RequestPurchase)
			r.Put("/purchase", h.ConfirmPurchase)
			r.Post("/topup", h.RequestTopUp)
			r.Put("/topup", h.ConfirmTopUp)

			r.Get("/challenges/{id}", h.GetChallenge)
		})

		if opts.DevMode {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found", nil)
	})

	return r
}
