package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kiwari-pos/kds/internal/config"
	"github.com/kiwari-pos/kds/internal/enum"
	"github.com/kiwari-pos/kds/internal/handler"
	"github.com/kiwari-pos/kds/internal/logging"
	"github.com/kiwari-pos/kds/internal/metrics"
	mw "github.com/kiwari-pos/kds/internal/middleware"
	"github.com/kiwari-pos/kds/internal/ws"
)

// New creates a Chi router with all application routes wired up.
// Applies authentication, venue scoping, and role-based middleware as needed.
func New(cfg *config.Config, svc handler.KitchenServicer, hub *ws.Hub, reg *metrics.Registry) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(logging.Middleware("kds"))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "traceparent"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})
	if reg != nil {
		r.Handle("/metrics", reg.Handler())
	}

	kitchenHandler := handler.NewKitchenHandler(svc)

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/venues/{vid}/orders", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, kitchenHandler.Snapshot, w, r)
	})

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		r.Get("/me", handler.Me)

		// Venue-scoped routes
		r.Route("/venues/{vid}", func(r chi.Router) {
			r.Use(mw.RequireVenue)
			kitchenHandler.RegisterRoutes(r)

			// Front-of-house staff can watch the board but not move cards.
			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole(enum.UserRoleOwner, enum.UserRoleManager, enum.UserRoleKitchen))
				kitchenHandler.RegisterActionRoutes(r)
			})
		})
	})

	slog.Info("router initialized")
	return r
}
