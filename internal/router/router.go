package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kiwari-pos/tableorder/internal/config"
	"github.com/kiwari-pos/tableorder/internal/enum"
	"github.com/kiwari-pos/tableorder/internal/handler"
	mw "github.com/kiwari-pos/tableorder/internal/middleware"
	"github.com/kiwari-pos/tableorder/internal/ws"
	"go.uber.org/zap"
)

// New creates a Chi router with all application routes wired up.
// Draft endpoints require a valid token for any of the table ordering roles.
func New(cfg *config.Config, drafts handler.DraftServicer, hub *ws.Hub, log *zap.Logger) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/businesses/{bid}/orders", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, r)
	})

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))
		r.Use(mw.RequireRole(enum.RoleCustomer, enum.RoleWaiter, enum.RoleManager))

		draftHandler := handler.NewDraftHandler(drafts, log.Named("drafts"))
		r.Route("/drafts", draftHandler.RegisterRoutes)
	})

	return r
}
