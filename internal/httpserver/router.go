package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"parcelchat/internal/blob"
	"parcelchat/internal/config"
	"parcelchat/internal/domain"
	"parcelchat/internal/security"
	"parcelchat/internal/service"
	"parcelchat/internal/ws"
)

// NewRouter constructs the main HTTP router and wires routes and middleware
// around the already-constructed services.
func NewRouter(
	cfg *config.Config,
	log *zap.Logger,
	tokens *security.TokenService,
	users domain.UserRepository,
	convSvc *service.ConversationService,
	msgSvc *service.MessageService,
	gateway *ws.Gateway,
	storage blob.Storage,
) http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"message": cfg.AppName,
			"version": "1.0.0",
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(tokens, users, log))

			r.Route("/chat", func(r chi.Router) {
				r.Route("/conversations", func(r chi.Router) {
					r.Get("/", handleListConversations(convSvc))
					r.Get("/{conversationID}/messages", handleListMessages(convSvc, msgSvc))
					r.Post("/{conversationID}/read", handleMarkConversationRead(convSvc))
				})
				r.Post("/upload/image", handleUpload(storage, imageExts))
				r.Post("/upload/audio", handleUpload(storage, audioExts))
			})

			r.Mount("/uploads", UploadRoutes(storage))
		})
	})

	// WebSocket endpoint; the gateway authenticates in-band.
	r.Get("/ws", gateway.MakeHandler(cfg.CORSOrigins))

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
