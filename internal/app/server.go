package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/lawgpt/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/lawgpt/internal/api/middlewares"
	"github.com/markdave123-py/lawgpt/internal/core/events"
	"github.com/markdave123-py/lawgpt/internal/services"
)

// requestTimeout bounds a whole request, inference included.
const requestTimeout = 3 * time.Minute

// RouterDeps is what the HTTP layer needs from the app.
type RouterDeps struct {
	Users         *services.UserService
	Sessions      *services.SessionService
	Files         *services.FileService
	Conversations *services.ConversationService
	Hub           *events.Hub
	CORSOrigins   []string
}

// NewRouter builds and wires all routes.
func NewRouter(d RouterDeps) http.Handler {
	authHandler := handlers.NewAuthHandler(d.Users)
	chatHandler := handlers.NewChatHandler(d.Sessions, d.Conversations)
	fileHandler := handlers.NewFileHandler(d.Files)
	eventsHandler := handlers.NewEventsHandler(d.Hub, d.Users)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appMiddleware.RequestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Route("/api", func(api chi.Router) {
		// the websocket must not sit behind the timeout middleware
		api.Get("/ws", eventsHandler.Serve)

		api.Group(func(api chi.Router) {
			api.Use(middleware.Timeout(requestTimeout))

			// public endpoints
			api.Post("/auth/signup", authHandler.Signup)
			api.Post("/auth/login", authHandler.Login)

			// protected endpoints
			api.Group(func(protected chi.Router) {
				protected.Use(appMiddleware.JWTMiddleware(d.Users))

				protected.Get("/auth/profile", authHandler.Profile)
				protected.Put("/auth/profile", authHandler.UpdateProfile)

				protected.Route("/conversation", func(c chi.Router) {
					c.Get("/", chatHandler.ListSessions)
					c.Post("/", chatHandler.SendMessage)
					c.Post("/new", chatHandler.CreateSession)
					c.Put("/{id}", chatHandler.RenameSession)
					c.Delete("/{id}", chatHandler.DeleteSession)
					c.Put("/{id}/messages/{messageId}", chatHandler.EditMessage)
					c.Post("/{id}/messages/{messageId}/regenerate", chatHandler.Regenerate)
				})
				protected.Post("/chat/upload", chatHandler.UploadAndSend)

				protected.Post("/files/upload", fileHandler.UploadFiles)
				protected.Get("/files/types", fileHandler.SupportedTypes)
				protected.Get("/files/{fileId}", fileHandler.Download)
				protected.Delete("/files/{fileId}", fileHandler.Delete)
			})
		})
	})

	return r
}

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

func NewServer(port string, handler http.Handler) *Server {
	return &Server{httpServer: &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
