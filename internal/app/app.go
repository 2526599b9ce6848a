package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/lawgpt/internal/config"
	"github.com/markdave123-py/lawgpt/internal/core"
	"github.com/markdave123-py/lawgpt/internal/core/cache"
	db "github.com/markdave123-py/lawgpt/internal/core/database"
	"github.com/markdave123-py/lawgpt/internal/core/events"
	"github.com/markdave123-py/lawgpt/internal/core/extraction"
	"github.com/markdave123-py/lawgpt/internal/core/llm"
	objectclient "github.com/markdave123-py/lawgpt/internal/core/object-client"
	"github.com/markdave123-py/lawgpt/internal/services"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	Config        *config.Config
	DBClient      core.DbClient
	ObjectClient  core.ObjectClient
	Bus           *events.Bus
	Hub           *events.Hub
	Users         *services.UserService
	Sessions      *services.SessionService
	Files         *services.FileService
	Conversations *services.ConversationService
	Server        *Server

	closers []func() error
}

// NewApp connects every backing service and wires the HTTP server.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	appCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	dbClient, err := db.NewClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBClient = dbClient
	a.closers = append(a.closers, func() error {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return dbClient.Close(closeCtx)
	})
	log.Info().Str("driver", cfg.DBDriver).Msg("database initialized and ready")

	objClient, err := objectclient.New(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.ObjectClient = objClient
	log.Info().Str("backend", cfg.StorageBackend).Msg("object client initialized and ready")

	textCache, err := cache.New(appCtx, cfg.RedisURL, cfg.TextCacheTTL)
	if err != nil {
		return nil, err
	}
	if rc, isRedis := textCache.(*cache.RedisCache); isRedis {
		a.closers = append(a.closers, rc.Close)
	}

	provider, err := a.newLLM(appCtx, cfg)
	if err != nil {
		return nil, err
	}

	switch cfg.EventsBackend {
	case config.EventsRedis:
		a.Bus, err = events.NewRedisBus(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
	default:
		a.Bus = events.NewMemoryBus()
	}
	a.closers = append(a.closers, a.Bus.Close)
	a.Hub = events.NewHub(cfg.CORSOrigins)

	secret := cfg.JWTSecret
	if secret == "" {
		secret = randomSecret()
		log.Warn().Msg("JWT_SECRET not set; using a random secret, tokens will not survive a restart")
	}

	a.Users = services.NewUserService(dbClient, services.NewTokenManager(secret, cfg.JWTTTL))
	a.Sessions = services.NewSessionService(dbClient, a.Bus)
	a.Files = services.NewFileService(dbClient, objClient, extraction.NewDocconvExtractor(false), textCache)
	a.Conversations = services.NewConversationService(dbClient, a.Sessions, a.Files, provider, a.Bus,
		services.ConversationOptions{DefaultModel: cfg.DefaultModel, MaxContextChars: cfg.MaxContextChars})

	a.Server = NewServer(cfg.Port, NewRouter(RouterDeps{
		Users:         a.Users,
		Sessions:      a.Sessions,
		Files:         a.Files,
		Conversations: a.Conversations,
		Hub:           a.Hub,
		CORSOrigins:   cfg.CORSOrigins,
	}))

	ok = true
	return a, nil
}

func (a *App) newLLM(ctx context.Context, cfg *config.Config) (core.LLMProvider, error) {
	endpoints, err := llm.LoadEndpoints(cfg.ModelEndpointsFile, llm.DefaultEndpoints(cfg.InferenceURL))
	if err != nil {
		return nil, err
	}
	endpointLLM := llm.NewEndpointLLM(endpoints, llm.EndpointOptions{Timeout: cfg.InferenceTimeout, RetryMax: 2})

	var gemini core.LLMProvider
	if cfg.GeminiAPIKey != "" {
		g, err := llm.NewGeminiLLM(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, errors.Wrap(err, "couldn't initialize gemini")
		}
		a.closers = append(a.closers, g.Close)
		gemini = g
	}
	log.Info().Int("models", len(endpoints)).Bool("gemini", gemini != nil).Msg("inference providers ready")
	return llm.NewRouter(endpointLLM, gemini), nil
}

// Run serves HTTP and the event feed until ctx is cancelled, then shuts
// down gracefully.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return a.Bus.Forward(gctx, a.Hub)
	})
	g.Go(a.Server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Cleanup deletes uploaded files older than maxAge.
func (a *App) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	return a.Files.CleanupOlderThan(ctx, maxAge)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close")
		}
	}
	a.closers = nil
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
