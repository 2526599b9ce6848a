package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/markdave123-py/lawgpt/internal/core"
	"github.com/markdave123-py/lawgpt/internal/core/cache"
	db "github.com/markdave123-py/lawgpt/internal/core/database"
	"github.com/markdave123-py/lawgpt/internal/core/extraction"
	objectclient "github.com/markdave123-py/lawgpt/internal/core/object-client"
	"github.com/markdave123-py/lawgpt/internal/models"
)

type stubLLM struct {
	mu      sync.Mutex
	prompts []string
	models  []string
	reply   func(model, prompt string) (string, error)
}

func (s *stubLLM) Generate(_ context.Context, model, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.models = append(s.models, model)
	fn := s.reply
	s.mu.Unlock()
	if fn == nil {
		return "⚖ stub answer", nil
	}
	return fn(model, prompt)
}

func (s *stubLLM) lastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prompts) == 0 {
		return ""
	}
	return s.prompts[len(s.prompts)-1]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []core.ConversationEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev core.ConversationEvent) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type testEnv struct {
	db            *db.MemoryClient
	store         *objectclient.MemoryClient
	cache         *cache.MemoryCache
	llm           *stubLLM
	events        *recordingPublisher
	users         *UserService
	sessions      *SessionService
	files         *FileService
	conversations *ConversationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		db:     db.NewMemoryClient(),
		store:  objectclient.NewMemoryClient(),
		cache:  cache.NewMemoryCache(time.Hour),
		llm:    &stubLLM{},
		events: &recordingPublisher{},
	}
	env.users = NewUserService(env.db, NewTokenManager("test-secret", time.Hour))
	env.users.cost = bcrypt.MinCost
	env.sessions = NewSessionService(env.db, env.events)
	env.files = NewFileService(env.db, env.store, extraction.NewDocconvExtractor(false), env.cache)
	env.conversations = NewConversationService(env.db, env.sessions, env.files, env.llm, env.events,
		ConversationOptions{DefaultModel: "LAWGPT-4", MaxContextChars: 200})
	return env
}

func (e *testEnv) signup(t *testing.T, email string) *models.User {
	t.Helper()
	u, err := e.users.Signup(context.Background(), SignupInput{
		FirstName: "Asha", LastName: "Rao", MobileNumber: "9999999999", Email: email, Password: "secret1",
	})
	require.NoError(t, err)
	return u
}

func txtUpload(name, body string) models.Upload {
	return models.Upload{FileName: name, MimeType: "text/plain", Data: []byte(body)}
}
