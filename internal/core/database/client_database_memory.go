package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/markdave123-py/lawgpt/internal/core"
	"github.com/markdave123-py/lawgpt/internal/models"
)

// MemoryClient keeps everything in process memory. It backs DB_DRIVER=memory
// and the service tests. Values are copied on the way in and out so callers
// never share slices with the store.
type MemoryClient struct {
	mu       sync.RWMutex
	users    map[string]models.User
	sessions map[string]models.ChatSession
	files    map[string]models.StoredFile
	now      func() time.Time
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		users:    map[string]models.User{},
		sessions: map[string]models.ChatSession{},
		files:    map[string]models.StoredFile{},
		now:      time.Now,
	}
}

func (c *MemoryClient) Close(context.Context) error { return nil }

func (c *MemoryClient) CreateUser(_ context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	email := normalizeEmail(user.Email)
	for _, u := range c.users {
		if u.Email == email {
			return core.ErrEmailTaken
		}
	}
	u := *user
	u.Email = email
	c.users[u.ID] = u
	return nil
}

func (c *MemoryClient) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	email = normalizeEmail(email)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, u := range c.users {
		if u.Email == email {
			out := u
			return &out, nil
		}
	}
	return nil, core.ErrNotFound
}

func (c *MemoryClient) GetUserByID(_ context.Context, id string) (*models.User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &u, nil
}

// UpdateUser writes only the profile fields; counters stay as stored.
func (c *MemoryClient) UpdateUser(_ context.Context, user *models.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[user.ID]
	if !ok {
		return core.ErrNotFound
	}
	email := normalizeEmail(user.Email)
	for id, other := range c.users {
		if id != user.ID && other.Email == email {
			return core.ErrEmailTaken
		}
	}
	u.FirstName = user.FirstName
	u.LastName = user.LastName
	u.MobileNumber = user.MobileNumber
	u.Email = email
	u.FavoriteFeature = user.FavoriteFeature
	u.UpdatedAt = c.now()
	c.users[u.ID] = u
	user.UpdatedAt = u.UpdatedAt
	return nil
}

func (c *MemoryClient) AdjustTotalChats(_ context.Context, userID string, delta int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[userID]
	if !ok {
		return core.ErrNotFound
	}
	u.TotalChats = max(0, u.TotalChats+delta)
	c.users[userID] = u
	return nil
}

func (c *MemoryClient) CreateSession(_ context.Context, session *models.ChatSession) error {
	if session == nil {
		return errors.New("nil session")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sessions {
		if s.ConversationID == session.ConversationID {
			return errors.Errorf("duplicate conversation id %s", session.ConversationID)
		}
	}
	c.sessions[session.ID] = cloneSession(*session)
	return nil
}

func (c *MemoryClient) GetSession(_ context.Context, userID, sessionID string) (*models.ChatSession, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[sessionID]
	if !ok || s.UserID != userID {
		return nil, core.ErrNotFound
	}
	out := cloneSession(s)
	return &out, nil
}

func (c *MemoryClient) ListSessions(_ context.Context, userID string) ([]models.ChatSession, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := []models.ChatSession{}
	for _, s := range c.sessions {
		if s.UserID == userID {
			out = append(out, cloneSession(s))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (c *MemoryClient) CountSessions(_ context.Context, userID string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, s := range c.sessions {
		if s.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (c *MemoryClient) UpdateSessionTitle(_ context.Context, userID, sessionID, title string) (*models.ChatSession, error) {
	return c.mutateSession(userID, sessionID, func(s *models.ChatSession) { s.Title = title })
}

func (c *MemoryClient) SaveMessages(_ context.Context, userID, sessionID string, messages []models.Message) (*models.ChatSession, error) {
	return c.mutateSession(userID, sessionID, func(s *models.ChatSession) {
		s.Messages = append([]models.Message(nil), messages...)
	})
}

func (c *MemoryClient) mutateSession(userID, sessionID string, fn func(s *models.ChatSession)) (*models.ChatSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok || s.UserID != userID {
		return nil, core.ErrNotFound
	}
	fn(&s)
	s.UpdatedAt = c.now()
	c.sessions[sessionID] = cloneSession(s)
	out := cloneSession(s)
	return &out, nil
}

func (c *MemoryClient) DeleteSession(_ context.Context, userID, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok || s.UserID != userID {
		return core.ErrNotFound
	}
	delete(c.sessions, sessionID)
	return nil
}

func (c *MemoryClient) CreateFile(_ context.Context, file *models.StoredFile) error {
	if file == nil {
		return errors.New("nil file")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[file.ID] = *file
	return nil
}

func (c *MemoryClient) GetFile(_ context.Context, userID, fileID string) (*models.StoredFile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.files[fileID]
	if !ok || f.UserID != userID {
		return nil, core.ErrNotFound
	}
	return &f, nil
}

func (c *MemoryClient) DeleteFile(_ context.Context, userID, fileID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.files[fileID]
	if !ok || f.UserID != userID {
		return core.ErrNotFound
	}
	delete(c.files, fileID)
	return nil
}

func (c *MemoryClient) ListFilesBefore(_ context.Context, cutoff time.Time) ([]models.StoredFile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []models.StoredFile
	for _, f := range c.files {
		if f.UploadedAt.Before(cutoff) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.Before(out[j].UploadedAt) })
	return out, nil
}

func cloneSession(s models.ChatSession) models.ChatSession {
	msgs := make([]models.Message, len(s.Messages))
	for i, m := range s.Messages {
		if m.FileMetadata != nil {
			fm := *m.FileMetadata
			m.FileMetadata = &fm
		}
		msgs[i] = m
	}
	s.Messages = msgs
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var _ core.DbClient = (*MemoryClient)(nil)
