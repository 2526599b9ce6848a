package core

import (
	"context"
	"io"
	"time"

	"github.com/markdave123-py/lawgpt/internal/models"
)

// DbClient defines all persistence operations the services need.
// It abstracts MongoDB/Postgres so higher layers never depend on a specific DB.
// Session and file lookups are always scoped to the owning user.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	// AdjustTotalChats adds delta to the counter, never going below zero.
	AdjustTotalChats(ctx context.Context, userID string, delta int) error

	CreateSession(ctx context.Context, session *models.ChatSession) error
	GetSession(ctx context.Context, userID, sessionID string) (*models.ChatSession, error)
	ListSessions(ctx context.Context, userID string) ([]models.ChatSession, error)
	CountSessions(ctx context.Context, userID string) (int, error)
	UpdateSessionTitle(ctx context.Context, userID, sessionID, title string) (*models.ChatSession, error)
	// SaveMessages replaces the whole message list and bumps updatedAt.
	SaveMessages(ctx context.Context, userID, sessionID string, messages []models.Message) (*models.ChatSession, error)
	DeleteSession(ctx context.Context, userID, sessionID string) error

	CreateFile(ctx context.Context, file *models.StoredFile) error
	GetFile(ctx context.Context, userID, fileID string) (*models.StoredFile, error)
	DeleteFile(ctx context.Context, userID, fileID string) error
	ListFilesBefore(ctx context.Context, cutoff time.Time) ([]models.StoredFile, error)

	Close(ctx context.Context) error
}

// ObjectClient defines interactions with S3 or any blob storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data io.Reader, size int64, contentType string) (url string, err error)
	GetObjectReader(ctx context.Context, key string) (io.ReadCloser, error)
	DeleteFile(ctx context.Context, key string) error
}

// TextCache keeps extracted document text keyed by file id.
type TextCache interface {
	Get(ctx context.Context, fileID string) (text string, ok bool, err error)
	Set(ctx context.Context, fileID, text string) error
	Delete(ctx context.Context, fileID string) error
}

// EventPublisher fans conversation events out to live clients.
type EventPublisher interface {
	Publish(ctx context.Context, ev ConversationEvent) error
}

// Conversation event types.
const (
	EventTyping         = "typing"
	EventDone           = "done"
	EventSessionUpdated = "session.updated"
	EventSessionDeleted = "session.deleted"
)

// ConversationEvent is what the websocket feed delivers to the owning user.
type ConversationEvent struct {
	Type           string              `json:"type"`
	UserID         string              `json:"userId"`
	ConversationID string              `json:"conversationId"`
	Session        *models.ChatSession `json:"session,omitempty"`
	At             time.Time           `json:"at"`
}
