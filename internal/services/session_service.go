package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/lawgpt/internal/core"
	"github.com/markdave123-py/lawgpt/internal/models"
)

type SessionService struct {
	db     core.DbClient
	events notifier
}

func NewSessionService(db core.DbClient, events core.EventPublisher) *SessionService {
	return &SessionService{db: db, events: notifier{pub: events}}
}

// Create opens a consultation that starts with the assistant's greeting.
func (s *SessionService) Create(ctx context.Context, userID, title string) (*models.ChatSession, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = models.NewSessionTitle
	}
	now := time.Now().UTC()
	greeting := models.Message{
		ID:        uuid.NewString(),
		Sender:    models.SenderBot,
		Message:   models.GreetingMessage,
		Timestamp: now,
	}
	session, err := s.insert(ctx, userID, title, []models.Message{greeting}, now)
	if err != nil {
		return nil, err
	}
	s.events.publish(ctx, core.EventSessionUpdated, userID, session)
	return session, nil
}

// insert persists a new session and bumps the owner's chat counter.
func (s *SessionService) insert(ctx context.Context, userID, title string, messages []models.Message, now time.Time) (*models.ChatSession, error) {
	if messages == nil {
		messages = []models.Message{}
	}
	session := &models.ChatSession{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: models.NewConversationID(now),
		Title:          title,
		Messages:       messages,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	if err := s.db.AdjustTotalChats(ctx, userID, 1); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("increment totalChats")
	}
	log.Info().Str("user_id", userID).Str("session_id", session.ID).Msg("session created")
	return session, nil
}

// discard removes a session created by insert that never got a message.
func (s *SessionService) discard(ctx context.Context, userID, sessionID string) {
	if err := s.db.DeleteSession(ctx, userID, sessionID); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Str("session_id", sessionID).Msg("discard session")
		return
	}
	if err := s.db.AdjustTotalChats(ctx, userID, -1); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("decrement totalChats")
	}
}

func (s *SessionService) List(ctx context.Context, userID string) ([]models.ChatSession, error) {
	return s.db.ListSessions(ctx, userID)
}

func (s *SessionService) Get(ctx context.Context, userID, sessionID string) (*models.ChatSession, error) {
	return s.db.GetSession(ctx, userID, sessionID)
}

func (s *SessionService) Rename(ctx context.Context, userID, sessionID, title string) (*models.ChatSession, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.Wrap(core.ErrInvalidInput, "title is required")
	}
	session, err := s.db.UpdateSessionTitle(ctx, userID, sessionID, title)
	if err != nil {
		return nil, err
	}
	s.events.publish(ctx, core.EventSessionUpdated, userID, session)
	return session, nil
}

func (s *SessionService) Delete(ctx context.Context, userID, sessionID string) error {
	session, err := s.db.GetSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if err := s.db.DeleteSession(ctx, userID, sessionID); err != nil {
		return err
	}
	if err := s.db.AdjustTotalChats(ctx, userID, -1); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("decrement totalChats")
	}
	log.Info().Str("user_id", userID).Str("session_id", sessionID).Msg("session deleted")
	s.events.publish(ctx, core.EventSessionDeleted, userID, session)
	return nil
}
