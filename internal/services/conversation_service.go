package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/lawgpt/internal/core"
	"github.com/markdave123-py/lawgpt/internal/models"
)

// SendInput is one chat turn from the client. An empty SessionID starts a
// new session.
type SendInput struct {
	SessionID string
	Text      string
	Model     string
}

// Reply is the outcome of a turn. Session is set even when inference failed,
// so clients can reconcile with what was persisted.
type Reply struct {
	Session  *models.ChatSession
	BotReply string
	File     *models.StoredFile
}

type ConversationOptions struct {
	DefaultModel    string
	MaxContextChars int
}

type ConversationService struct {
	db       core.DbClient
	sessions *SessionService
	files    *FileService
	llm      core.LLMProvider
	events   notifier
	opts     ConversationOptions
	now      func() time.Time

	// ids of sessions with a turn in flight
	busy sync.Map
}

func NewConversationService(db core.DbClient, sessions *SessionService, files *FileService, llm core.LLMProvider,
	events core.EventPublisher, opts ConversationOptions) *ConversationService {
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = 20000
	}
	if opts.DefaultModel == "" {
		opts.DefaultModel = "LAWGPT-4"
	}
	return &ConversationService{
		db:       db,
		sessions: sessions,
		files:    files,
		llm:      llm,
		events:   notifier{pub: events},
		opts:     opts,
		now:      time.Now,
	}
}

// acquire marks a session busy. The returned func releases it.
func (s *ConversationService) acquire(userID, sessionID string) (func(), error) {
	key := userID + "/" + sessionID
	if _, loaded := s.busy.LoadOrStore(key, struct{}{}); loaded {
		return nil, core.ErrSessionBusy
	}
	return func() { s.busy.Delete(key) }, nil
}

// begin opens the session a turn runs in, creating it when sessionID is
// empty. The session stays busy until release is called.
func (s *ConversationService) begin(ctx context.Context, userID, sessionID, firstText string) (*models.ChatSession, func(), error) {
	if sessionID == "" {
		session, err := s.sessions.insert(ctx, userID, models.SessionTitle(firstText), nil, s.now().UTC())
		if err != nil {
			return nil, nil, err
		}
		release, err := s.acquire(userID, session.ID)
		if err != nil {
			return nil, nil, err
		}
		return session, release, nil
	}

	release, err := s.acquire(userID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	session, err := s.db.GetSession(ctx, userID, sessionID)
	if err != nil {
		release()
		return nil, nil, err
	}
	return session, release, nil
}

// SendMessage appends a user message and asks the model for a reply.
func (s *ConversationService) SendMessage(ctx context.Context, userID string, in SendInput) (*Reply, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, errors.Wrap(core.ErrInvalidInput, "message is required")
	}

	session, release, err := s.begin(ctx, userID, in.SessionID, text)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.appendAndReply(ctx, userID, session, s.userMessage(text, nil), in.Model)
}

// SendWithFile stores an uploaded document, attaches it to a new user
// message and asks the model about it.
func (s *ConversationService) SendWithFile(ctx context.Context, userID string, in SendInput, up models.Upload) (*Reply, error) {
	if _, err := s.files.Validate(up); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		text = "Analyze this document: " + up.FileName
	}

	session, release, err := s.begin(ctx, userID, in.SessionID, text)
	if err != nil {
		return nil, err
	}
	defer release()

	saved, err := s.files.Save(ctx, userID, up)
	if err != nil {
		if in.SessionID == "" {
			s.sessions.discard(context.WithoutCancel(ctx), userID, session.ID)
			return nil, err
		}
		return &Reply{Session: session}, err
	}
	meta := saved.Metadata

	reply, err := s.appendAndReply(ctx, userID, session, s.userMessage(text, &meta), in.Model)
	if reply != nil {
		reply.File = saved.File
	}
	return reply, err
}

// EditMessage rewrites a user message, drops everything after it and asks
// for a fresh reply. Attachments stay on the message and are not re-uploaded.
func (s *ConversationService) EditMessage(ctx context.Context, userID, sessionID, messageID, newText, model string) (*Reply, error) {
	release, err := s.acquire(userID, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := s.db.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	kept, idx, err := models.TruncateAfter(session.Messages, messageID)
	if err != nil {
		return nil, errors.Wrap(core.ErrNotFound, "message not found")
	}
	msg := &kept[idx]
	if !msg.IsUser() {
		return nil, core.ErrNotEditable
	}

	newText = strings.TrimSpace(newText)
	switch {
	case newText != "":
		msg.Message = newText
	case msg.FileMetadata == nil:
		return nil, errors.Wrap(core.ErrInvalidInput, "message is required")
	}
	msg.Timestamp = s.now().UTC()

	log.Info().Str("user_id", userID).Str("session_id", sessionID).Str("message_id", messageID).
		Int("dropped", len(session.Messages)-len(kept)).Msg("message edited")

	return s.saveAndReply(ctx, userID, session, kept, *msg, model)
}

// Regenerate discards the reply to a user message and asks again. For a bot
// message the nearest preceding user message is answered again.
func (s *ConversationService) Regenerate(ctx context.Context, userID, sessionID, messageID, model string) (*Reply, error) {
	release, err := s.acquire(userID, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := s.db.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	idx := models.IndexOf(session.Messages, messageID)
	if idx < 0 {
		return nil, errors.Wrap(core.ErrNotFound, "message not found")
	}
	anchor := models.PrecedingUserMessage(session.Messages, idx)
	if anchor < 0 {
		return nil, errors.Wrap(core.ErrInvalidInput, "no user message to answer")
	}

	kept, _, err := models.TruncateAfter(session.Messages, session.Messages[anchor].ID)
	if err != nil {
		return nil, err
	}
	return s.saveAndReply(ctx, userID, session, kept, kept[anchor], model)
}

func (s *ConversationService) userMessage(text string, fm *models.FileMetadata) models.Message {
	return models.Message{
		ID:           uuid.NewString(),
		Sender:       models.SenderUser,
		Message:      text,
		Timestamp:    s.now().UTC(),
		FileMetadata: fm,
	}
}

func (s *ConversationService) appendAndReply(ctx context.Context, userID string, session *models.ChatSession, msg models.Message, model string) (*Reply, error) {
	messages := append(session.Messages, msg)
	return s.saveAndReply(ctx, userID, session, messages, msg, model)
}

// saveAndReply persists messages, then generates an answer to prompt and
// appends it. When inference fails the persisted messages stay as they are.
func (s *ConversationService) saveAndReply(ctx context.Context, userID string, session *models.ChatSession,
	messages []models.Message, prompt models.Message, model string) (*Reply, error) {
	saved, err := s.db.SaveMessages(ctx, userID, session.ID, messages)
	if err != nil {
		return nil, err
	}
	s.events.publish(ctx, core.EventSessionUpdated, userID, saved)

	if model == "" {
		model = s.opts.DefaultModel
	}

	s.events.publish(ctx, core.EventTyping, userID, saved)
	start := s.now()
	answer, err := s.llm.Generate(ctx, model, s.buildPrompt(ctx, userID, prompt))
	s.events.publish(ctx, core.EventDone, userID, saved)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("session_id", session.ID).Str("model", model).Msg("inference failed")
		if !errors.Is(err, core.ErrInference) {
			err = errors.Wrap(core.ErrInference, err.Error())
		}
		return &Reply{Session: saved}, err
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = models.EmptyReplyMessage
	}
	log.Info().Str("session_id", session.ID).Str("model", model).Dur("took", s.now().Sub(start)).
		Int("reply_chars", len(answer)).Msg("reply generated")

	bot := models.Message{
		ID:        uuid.NewString(),
		Sender:    models.SenderBot,
		Message:   answer,
		Timestamp: s.now().UTC(),
	}
	// the reply is kept even if the client has gone away meanwhile
	updated, err := s.db.SaveMessages(context.WithoutCancel(ctx), userID, session.ID, append(saved.Messages, bot))
	if err != nil {
		return &Reply{Session: saved}, err
	}
	s.events.publish(ctx, core.EventSessionUpdated, userID, updated)
	return &Reply{Session: updated, BotReply: answer}, nil
}

// buildPrompt inlines the attached document, clipped to MaxContextChars, in
// front of the user's text.
func (s *ConversationService) buildPrompt(ctx context.Context, userID string, msg models.Message) string {
	if msg.FileMetadata == nil {
		return msg.Message
	}
	doc := s.files.ResolveText(ctx, userID, msg.FileMetadata)
	if doc == "" {
		return fmt.Sprintf("[Attached document: %s (no extractable text)]\n\n%s", msg.FileMetadata.FileName, msg.Message)
	}
	if r := []rune(doc); len(r) > s.opts.MaxContextChars {
		doc = string(r[:s.opts.MaxContextChars]) + "\n[... document truncated ...]"
	}
	return fmt.Sprintf("Document: %s\n---\n%s\n---\n\n%s", msg.FileMetadata.FileName, doc, msg.Message)
}
