package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/lawgpt/internal/core"
	"github.com/markdave123-py/lawgpt/internal/models"
)

// notifier publishes conversation events. Publishing is best effort: a
// failure is logged and never fails the request.
type notifier struct {
	pub core.EventPublisher
}

func (n notifier) publish(ctx context.Context, typ, userID string, s *models.ChatSession) {
	if n.pub == nil || s == nil {
		return
	}
	ev := core.ConversationEvent{
		Type:           typ,
		UserID:         userID,
		ConversationID: s.ConversationID,
		At:             time.Now().UTC(),
	}
	if typ == core.EventSessionUpdated {
		ev.Session = s
	}
	if err := n.pub.Publish(context.WithoutCancel(ctx), ev); err != nil {
		log.Warn().Err(err).Str("type", typ).Str("session_id", s.ID).Msg("publish event")
	}
}
