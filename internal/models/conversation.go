package models

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultSessionTitle = "New Legal Session"
	NewSessionTitle     = "New Legal Consultation"
	GreetingMessage     = "Hello! I'm LAWGPT, your AI legal assistant. How can I help you with legal questions today?"
	EmptyReplyMessage   = "⚠️ No response generated from model."

	titleRunes = 30
)

var ErrMessageNotFound = errors.New("message not found")

// TruncateAfter returns the messages up to and including the one with the
// given id, along with its index. The input slice is not modified.
func TruncateAfter(messages []Message, messageID string) ([]Message, int, error) {
	idx := IndexOf(messages, messageID)
	if idx < 0 {
		return nil, -1, ErrMessageNotFound
	}
	kept := make([]Message, idx+1)
	copy(kept, messages[:idx+1])
	return kept, idx, nil
}

// IndexOf returns the position of the message with the given id or -1.
func IndexOf(messages []Message, messageID string) int {
	for i := range messages {
		if messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

// PrecedingUserMessage walks back from idx (inclusive) to the nearest user message.
func PrecedingUserMessage(messages []Message, idx int) int {
	if idx >= len(messages) {
		idx = len(messages) - 1
	}
	for i := idx; i >= 0; i-- {
		if messages[i].IsUser() {
			return i
		}
	}
	return -1
}

// SessionTitle derives a session title from the first user message.
func SessionTitle(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return DefaultSessionTitle
	}
	r := []rune(text)
	if len(r) <= titleRunes {
		return text
	}
	return string(r[:titleRunes]) + "..."
}

// NewConversationID builds the public conversation identifier, e.g. conv_1718000000000_k3j9x0a1b.
func NewConversationID(now time.Time) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	var b strings.Builder
	for range 9 {
		b.WriteByte(alphabet[rand.IntN(len(alphabet))])
	}
	return fmt.Sprintf("conv_%s_%s", strconv.FormatInt(now.UnixMilli(), 10), b.String())
}
