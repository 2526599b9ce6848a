package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/lawgpt/internal/core"
	"github.com/markdave123-py/lawgpt/internal/models"
)

func TestMemoryClientUsers(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient()

	require.NoError(t, c.CreateUser(ctx, &models.User{ID: "u1", Email: " Ada@Example.com "}))
	require.ErrorIs(t, c.CreateUser(ctx, &models.User{ID: "u2", Email: "ada@example.com"}), core.ErrEmailTaken)

	u, err := c.GetUserByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	require.Equal(t, "u1", u.ID)
	require.Equal(t, "ada@example.com", u.Email)

	_, err = c.GetUserByID(ctx, "nope")
	require.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, c.CreateUser(ctx, &models.User{ID: "u2", Email: "bob@example.com"}))
	u.Email = "bob@example.com"
	require.ErrorIs(t, c.UpdateUser(ctx, u), core.ErrEmailTaken)
}

func TestMemoryClientAdjustTotalChatsFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient()
	require.NoError(t, c.CreateUser(ctx, &models.User{ID: "u1", Email: "a@b.c"}))

	require.NoError(t, c.AdjustTotalChats(ctx, "u1", 2))
	require.NoError(t, c.AdjustTotalChats(ctx, "u1", -5))

	u, err := c.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 0, u.TotalChats)
	require.ErrorIs(t, c.AdjustTotalChats(ctx, "ghost", 1), core.ErrNotFound)
}

func TestMemoryClientUpdateUserKeepsCounters(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient()
	require.NoError(t, c.CreateUser(ctx, &models.User{ID: "u1", Email: "a@b.c", FirstName: "Ada"}))

	stale, err := c.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, c.AdjustTotalChats(ctx, "u1", 3))

	stale.FirstName = "Grace"
	require.NoError(t, c.UpdateUser(ctx, stale))

	got, err := c.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "Grace", got.FirstName)
	require.Equal(t, 3, got.TotalChats)
}

func TestMemoryClientSessionsAreOwnerScoped(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := base
	c.now = func() time.Time { tick = tick.Add(time.Minute); return tick }

	require.NoError(t, c.CreateSession(ctx, &models.ChatSession{ID: "s1", UserID: "u1", ConversationID: "c1", UpdatedAt: base}))
	require.NoError(t, c.CreateSession(ctx, &models.ChatSession{ID: "s2", UserID: "u1", ConversationID: "c2", UpdatedAt: base.Add(time.Second)}))
	require.NoError(t, c.CreateSession(ctx, &models.ChatSession{ID: "s3", UserID: "u2", ConversationID: "c3"}))

	_, err := c.GetSession(ctx, "u2", "s1")
	require.ErrorIs(t, err, core.ErrNotFound)
	require.ErrorIs(t, c.DeleteSession(ctx, "u2", "s1"), core.ErrNotFound)

	// touching s1 moves it to the front
	_, err = c.SaveMessages(ctx, "u1", "s1", []models.Message{{ID: "m1", Sender: models.SenderUser, Message: "hi"}})
	require.NoError(t, err)

	list, err := c.ListSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "s1", list[0].ID)
	require.Len(t, list[0].Messages, 1)

	n, err := c.CountSessions(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestMemoryClientReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient()
	fm := &models.FileMetadata{FileID: "f1", ExtractedText: "original"}
	require.NoError(t, c.CreateSession(ctx, &models.ChatSession{
		ID: "s1", UserID: "u1", ConversationID: "c1",
		Messages: []models.Message{{ID: "m1", Sender: models.SenderUser, FileMetadata: fm}},
	}))
	fm.ExtractedText = "mutated"

	s, err := c.GetSession(ctx, "u1", "s1")
	require.NoError(t, err)
	require.Equal(t, "original", s.Messages[0].FileMetadata.ExtractedText)

	s.Messages[0].Message = "changed"
	again, err := c.GetSession(ctx, "u1", "s1")
	require.NoError(t, err)
	require.Empty(t, again.Messages[0].Message)
}

func TestMemoryClientFiles(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient()
	now := time.Now()
	require.NoError(t, c.CreateFile(ctx, &models.StoredFile{ID: "old", UserID: "u1", UploadedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, c.CreateFile(ctx, &models.StoredFile{ID: "new", UserID: "u1", UploadedAt: now}))

	_, err := c.GetFile(ctx, "u2", "old")
	require.ErrorIs(t, err, core.ErrNotFound)

	old, err := c.ListFilesBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, old, 1)
	require.Equal(t, "old", old[0].ID)

	require.NoError(t, c.DeleteFile(ctx, "u1", "old"))
	require.ErrorIs(t, c.DeleteFile(ctx, "u1", "old"), core.ErrNotFound)
}
