package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/lawgpt/internal/core"
)

func TestSignupValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := map[string]SignupInput{
		"missing names":  {MobileNumber: "1", Email: "a@b.co", Password: "secret1"},
		"bad email":      {FirstName: "A", LastName: "B", MobileNumber: "1", Email: "nope", Password: "secret1"},
		"short password": {FirstName: "A", LastName: "B", MobileNumber: "1", Email: "a@b.co", Password: "12345"},
		"long password":  {FirstName: "A", LastName: "B", MobileNumber: "1", Email: "a@b.co", Password: strings.Repeat("p", 80)},
	}
	for name, in := range cases {
		_, err := env.users.Signup(ctx, in)
		require.ErrorIs(t, err, core.ErrInvalidInput, name)
	}
}

func TestSignupAndLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.signup(t, "Asha@Example.com")
	require.Equal(t, "asha@example.com", u.Email)
	require.Equal(t, "Dark Mode", u.FavoriteFeature)
	require.NotEqual(t, "secret1", u.PasswordHash)

	_, err := env.users.Signup(ctx, SignupInput{FirstName: "X", LastName: "Y", MobileNumber: "1", Email: "asha@example.com", Password: "secret1"})
	require.ErrorIs(t, err, core.ErrEmailTaken)

	token, user, err := env.users.Login(ctx, "ASHA@example.com", "secret1")
	require.NoError(t, err)
	require.Equal(t, u.ID, user.ID)

	id, err := env.users.Verify(token)
	require.NoError(t, err)
	require.Equal(t, u.ID, id)

	_, _, err = env.users.Login(ctx, "asha@example.com", "wrong-pass")
	require.ErrorIs(t, err, core.ErrInvalidCredentials)
	_, _, err = env.users.Login(ctx, "ghost@example.com", "secret1")
	require.ErrorIs(t, err, core.ErrInvalidCredentials)
}

func TestTokenVerification(t *testing.T) {
	m := NewTokenManager("s3cret", time.Hour)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	tok, err := m.Issue("u1", "a@b.co")
	require.NoError(t, err)

	id, err := m.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "u1", id)

	_, err = NewTokenManager("other", time.Hour).Verify(tok)
	require.ErrorIs(t, err, core.ErrInvalidCredentials)

	now = now.Add(2 * time.Hour)
	_, err = m.Verify(tok)
	require.ErrorIs(t, err, core.ErrInvalidCredentials)

	_, err = m.Verify("not.a.jwt")
	require.ErrorIs(t, err, core.ErrInvalidCredentials)
}

func TestProfileCountsSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.signup(t, "p@example.com")

	_, err := env.sessions.Create(ctx, u.ID, "")
	require.NoError(t, err)
	_, err = env.sessions.Create(ctx, u.ID, "")
	require.NoError(t, err)
	// drift the stored counter; the profile reports the real count
	require.NoError(t, env.db.AdjustTotalChats(ctx, u.ID, 5))

	p, err := env.users.Profile(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 2, p.TotalChats)

	_, err = env.users.Profile(ctx, "ghost")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.signup(t, "one@example.com")
	env.signup(t, "two@example.com")

	updated, err := env.users.UpdateProfile(ctx, u.ID, ProfilePatch{FirstName: "  Meera ", FavoriteFeature: "Voice"})
	require.NoError(t, err)
	require.Equal(t, "Meera", updated.FirstName)
	require.Equal(t, "Rao", updated.LastName)
	require.Equal(t, "Voice", updated.FavoriteFeature)

	_, err = env.users.UpdateProfile(ctx, u.ID, ProfilePatch{Email: "TWO@example.com"})
	require.ErrorIs(t, err, core.ErrEmailTaken)

	_, err = env.users.UpdateProfile(ctx, u.ID, ProfilePatch{Email: "bad"})
	require.ErrorIs(t, err, core.ErrInvalidInput)
}
