package services

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/lawgpt/internal/core"
	"github.com/markdave123-py/lawgpt/internal/models"
)

func TestSaveTextFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.signup(t, "f@example.com")

	saved, err := env.files.Save(ctx, u.ID, txtUpload("../../Notice To Quit.txt", "Vacate by the 30th."))
	require.NoError(t, err)

	f := saved.File
	require.Equal(t, "Notice To Quit.txt", f.OriginalName)
	require.Equal(t, f.ID+".txt", f.FileName)
	require.Equal(t, "users/"+u.ID+"/files/"+f.ID+".txt", f.StorageKey)
	require.Equal(t, "text/plain", f.MimeType)
	require.EqualValues(t, len("Vacate by the 30th."), f.Size)

	require.Equal(t, "txt", saved.Metadata.FileType)
	require.Equal(t, "Vacate by the 30th.", saved.Metadata.ExtractedText)
	require.Equal(t, 1, env.store.Len())

	text, ok, err := env.cache.Get(ctx, f.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Vacate by the 30th.", text)
}

func TestSaveRejectsInvalidUploads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.signup(t, "r@example.com")

	_, err := env.files.Save(ctx, u.ID, models.Upload{FileName: "run.exe", MimeType: "application/x-msdownload", Data: []byte("MZ")})
	require.ErrorIs(t, err, core.ErrFileRejected)

	_, err = env.files.Save(ctx, u.ID, models.Upload{FileName: "fake.pdf", MimeType: "application/pdf", Data: []byte("not a pdf")})
	require.ErrorIs(t, err, core.ErrFileRejected)

	big := strings.Repeat("a", 2<<20)
	_, err = env.files.Save(ctx, u.ID, txtUpload("big.txt", big))
	require.ErrorIs(t, err, core.ErrFileTooLarge)

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	require.NotEmpty(t, rejected.Reasons)
	require.Zero(t, env.store.Len())
}

func TestSaveMany(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.signup(t, "m@example.com")

	batch, err := env.files.SaveMany(ctx, u.ID, []models.Upload{
		txtUpload("a.txt", "alpha"),
		txtUpload("b.txt", "<script>x</script>"),
		txtUpload("c.txt", "gamma"),
	})
	require.NoError(t, err)
	require.Equal(t, 2, batch.SuccessCount)
	require.Equal(t, 1, batch.ErrorCount)
	require.Equal(t, "b.txt", batch.Errors[0].FileName)
	require.Contains(t, batch.Errors[0].Errors[0], "Suspicious pattern")

	_, err = env.files.SaveMany(ctx, u.ID, nil)
	require.ErrorIs(t, err, core.ErrInvalidInput)

	six := make([]models.Upload, MaxFilesPerUpload+1)
	for i := range six {
		six[i] = txtUpload("x.txt", "x")
	}
	_, err = env.files.SaveMany(ctx, u.ID, six)
	require.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestOpenAndDeleteAreOwnerScoped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.signup(t, "o@example.com")
	saved, err := env.files.Save(ctx, u.ID, txtUpload("deed.txt", "Title deed"))
	require.NoError(t, err)
	id := saved.File.ID

	_, _, err = env.files.Open(ctx, "intruder", id)
	require.ErrorIs(t, err, core.ErrNotFound)

	f, rc, err := env.files.Open(ctx, u.ID, id)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	require.Equal(t, "Title deed", string(body))
	require.Equal(t, "deed.txt", f.OriginalName)

	require.ErrorIs(t, env.files.Delete(ctx, "intruder", id), core.ErrNotFound)
	require.NoError(t, env.files.Delete(ctx, u.ID, id))
	require.Zero(t, env.store.Len())
	_, ok, err := env.cache.Get(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = env.files.Open(ctx, u.ID, id)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestExtractedTextReExtractsOnMiss(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.signup(t, "x@example.com")
	saved, err := env.files.Save(ctx, u.ID, txtUpload("will.txt", "I leave everything to my cat."))
	require.NoError(t, err)

	require.NoError(t, env.cache.Delete(ctx, saved.File.ID))

	text, err := env.files.ExtractedText(ctx, u.ID, saved.File.ID)
	require.NoError(t, err)
	require.Equal(t, "I leave everything to my cat.", text)

	cached, ok, err := env.cache.Get(ctx, saved.File.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, text, cached)

	// without any persisted text the blob is the last resort
	require.NoError(t, env.cache.Delete(ctx, saved.File.ID))
	meta := saved.Metadata
	meta.ExtractedText = ""
	require.Equal(t, text, env.files.ResolveText(ctx, u.ID, &meta))
	require.Empty(t, env.files.ResolveText(ctx, u.ID, nil))
}

func TestCleanupOlderThan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.signup(t, "old@example.com")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env.files.now = func() time.Time { return base }
	old, err := env.files.Save(ctx, u.ID, txtUpload("old.txt", "stale"))
	require.NoError(t, err)

	env.files.now = func() time.Time { return base.Add(40 * 24 * time.Hour) }
	fresh, err := env.files.Save(ctx, u.ID, txtUpload("new.txt", "fresh"))
	require.NoError(t, err)

	n, err := env.files.CleanupOlderThan(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = env.db.GetFile(ctx, u.ID, old.File.ID)
	require.ErrorIs(t, err, core.ErrNotFound)
	_, err = env.db.GetFile(ctx, u.ID, fresh.File.ID)
	require.NoError(t, err)
	require.Equal(t, 1, env.store.Len())
}
