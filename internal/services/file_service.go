package services

import (
	"bytes"
	"context"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/lawgpt/internal/core"
	"github.com/markdave123-py/lawgpt/internal/core/extraction"
	"github.com/markdave123-py/lawgpt/internal/core/validation"
	"github.com/markdave123-py/lawgpt/internal/models"
)

// MaxFilesPerUpload caps a multi-file upload request.
const MaxFilesPerUpload = 5

type SavedFile struct {
	File     *models.StoredFile  `json:"file"`
	Metadata models.FileMetadata `json:"metadata"`
	Warnings []string            `json:"warnings,omitempty"`
}

type FileError struct {
	FileName string   `json:"filename"`
	Errors   []string `json:"errors"`
}

type BatchSave struct {
	SavedFiles   []SavedFile `json:"savedFiles"`
	Errors       []FileError `json:"errors"`
	SuccessCount int         `json:"successCount"`
	ErrorCount   int         `json:"errorCount"`
}

type FileService struct {
	db        core.DbClient
	store     core.ObjectClient
	extractor core.TextExtractor
	cache     core.TextCache
	now       func() time.Time
}

func NewFileService(db core.DbClient, store core.ObjectClient, extractor core.TextExtractor, cache core.TextCache) *FileService {
	return &FileService{db: db, store: store, extractor: extractor, cache: cache, now: time.Now}
}

// RejectedError lists why an upload failed validation. It unwraps to
// core.ErrFileTooLarge or core.ErrFileRejected.
type RejectedError struct {
	Reasons  []string
	TooLarge bool
}

func (e *RejectedError) Error() string { return strings.Join(e.Reasons, "; ") }

func (e *RejectedError) Unwrap() error {
	if e.TooLarge {
		return core.ErrFileTooLarge
	}
	return core.ErrFileRejected
}

// Validate checks an upload against the allow-list.
func (s *FileService) Validate(up models.Upload) (validation.Result, error) {
	res := validation.Validate(up)
	if res.Valid {
		return res, nil
	}
	return res, &RejectedError{Reasons: res.Errors, TooLarge: res.TooLarge}
}

// Save validates and stores one upload, extracting its text alongside the
// blob upload.
func (s *FileService) Save(ctx context.Context, userID string, up models.Upload) (*SavedFile, error) {
	res, err := s.Validate(up)
	if err != nil {
		return nil, err
	}

	fileID := uuid.NewString()
	name := validation.SanitizeFileName(up.FileName)
	storedName := fileID + strings.ToLower(filepath.Ext(name))
	key := path.Join("users", userID, "files", storedName)

	var (
		url  string
		text string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		url, err = s.store.UploadFile(gctx, key, bytes.NewReader(up.Data), up.Size(), res.MimeType)
		return err
	})
	if extraction.Extractable(res.MimeType) {
		g.Go(func() error {
			t, err := s.extractor.ExtractText(gctx, up.Data, res.MimeType)
			switch {
			case err == nil:
				text = t
			case errors.Is(err, core.ErrNoText):
				log.Debug().Str("file_id", fileID).Msg("no text in upload")
			default:
				// a document without text is still a valid upload
				log.Warn().Err(err).Str("file_id", fileID).Msg("text extraction failed")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "store file")
	}

	file := &models.StoredFile{
		ID:           fileID,
		UserID:       userID,
		OriginalName: name,
		FileName:     storedName,
		StorageKey:   key,
		URL:          url,
		MimeType:     res.MimeType,
		Size:         up.Size(),
		UploadedAt:   s.now().UTC(),
	}
	if err := s.db.CreateFile(ctx, file); err != nil {
		if delErr := s.store.DeleteFile(context.WithoutCancel(ctx), key); delErr != nil {
			log.Warn().Err(delErr).Str("key", key).Msg("orphaned blob")
		}
		return nil, err
	}

	if text != "" {
		s.cacheText(ctx, fileID, text)
	}

	log.Info().Str("user_id", userID).Str("file_id", fileID).Str("mime", res.MimeType).Int64("size", file.Size).
		Int("text_chars", len(text)).Msg("file stored")

	return &SavedFile{
		File: file,
		Metadata: models.FileMetadata{
			FileID:        fileID,
			FileName:      name,
			FileType:      res.Kind,
			MimeType:      res.MimeType,
			FileSize:      file.Size,
			ExtractedText: text,
		},
		Warnings: res.Warnings,
	}, nil
}

// SaveMany stores up to MaxFilesPerUpload files, collecting per-file errors.
func (s *FileService) SaveMany(ctx context.Context, userID string, uploads []models.Upload) (*BatchSave, error) {
	if len(uploads) == 0 {
		return nil, errors.Wrap(core.ErrInvalidInput, "no files uploaded")
	}
	if len(uploads) > MaxFilesPerUpload {
		return nil, errors.Wrapf(core.ErrInvalidInput, "at most %d files per upload", MaxFilesPerUpload)
	}

	out := &BatchSave{SavedFiles: []SavedFile{}, Errors: []FileError{}}
	for _, up := range uploads {
		saved, err := s.Save(ctx, userID, up)
		if err != nil {
			out.Errors = append(out.Errors, FileError{FileName: up.FileName, Errors: fileErrors(err)})
			continue
		}
		out.SavedFiles = append(out.SavedFiles, *saved)
	}
	out.SuccessCount = len(out.SavedFiles)
	out.ErrorCount = len(out.Errors)
	return out, nil
}

func fileErrors(err error) []string {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Reasons
	}
	return []string{err.Error()}
}

// Open streams a stored file. The caller closes the reader.
func (s *FileService) Open(ctx context.Context, userID, fileID string) (*models.StoredFile, io.ReadCloser, error) {
	file, err := s.db.GetFile(ctx, userID, fileID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.store.GetObjectReader(ctx, file.StorageKey)
	if err != nil {
		return nil, nil, err
	}
	return file, rc, nil
}

func (s *FileService) Delete(ctx context.Context, userID, fileID string) error {
	file, err := s.db.GetFile(ctx, userID, fileID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteFile(ctx, file.StorageKey); err != nil {
		return err
	}
	if err := s.db.DeleteFile(ctx, userID, fileID); err != nil {
		return err
	}
	s.dropText(ctx, fileID)
	log.Info().Str("user_id", userID).Str("file_id", fileID).Msg("file deleted")
	return nil
}

// ExtractedText returns the cached text of a file, re-extracting it from the
// stored blob on a miss.
func (s *FileService) ExtractedText(ctx context.Context, userID, fileID string) (string, error) {
	if text, ok := s.cachedText(ctx, fileID); ok {
		return text, nil
	}

	file, rc, err := s.Open(ctx, userID, fileID)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, validation.MaxFileSize+1))
	if err != nil {
		return "", errors.Wrap(err, "read stored file")
	}
	text, err := s.extractor.ExtractText(ctx, data, file.MimeType)
	if err != nil {
		return "", err
	}
	s.cacheText(ctx, fileID, text)
	return text, nil
}

// ResolveText finds the document text for a message attachment: cache first,
// then the text persisted with the message, then the stored blob. Whatever is
// found is written back to the cache. An empty result means no text exists.
func (s *FileService) ResolveText(ctx context.Context, userID string, fm *models.FileMetadata) string {
	if fm == nil {
		return ""
	}
	if fm.FileID != "" {
		if text, ok := s.cachedText(ctx, fm.FileID); ok {
			return text
		}
	}
	if fm.ExtractedText != "" {
		if fm.FileID != "" {
			s.cacheText(ctx, fm.FileID, fm.ExtractedText)
		}
		return fm.ExtractedText
	}
	if fm.FileID == "" || !extraction.Extractable(fm.MimeType) {
		return ""
	}
	text, err := s.ExtractedText(ctx, userID, fm.FileID)
	if err != nil {
		log.Warn().Err(err).Str("file_id", fm.FileID).Msg("re-extract attachment")
		return ""
	}
	return text
}

// CleanupOlderThan removes files uploaded before now-age and returns how many
// were deleted. A failing file is logged and skipped.
func (s *FileService) CleanupOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := s.now().Add(-age)
	files, err := s.db.ListFilesBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if err := s.store.DeleteFile(ctx, f.StorageKey); err != nil {
			log.Warn().Err(err).Str("file_id", f.ID).Msg("cleanup: delete blob")
			continue
		}
		if err := s.db.DeleteFile(ctx, f.UserID, f.ID); err != nil && !errors.Is(err, core.ErrNotFound) {
			log.Warn().Err(err).Str("file_id", f.ID).Msg("cleanup: delete record")
			continue
		}
		s.dropText(ctx, f.ID)
		deleted++
	}
	log.Info().Int("deleted", deleted).Time("cutoff", cutoff).Msg("file cleanup finished")
	return deleted, nil
}

func (s *FileService) SupportedTypes() []validation.FileType {
	return validation.SupportedTypes()
}

func (s *FileService) cachedText(ctx context.Context, fileID string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	text, ok, err := s.cache.Get(ctx, fileID)
	if err != nil {
		log.Warn().Err(err).Str("file_id", fileID).Msg("text cache get")
		return "", false
	}
	return text, ok && text != ""
}

func (s *FileService) cacheText(ctx context.Context, fileID, text string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, fileID, text); err != nil {
		log.Warn().Err(err).Str("file_id", fileID).Msg("text cache set")
	}
}

func (s *FileService) dropText(ctx context.Context, fileID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, fileID); err != nil {
		log.Warn().Err(err).Str("file_id", fileID).Msg("text cache delete")
	}
}
