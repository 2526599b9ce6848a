package handlers

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/lawgpt/internal/core"
	"github.com/markdave123-py/lawgpt/internal/core/validation"
	"github.com/markdave123-py/lawgpt/internal/models"
	"github.com/markdave123-py/lawgpt/internal/services"
)

const (
	multipartMemory = 32 << 20
	multipartSlack  = 1 << 20
)

type FileHandler struct {
	files *services.FileService
}

func NewFileHandler(files *services.FileService) *FileHandler {
	return &FileHandler{files: files}
}

// UploadFiles stores up to five files sent as "file" (or "file-0", "file-1", ... parts).
func (h *FileHandler) UploadFiles(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, services.MaxFilesPerUpload*validation.MaxFileSize+multipartSlack)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, r, multipartError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := formFiles(r.MultipartForm)
	uploads := make([]models.Upload, 0, len(headers))
	for _, fh := range headers {
		up, err := readUpload(fh)
		if err != nil {
			writeError(w, r, err)
			return
		}
		uploads = append(uploads, up)
	}

	batch, err := h.files.SaveMany(r.Context(), uid, uploads)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if batch.SuccessCount == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"message": "No files were successfully uploaded",
			"errors":  batch.Errors,
		})
		return
	}

	resp := map[string]any{
		"message": fmt.Sprintf("%d file(s) uploaded successfully", batch.SuccessCount),
		"files":   batch.SavedFiles,
		"count":   batch.SuccessCount,
	}
	if batch.ErrorCount > 0 {
		log.Warn().Str("user_id", uid).Int("failed", batch.ErrorCount).Msg("some files failed to upload")
		resp["warnings"] = batch.Errors
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *FileHandler) SupportedTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"supportedTypes": h.files.SupportedTypes(),
		"maxFileSize":    validation.MaxFileSize,
		"maxFiles":       services.MaxFilesPerUpload,
	})
}

func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	file, rc, err := h.files.Open(r.Context(), uid, chi.URLParam(r, "fileId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", file.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.OriginalName}))
	w.Header().Set("Content-Length", strconv.FormatInt(file.Size, 10))
	if _, err := io.Copy(w, rc); err != nil {
		log.Warn().Err(err).Str("file_id", file.ID).Msg("stream file")
	}
}

func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	fileID := chi.URLParam(r, "fileId")
	if err := h.files.Delete(r.Context(), uid, fileID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "File deleted successfully", "fileId": fileID})
}

// formFiles collects the uploaded parts in a stable order.
func formFiles(form *multipart.Form) []*multipart.FileHeader {
	if form == nil {
		return nil
	}
	out := append([]*multipart.FileHeader{}, form.File["file"]...)
	for i := 0; ; i++ {
		parts, ok := form.File["file-"+strconv.Itoa(i)]
		if !ok {
			break
		}
		out = append(out, parts...)
	}
	return out
}

// readUpload reads one part. Anything past MaxFileSize is cut so the
// validator reports the file as too large.
func readUpload(fh *multipart.FileHeader) (models.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return models.Upload{}, errors.Wrap(err, "open upload")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, validation.MaxFileSize+1))
	if err != nil {
		return models.Upload{}, errors.Wrap(err, "read upload")
	}
	return models.Upload{
		FileName: fh.Filename,
		MimeType: fh.Header.Get("Content-Type"),
		Data:     data,
	}, nil
}

func multipartError(err error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return errors.Wrap(core.ErrFileTooLarge, "request body too large")
	}
	return errors.Wrap(core.ErrInvalidInput, "invalid multipart form")
}
