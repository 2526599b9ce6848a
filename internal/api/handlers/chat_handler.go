package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/markdave123-py/lawgpt/internal/core"
	"github.com/markdave123-py/lawgpt/internal/core/validation"
	"github.com/markdave123-py/lawgpt/internal/models"
	"github.com/markdave123-py/lawgpt/internal/services"
)

// ChatHandler serves the conversation routes: session CRUD plus the
// send, edit, regenerate and upload-and-ask turns.
type ChatHandler struct {
	sessions      *services.SessionService
	conversations *services.ConversationService
}

func NewChatHandler(sessions *services.SessionService, conversations *services.ConversationService) *ChatHandler {
	return &ChatHandler{sessions: sessions, conversations: conversations}
}

type sendRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	Model     string `json:"model"`
}

type titleRequest struct {
	Title string `json:"title"`
}

type turnResponse struct {
	Session  *models.ChatSession `json:"session"`
	BotReply string              `json:"botReply"`
	File     *models.StoredFile  `json:"file,omitempty"`
}

func (h *ChatHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	list, err := h.sessions.List(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req titleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.sessions.Create(r.Context(), uid, req.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *ChatHandler) RenameSession(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req titleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.sessions.Rename(r.Context(), uid, chi.URLParam(r, "id"), req.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"_id":       s.ID,
		"title":     s.Title,
		"updatedAt": s.UpdatedAt,
	})
}

func (h *ChatHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Delete(r.Context(), uid, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Conversation deleted successfully"})
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	reply, err := h.conversations.SendMessage(r.Context(), uid, services.SendInput{
		SessionID: req.SessionID,
		Text:      req.Message,
		Model:     req.Model,
	})
	writeTurn(w, r, reply, err)
}

func (h *ChatHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	reply, err := h.conversations.EditMessage(r.Context(), uid,
		chi.URLParam(r, "id"), chi.URLParam(r, "messageId"), req.Message, req.Model)
	writeTurn(w, r, reply, err)
}

func (h *ChatHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	reply, err := h.conversations.Regenerate(r.Context(), uid,
		chi.URLParam(r, "id"), chi.URLParam(r, "messageId"), req.Model)
	writeTurn(w, r, reply, err)
}

// UploadAndSend stores one document and asks the model about it in the same turn.
func (h *ChatHandler) UploadAndSend(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, validation.MaxFileSize+multipartSlack)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, r, multipartError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := formFiles(r.MultipartForm)
	if len(headers) == 0 {
		writeError(w, r, errors.Wrap(core.ErrInvalidInput, "no file uploaded"))
		return
	}
	up, err := readUpload(headers[0])
	if err != nil {
		writeError(w, r, err)
		return
	}

	reply, err := h.conversations.SendWithFile(r.Context(), uid, services.SendInput{
		SessionID: r.FormValue("sessionId"),
		Text:      r.FormValue("message"),
		Model:     r.FormValue("model"),
	}, up)
	writeTurn(w, r, reply, err)
}

// writeTurn renders a conversation turn. A failed inference still carries
// the persisted session so the client can reconcile.
func writeTurn(w http.ResponseWriter, r *http.Request, reply *services.Reply, err error) {
	if err != nil {
		if reply != nil && reply.Session != nil && errors.Is(err, core.ErrInference) {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":   err.Error(),
				"session": reply.Session,
			})
			return
		}
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, turnResponse{Session: reply.Session, BotReply: reply.BotReply, File: reply.File})
}
