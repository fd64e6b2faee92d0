package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/channelhub/internal/middleware"
	"github.com/channelhub/internal/model"
	"github.com/channelhub/internal/service"
)

type MessageHandler struct {
	svc *service.Service
}

func NewMessageHandler(svc *service.Service) *MessageHandler {
	return &MessageHandler{svc: svc}
}

type postMessageRequest struct {
	ChannelID string `json:"channelId"`
	Content   string `json:"content"`
}

type postMessageResponse struct {
	Username string         `json:"username"`
	Message  *model.Message `json:"message"`
}

// editMessageRequest: Version > 0 включает проверку версии (409 при расхождении).
type editMessageRequest struct {
	Content string `json:"content"`
	Version int64  `json:"version,omitempty"`
}

type replyRequest struct {
	Content  string `json:"content"`
	ParentID string `json:"parentId,omitempty"`
}

type reactRequest struct {
	Emoji   string `json:"emoji"`
	ReplyID string `json:"replyId,omitempty"`
}

type unreadRequest struct {
	Unread bool `json:"unread"`
}

func (h *MessageHandler) Post(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ChannelID == "" {
		writeError(w, http.StatusBadRequest, "channelId is required")
		return
	}
	m, err := h.svc.PostMessage(r.Context(), middleware.GetUserID(r.Context()), req.ChannelID, req.Content)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	resp := postMessageResponse{Message: m}
	if m.Author != nil {
		resp.Username = m.Author.Username
	}
	writeJSON(w, http.StatusCreated, resp)
}

// List: GET /messages?channelId=
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channelId")
	if channelID == "" {
		writeError(w, http.StatusBadRequest, "channelId is required")
		return
	}
	msgs, err := h.svc.ListMessagesByChannel(r.Context(), middleware.GetUserID(r.Context()), channelID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// Search: GET /messages/search?keyword=
func (h *MessageHandler) Search(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.SearchMessages(r.Context(), middleware.GetUserID(r.Context()), r.URL.Query().Get("keyword"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var req editMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.svc.EditMessage(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), req.Content, req.Version)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteMessage(r.Context(), middleware.GetUserID(r.Context()), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Message: "message deleted", ID: id})
}

func (h *MessageHandler) Reply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	reply, err := h.svc.ReplyToMessage(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), req.ParentID, req.Content)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

func (h *MessageHandler) React(w http.ResponseWriter, r *http.Request) {
	var req reactRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rc, err := h.svc.ReactToMessage(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), req.ReplyID, req.Emoji)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rc)
}

func (h *MessageHandler) Pin(w http.ResponseWriter, r *http.Request) {
	h.setPinned(w, r, true)
}

func (h *MessageHandler) Unpin(w http.ResponseWriter, r *http.Request) {
	h.setPinned(w, r, false)
}

func (h *MessageHandler) setPinned(w http.ResponseWriter, r *http.Request, pinned bool) {
	m, err := h.svc.SetPinned(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), pinned)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MessageHandler) SetUnread(w http.ResponseWriter, r *http.Request) {
	var req unreadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.svc.SetUnread(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), req.Unread)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
