package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/channelhub/internal/middleware"
	"github.com/channelhub/internal/model"
	"github.com/channelhub/internal/service"
)

type ChannelHandler struct {
	svc *service.Service
}

func NewChannelHandler(svc *service.Service) *ChannelHandler {
	return &ChannelHandler{svc: svc}
}

type createChannelRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Type        model.ChannelKind `json:"type"`
}

type updateChannelRequest struct {
	Name        *string            `json:"name"`
	Description *string            `json:"description"`
	Type        *model.ChannelKind `json:"type"`
}

type inviteRequest struct {
	UserID string `json:"user_id"`
}

// membershipResponse — ответ на join/leave/invite.
type membershipResponse struct {
	Message string         `json:"message"`
	Channel *model.Channel `json:"channel"`
}

type membersResponse struct {
	Members []model.UserPublic `json:"members"`
}

type statusResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

func (h *ChannelHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ch, err := h.svc.CreateChannel(r.Context(), middleware.GetUserID(r.Context()), service.CreateChannelInput{
		Name:        req.Name,
		Description: req.Description,
		Kind:        req.Type,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

func (h *ChannelHandler) List(w http.ResponseWriter, r *http.Request) {
	chs, err := h.svc.ListChannels(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chs)
}

func (h *ChannelHandler) Get(w http.ResponseWriter, r *http.Request) {
	ch, err := h.svc.GetChannel(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (h *ChannelHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateChannelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ch, err := h.svc.UpdateChannel(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), service.UpdateChannelInput{
		Name:        req.Name,
		Description: req.Description,
		Kind:        req.Type,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (h *ChannelHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteChannel(r.Context(), middleware.GetUserID(r.Context()), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Message: "channel deleted", ID: id})
}

func (h *ChannelHandler) Join(w http.ResponseWriter, r *http.Request) {
	ch, err := h.svc.JoinChannel(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, membershipResponse{Message: "joined channel", Channel: ch})
}

func (h *ChannelHandler) Leave(w http.ResponseWriter, r *http.Request) {
	ch, err := h.svc.LeaveChannel(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, membershipResponse{Message: "left channel", Channel: ch})
}

func (h *ChannelHandler) Invite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ch, err := h.svc.InviteToChannel(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, membershipResponse{Message: "user invited", Channel: ch})
}

func (h *ChannelHandler) Archive(w http.ResponseWriter, r *http.Request) {
	ch, err := h.svc.ArchiveChannel(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (h *ChannelHandler) SetNotifications(w http.ResponseWriter, r *http.Request) {
	var prefs model.NotificationPreferences
	if !decodeJSON(w, r, &prefs) {
		return
	}
	ch, err := h.svc.SetNotificationPreferences(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"), prefs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (h *ChannelHandler) Members(w http.ResponseWriter, r *http.Request) {
	members, err := h.svc.ListMembers(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, membersResponse{Members: members})
}

// SearchMembers: GET /channels/members/search?channelId=&keyword=
func (h *ChannelHandler) SearchMembers(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channelId")
	if channelID == "" {
		writeError(w, http.StatusBadRequest, "channelId is required")
		return
	}
	users, err := h.svc.SearchMembers(r.Context(), middleware.GetUserID(r.Context()), channelID, r.URL.Query().Get("keyword"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *ChannelHandler) Pinned(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.ListPinned(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
