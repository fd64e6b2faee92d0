package handler

import (
	"net/http"

	"github.com/channelhub/internal/middleware"
	"github.com/channelhub/internal/service"
)

type UserHandler struct {
	svc *service.Service
}

func NewUserHandler(svc *service.Service) *UserHandler {
	return &UserHandler{svc: svc}
}

func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Profile(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u.ToPublic())
}

// MyChannels — каналы, в которых состоит текущий пользователь.
func (h *UserHandler) MyChannels(w http.ResponseWriter, r *http.Request) {
	chs, err := h.svc.ChannelsForUser(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chs)
}
