package handler

import (
	"net/http"

	"github.com/channelhub/internal/config"
)

// ConfigHandler отдаёт клиенту публичные параметры конфигурации.
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

type pushConfigResponse struct {
	Enabled        bool   `json:"enabled"`
	VAPIDPublicKey string `json:"vapid_public_key,omitempty"`
}

// GetPushConfig возвращает публичный VAPID-ключ для подписки на пуши (если включены).
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	if h.cfg.PushServiceURL == "" || h.cfg.PushVAPIDPublicKey == "" {
		writeJSON(w, http.StatusOK, pushConfigResponse{})
		return
	}
	writeJSON(w, http.StatusOK, pushConfigResponse{Enabled: true, VAPIDPublicKey: h.cfg.PushVAPIDPublicKey})
}

type wsConfigResponse struct {
	MaxMessageSize int `json:"max_message_size"`
	PongTimeout    int `json:"pong_timeout"`
}

// GetWSConfig возвращает лимиты live-соединения, чтобы клиент не превышал размер кадра.
func (h *ConfigHandler) GetWSConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wsConfigResponse{
		MaxMessageSize: h.cfg.WSMaxMessageSize,
		PongTimeout:    h.cfg.WSPongTimeout,
	})
}
