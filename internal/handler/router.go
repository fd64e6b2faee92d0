package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/channelhub/internal/config"
	"github.com/channelhub/internal/metrics"
	"github.com/channelhub/internal/middleware"
	"github.com/channelhub/internal/service"
	"github.com/channelhub/internal/ws"
)

// NewRouter собирает HTTP API: REST под /api, живой канал /ws, /health и /metrics.
// auth кладёт id пользователя в контекст (AuthServiceValidate или DevHeaderAuth).
func NewRouter(cfg *config.Config, svc *service.Service, hub *ws.Hub, auth func(http.Handler) http.Handler) http.Handler {
	channelH := NewChannelHandler(svc)
	msgH := NewMessageHandler(svc)
	userH := NewUserHandler(svc)
	configH := NewConfigHandler(cfg)
	wsH := NewWSHandler(hub, cfg.AllowedOrigins())

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket — иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	compress := chimw.Compress(5)
	r.Use(func(next http.Handler) http.Handler {
		compressed := compress(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id", "X-Timestamp", "X-Signature", "X-User-Id", "X-User-Name"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.With(middleware.InternalOnly(cfg.MetricsSecret)).Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/api/config/push", configH.GetPushConfig)
	r.Get("/api/config/ws", configH.GetWSConfig)
	r.Get("/api/channels", channelH.List)

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(middleware.RateLimitAPI(cfg.RateLimitRPS, cfg.RateLimitBurst))

		r.Get("/api/users/me", userH.GetProfile)
		r.Get("/api/users/me/channels", userH.MyChannels)

		r.Post("/api/channels", channelH.Create)
		r.Get("/api/channels/members/search", channelH.SearchMembers)
		r.Get("/api/channels/{id}", channelH.Get)
		r.Put("/api/channels/{id}", channelH.Update)
		r.Delete("/api/channels/{id}", channelH.Delete)
		r.Post("/api/channels/{id}/join", channelH.Join)
		r.Post("/api/channels/{id}/leave", channelH.Leave)
		r.Post("/api/channels/{id}/invite", channelH.Invite)
		r.Post("/api/channels/{id}/archive", channelH.Archive)
		r.Put("/api/channels/{id}/notifications", channelH.SetNotifications)
		r.Get("/api/channels/{id}/members", channelH.Members)
		r.Get("/api/channels/{id}/pinned", channelH.Pinned)

		r.Post("/api/messages", msgH.Post)
		r.Get("/api/messages", msgH.List)
		r.Get("/api/messages/search", msgH.Search)
		r.Put("/api/messages/{id}", msgH.Edit)
		r.Delete("/api/messages/{id}", msgH.Delete)
		r.Post("/api/messages/{id}/reply", msgH.Reply)
		r.Post("/api/messages/{id}/react", msgH.React)
		r.Post("/api/messages/{id}/pin", msgH.Pin)
		r.Delete("/api/messages/{id}/pin", msgH.Unpin)
		r.Put("/api/messages/{id}/unread", msgH.SetUnread)

		r.Get("/ws", wsH.ServeWS)
	})
	return r
}
