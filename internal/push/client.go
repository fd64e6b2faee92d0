package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/channelhub/internal/logger"
)

// Client вызывает микросервис пуш-уведомлений (подписки браузеров хранит он).
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент. httpClient nil — клиент с таймаутом 10s.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

// NotifyRequest — запрос на отправку уведомления.
type NotifyRequest struct {
	UserID string            `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Tag    string            `json:"tag,omitempty"`
	Data   map[string]string `json:"data,omitempty"`
}

// Notify отправляет пуш пользователю. Ошибки только логируются: пуш не влияет на доставку сообщения.
// Уведомления одного канала сворачиваются в браузере по тегу channel_id.
func (c *Client) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if err := c.notify(ctx, NotifyRequest{UserID: userID, Title: title, Body: body, Tag: data["channel_id"], Data: data}); err != nil {
		logger.Errorf("push notify user=%s: %v", userID, err)
	}
}

func (c *Client) notify(ctx context.Context, payload NotifyRequest) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/notify", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
