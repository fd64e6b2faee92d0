package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetUserID(r.Context())))
	})
}

type registrar struct {
	mu    sync.Mutex
	names map[string]string
}

func (r *registrar) EnsureUser(ctx context.Context, id, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[id] = username
	return nil
}

func TestDevHeaderAuth(t *testing.T) {
	users := &registrar{names: map[string]string{}}
	h := DevHeaderAuth(users)(echoUser())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/channels", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
	req.Header.Set("X-User-Id", "u1")
	req.Header.Set("X-User-Name", "Alice")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", rec.Body.String())
	assert.Equal(t, "Alice", users.names["u1"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?user_id=u2", nil))
	assert.Equal(t, "u2", rec.Body.String())
	assert.Equal(t, "u2", users.names["u2"])
}

func TestAuthServiceValidate(t *testing.T) {
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/validate", r.URL.Path)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["signature"] != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "/api/messages", body["path"])
		assert.Equal(t, `{"x":1}`, body["body"])
		_ = json.NewEncoder(w).Encode(map[string]string{"user_id": "u42"})
	}))
	defer auth.Close()

	var seenBody string
	h := AuthServiceValidate(auth.URL+"/", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 16)
		n, _ := r.Body.Read(buf)
		seenBody = string(buf[:n])
		_, _ = w.Write([]byte(GetUserID(r.Context())))
	}))

	send := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{"x":1}`))
		req.Header.Set("X-Session-Id", "sess-123456")
		req.Header.Set("X-Timestamp", "1700000000")
		req.Header.Set("X-Signature", sig)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := send("good")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u42", rec.Body.String())
	assert.Equal(t, `{"x":1}`, seenBody, "body is restored for the handler")

	assert.Equal(t, http.StatusUnauthorized, send("bad").Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/messages", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimitAPI(t *testing.T) {
	h := RateLimitAPI(1, 2)(echoUser())
	serve := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		if user != "" {
			req = req.WithContext(WithUserID(req.Context(), user))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, serve("u1"))
	assert.Equal(t, http.StatusOK, serve("u1"))
	assert.Equal(t, http.StatusTooManyRequests, serve("u1"), "user burst exhausted")
	assert.Equal(t, http.StatusOK, serve("u2"), "other user behind the same IP")
	assert.Equal(t, http.StatusTooManyRequests, serve("u3"), "ip burst exhausted")
}

func TestInternalOnly(t *testing.T) {
	h := InternalOnly("s3cret")(echoUser())
	serve := func(addr, secret string) int {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		req.RemoteAddr = addr
		if secret != "" {
			req.Header.Set("X-Internal-Secret", secret)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, serve("127.0.0.1:1234", ""))
	assert.Equal(t, http.StatusOK, serve("192.168.1.5:1234", ""))
	assert.Equal(t, http.StatusForbidden, serve("8.8.8.8:1234", ""))
	assert.Equal(t, http.StatusForbidden, serve("8.8.8.8:1234", "wrong"))
	assert.Equal(t, http.StatusOK, serve("8.8.8.8:1234", "s3cret"))
}

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/channels", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestMaskSessionID(t *testing.T) {
	masked := MaskSessionID("abcdef123456")
	assert.NotContains(t, masked, "123456")
}
