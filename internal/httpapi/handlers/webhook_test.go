package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/telellm/telellm/internal/bot"
	"github.com/telellm/telellm/internal/config"
	"github.com/telellm/telellm/internal/httpapi"
	"github.com/telellm/telellm/internal/httpapi/handlers"
	"github.com/telellm/telellm/internal/models"
	"github.com/telellm/telellm/internal/session"
	"github.com/telellm/telellm/internal/settings"
	"github.com/telellm/telellm/internal/telegram"
)

type stubTransport struct{}

func (stubTransport) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, int64, error) {
	return nil, offset, nil
}
func (stubTransport) SetWebhook(ctx context.Context, url, secret string) error { return nil }
func (stubTransport) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return nil
}
func (stubTransport) GetWebhookInfo(ctx context.Context) (*telegram.WebhookInfo, error) {
	return &telegram.WebhookInfo{URL: "https://bot.example.com/telegram/webhook"}, nil
}

type countingHandler struct {
	mu sync.Mutex
	n  int
}

func (h *countingHandler) HandleUpdate(ctx context.Context, upd telegram.Update) {
	h.mu.Lock()
	h.n++
	h.mu.Unlock()
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n
}

func newWebhookFixture(t *testing.T, cfgSecret string) (*gin.Engine, *settings.Store, *countingHandler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	st := settings.NewStore(gdb, nil)
	uh := &countingHandler{}
	sup := bot.NewSupervisor(stubTransport{}, uh, bot.SupervisorConfig{Token: "t"}, nil, nil)
	if err := sup.StartWebhook(context.Background(), "https://bot.example.com/telegram/webhook"); err != nil {
		t.Fatalf("start webhook: %v", err)
	}
	t.Cleanup(func() { _ = sup.Stop(time.Second) })

	h := handlers.NewHandler(config.Config{WebhookSecret: cfgSecret}, st, session.NewRepo(gdb), sup, nil)
	return httpapi.NewRouter(h), st, uh
}

func postUpdate(r *gin.Engine, secret string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Telegram-Bot-Api-Secret-Token", secret)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTelegramWebhook_AcceptsMatchingSecret(t *testing.T) {
	r, _, uh := newWebhookFixture(t, "s3cret")

	w := postUpdate(r, "s3cret", `{"update_id":1,"message":{"message_id":1,"text":"hi"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if uh.count() != 1 {
		t.Fatalf("update not delivered, count=%d", uh.count())
	}
}

func TestTelegramWebhook_RejectsBadSecret(t *testing.T) {
	r, _, uh := newWebhookFixture(t, "s3cret")

	for _, secret := range []string{"", "wrong"} {
		w := postUpdate(r, secret, `{"update_id":1}`)
		if w.Code != http.StatusForbidden {
			t.Fatalf("secret %q: expected 403, got %d", secret, w.Code)
		}
	}
	if uh.count() != 0 {
		t.Fatalf("rejected deliveries must not reach the handler")
	}
}

func TestTelegramWebhook_RejectsWhenNoSecretConfigured(t *testing.T) {
	r, _, _ := newWebhookFixture(t, "")

	w := postUpdate(r, "anything", `{"update_id":1}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without a configured secret, got %d", w.Code)
	}
}

func TestTelegramWebhook_StoredSecretBeatsConfig(t *testing.T) {
	r, st, uh := newWebhookFixture(t, "config-secret")
	if err := st.Set(context.Background(), settings.KeyTelegramWebhookToken, "stored-secret"); err != nil {
		t.Fatalf("set: %v", err)
	}

	if w := postUpdate(r, "config-secret", `{"update_id":1}`); w.Code != http.StatusForbidden {
		t.Fatalf("config secret must lose to the stored one, got %d", w.Code)
	}
	if w := postUpdate(r, "stored-secret", `{"update_id":2}`); w.Code != http.StatusOK {
		t.Fatalf("stored secret must win, got %d", w.Code)
	}
	if uh.count() != 1 {
		t.Fatalf("only the accepted delivery must reach the handler, count=%d", uh.count())
	}
}

func TestTelegramWebhook_RejectsBadJSON(t *testing.T) {
	r, _, _ := newWebhookFixture(t, "s3cret")

	w := postUpdate(r, "s3cret", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
