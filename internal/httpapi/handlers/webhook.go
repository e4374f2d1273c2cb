package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/telellm/telellm/internal/common"
	"github.com/telellm/telellm/internal/settings"
	"github.com/telellm/telellm/internal/telegram"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// TelegramWebhook receives push deliveries from the transport. Every
// delivery must carry the shared-secret header; mismatches are rejected
// before anything reaches the update handler, with no user-visible reply.
func (h *Handler) TelegramWebhook(c *gin.Context) {
	secret, err := h.Settings.Get(c.Request.Context(), settings.KeyTelegramWebhookToken)
	if err != nil {
		h.Log.Error("read webhook secret", "error", err)
		common.Fail(c, http.StatusInternalServerError, 20001, "internal error")
		return
	}
	if secret == "" {
		secret = h.Cfg.WebhookSecret
	}

	got := c.GetHeader(secretHeader)
	if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
		h.Log.Warn("webhook delivery rejected", "remote", c.ClientIP())
		common.Fail(c, http.StatusForbidden, 40300, "forbidden")
		return
	}

	var upd telegram.Update
	if err := c.ShouldBindJSON(&upd); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	h.Sup.HandleWebhookUpdate(c.Request.Context(), upd)
	common.OK(c, nil)
}
