package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/telellm/telellm/internal/common"
)

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{
		"status":  "ok",
		"running": h.Sup.IsRunning(),
		"mode":    string(h.Sup.Mode()),
	})
}

// GetDialog is a read-only inspection endpoint for operators: one dialog
// with its turn log, addressed by public id.
func (h *Handler) GetDialog(c *gin.Context) {
	publicID := c.Param("id")

	dialog, err := h.Sessions.DialogByAnyUser(c.Request.Context(), publicID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "dialog not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	turns, err := h.Sessions.ListTurnsAsc(c.Request.Context(), dialog.ID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	common.OK(c, gin.H{
		"dialog": dialog,
		"turns":  turns,
	})
}
