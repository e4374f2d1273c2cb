package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/telellm/telellm/internal/common"
	"github.com/telellm/telellm/internal/httpapi/handlers"
	"github.com/telellm/telellm/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/healthz", h.Ping)

	// push-delivery endpoint
	r.POST("/telegram/webhook", h.TelegramWebhook)

	// operator read surface
	r.GET("/api/v1/dialogs/:id", h.GetDialog)

	return r
}
