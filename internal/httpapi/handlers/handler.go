package handlers

import (
	"log/slog"

	"github.com/telellm/telellm/internal/bot"
	"github.com/telellm/telellm/internal/config"
	"github.com/telellm/telellm/internal/session"
	"github.com/telellm/telellm/internal/settings"
)

type Handler struct {
	Cfg      config.Config
	Settings *settings.Store
	Sessions *session.Repo
	Sup      *bot.Supervisor
	Log      *slog.Logger
}

func NewHandler(cfg config.Config, st *settings.Store, sessions *session.Repo, sup *bot.Supervisor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Cfg:      cfg,
		Settings: st,
		Sessions: sessions,
		Sup:      sup,
		Log:      logger,
	}
}
