package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/telellm/telellm/internal/session"
	"github.com/telellm/telellm/internal/telegram"
)

// CommandRegistrar is the transport surface used once at startup.
type CommandRegistrar interface {
	GetMe(ctx context.Context) (*telegram.User, error)
	SetMyCommands(ctx context.Context, commands []telegram.BotCommand) error
}

var builtinCommands = []telegram.BotCommand{
	{Command: "start", Description: "Show the welcome message"},
	{Command: "help", Description: "How to use the bot"},
	{Command: "new", Description: "Start a new conversation"},
	{Command: "history", Description: "Pick an earlier conversation"},
}

// RegisterCommands verifies the bot credential and publishes the command
// menu: the built-in commands followed by the operator-defined canned ones.
func RegisterCommands(ctx context.Context, api CommandRegistrar, repo *session.Repo, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	me, err := api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("verify bot credential: %w", err)
	}
	logger.Info("bot identity confirmed", "username", me.Username, "id", me.ID)

	cmds := append([]telegram.BotCommand(nil), builtinCommands...)
	stored, err := repo.ListCommands(ctx)
	if err != nil {
		return fmt.Errorf("list stored commands: %w", err)
	}
	for _, c := range stored {
		desc := c.Description
		if desc == "" {
			desc = c.Name
		}
		cmds = append(cmds, telegram.BotCommand{Command: c.Name, Description: desc})
	}

	return api.SetMyCommands(ctx, cmds)
}
