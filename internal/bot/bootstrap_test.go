package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/telellm/telellm/internal/models"
	"github.com/telellm/telellm/internal/session"
	"github.com/telellm/telellm/internal/telegram"
)

type fakeRegistrar struct {
	me       *telegram.User
	meErr    error
	commands []telegram.BotCommand
}

func (f *fakeRegistrar) GetMe(ctx context.Context) (*telegram.User, error) {
	return f.me, f.meErr
}

func (f *fakeRegistrar) SetMyCommands(ctx context.Context, commands []telegram.BotCommand) error {
	f.commands = commands
	return nil
}

func bootstrapRepo(t *testing.T) (*session.Repo, *gorm.DB) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return session.NewRepo(gdb), gdb
}

func TestRegisterCommands_PublishesBuiltinsAndStored(t *testing.T) {
	repo, gdb := bootstrapRepo(t)
	for _, c := range []models.BotCommand{
		{Name: "about", Description: "About the bot", ResponseText: "hi"},
		{Name: "rules", ResponseText: "be nice"}, // no description
	} {
		if err := gdb.Create(&c).Error; err != nil {
			t.Fatalf("seed command: %v", err)
		}
	}

	api := &fakeRegistrar{me: &telegram.User{ID: 9, Username: "test_bot", IsBot: true}}
	if err := RegisterCommands(context.Background(), api, repo, nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	want := []telegram.BotCommand{
		{Command: "start", Description: "Show the welcome message"},
		{Command: "help", Description: "How to use the bot"},
		{Command: "new", Description: "Start a new conversation"},
		{Command: "history", Description: "Pick an earlier conversation"},
		{Command: "about", Description: "About the bot"},
		{Command: "rules", Description: "rules"}, // name doubles as description
	}
	if len(api.commands) != len(want) {
		t.Fatalf("expected %d commands, got %d: %+v", len(want), len(api.commands), api.commands)
	}
	for i, w := range want {
		if api.commands[i] != w {
			t.Fatalf("command %d: got %+v want %+v", i, api.commands[i], w)
		}
	}
}

func TestRegisterCommands_FailsWithoutIdentity(t *testing.T) {
	repo, _ := bootstrapRepo(t)
	api := &fakeRegistrar{meErr: errors.New("401 unauthorized")}

	if err := RegisterCommands(context.Background(), api, repo, nil); err == nil {
		t.Fatalf("expected error when the credential cannot be verified")
	}
	if api.commands != nil {
		t.Fatalf("menu must not be published with an unverified credential")
	}
}
