package bot

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/telellm/telellm/internal/events"
	"github.com/telellm/telellm/internal/llm"
	"github.com/telellm/telellm/internal/models"
	"github.com/telellm/telellm/internal/session"
	"github.com/telellm/telellm/internal/settings"
	"github.com/telellm/telellm/internal/telegram"
)

// Messenger is the outbound transport surface the handler needs.
type Messenger interface {
	SendMessage(ctx context.Context, params telegram.SendMessageParams) (*telegram.Message, error)
	EditMessageReplyMarkup(ctx context.Context, chatID, messageID int64, markup *telegram.InlineKeyboardMarkup) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

// EventSink receives turn-completed events. Publishing is best-effort.
type EventSink interface {
	PublishTurnCompleted(ctx context.Context, ev events.TurnCompleted) error
}

// Handler is the per-update entry point: it orchestrates the session
// service, the model router and the segmenter for every inbound event.
type Handler struct {
	api      Messenger
	sessions *session.Service
	repo     *session.Repo
	router   *llm.Router
	settings *settings.Store
	events   EventSink

	defaultTokenLimit int
	log               *slog.Logger
}

func NewHandler(api Messenger, sessions *session.Service, repo *session.Repo, router *llm.Router, st *settings.Store, sink EventSink, defaultTokenLimit int, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		api:               api,
		sessions:          sessions,
		repo:              repo,
		router:            router,
		settings:          st,
		events:            sink,
		defaultTokenLimit: defaultTokenLimit,
		log:               logger,
	}
}

// HandleUpdate dispatches one inbound transport event. It never panics out;
// failures end as a generic apology plus an operator notification.
func (h *Handler) HandleUpdate(ctx context.Context, upd telegram.Update) {
	switch {
	case upd.CallbackQuery != nil:
		h.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil && upd.Message.Chat != nil && upd.Message.From != nil && !upd.Message.From.IsBot:
		msg := upd.Message
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return
		}
		if strings.HasPrefix(text, "/") {
			h.handleCommand(ctx, msg, text)
			return
		}
		h.handleText(ctx, msg, text)
	}
}

func identityFrom(u *telegram.User) session.Identity {
	return session.Identity{
		TelegramID: strconv.FormatInt(u.ID, 10),
		Username:   u.Username,
		FullName:   telegram.DisplayName(u),
	}
}

// respondIfPaused sends the pause notice when the bot is paused. The reply
// text is operator-tunable.
func (h *Handler) respondIfPaused(ctx context.Context, chatID int64) bool {
	paused, err := h.settings.GetBool(ctx, settings.KeyBotPaused)
	if err != nil {
		h.log.Error("read pause flag", "error", err)
		return false
	}
	if !paused {
		return false
	}
	text, _ := h.settings.Get(ctx, settings.KeyBotPauseMessage)
	if strings.TrimSpace(text) == "" {
		text = msgDefaultPause
	}
	h.send(ctx, chatID, text, nil)
	return true
}

func (h *Handler) handleText(ctx context.Context, msg *telegram.Message, text string) {
	chatID := msg.Chat.ID

	user, err := h.sessions.ResolveUser(ctx, identityFrom(msg.From))
	if err != nil {
		h.log.Error("resolve user", "error", err)
		h.send(ctx, chatID, msgGenericError, nil)
		return
	}
	if h.respondIfPaused(ctx, chatID) {
		return
	}
	if !user.IsActive {
		h.send(ctx, chatID, msgAccessRestricted, nil)
		return
	}

	dialog, err := h.sessions.ActiveDialog(ctx, user, strconv.FormatInt(chatID, 10))
	if err != nil {
		h.log.Error("resolve active dialog", "user_id", user.ID, "error", err)
		h.send(ctx, chatID, msgGenericError, nil)
		return
	}

	model, err := h.router.Select(ctx)
	if err != nil {
		if errors.Is(err, llm.ErrNoModelConfigured) {
			h.log.Error("no model configured")
		} else {
			h.log.Error("select model", "error", err)
		}
		h.send(ctx, chatID, msgUnavailable, nil)
		return
	}

	mode := llm.ModeByName(user.PreferredMode)

	turn, err := h.sessions.BeginTurn(ctx, dialog, text, mode.Name, msg.MessageID)
	if err != nil {
		h.log.Error("begin turn", "dialog_id", dialog.ID, "error", err)
		h.send(ctx, chatID, msgGenericError, nil)
		return
	}

	limit := h.effectiveLimit(ctx, model)
	used, err := h.sessions.CheckBudget(ctx, dialog, limit)
	if err != nil {
		if errors.Is(err, session.ErrBudgetExceeded) {
			// Hard pre-check: the backend is never called for an exhausted
			// dialog. The notice is persisted as this turn's assistant text.
			notice := limitExceededNotice(limit, used)
			sent := h.send(ctx, chatID, notice, replyKeyboard())
			if err := h.sessions.CompleteTurn(ctx, turn, notice, "", llm.Usage{}); err != nil {
				h.log.Error("persist budget notice", "turn_id", turn.ID, "error", err)
			}
			if sent != nil {
				_ = h.sessions.SetAssistantMessageID(ctx, turn, sent.MessageID)
			}
			return
		}
		h.log.Error("budget check", "dialog_id", dialog.ID, "error", err)
		h.send(ctx, chatID, msgGenericError, nil)
		return
	}

	stopTyping := h.keepTyping(ctx, chatID)
	defer stopTyping()

	systemPrompt := llm.SystemPromptFor(model.SystemPrompt, mode)
	msgs, err := h.sessions.BuildContext(ctx, dialog, systemPrompt)
	if err != nil {
		h.log.Error("build context", "dialog_id", dialog.ID, "error", err)
		h.send(ctx, chatID, msgGenericError, replyKeyboard())
		return
	}

	result, err := h.router.Complete(ctx, model, msgs, mode.Name)
	if err != nil {
		// The turn stays persisted with user text only, for audit.
		h.log.Error("backend call failed",
			"dialog_id", dialog.ID, "model", model.Model, "error", err)
		h.send(ctx, chatID, msgGenericError, replyKeyboard())
		h.notifyOperators(ctx, chatID, err)
		return
	}

	if err := h.sessions.CompleteTurn(ctx, turn, result.Text, model.Model, result.Usage); err != nil {
		h.log.Error("complete turn", "turn_id", turn.ID, "error", err)
	}

	newTotal := used + result.Usage.TotalTokens
	exceeded := limit > 0 && newTotal >= limit

	h.clearPreviousControls(ctx, dialog, chatID, turn.ID)

	body := strings.TrimSpace(result.Text)
	summary := usageSummary(newTotal, limit)
	if body == "" {
		body = summary
	} else {
		body = body + "\n\n" + summary
	}

	segments := SplitMessage(body)
	var controlsMessageID int64
	for i, seg := range segments {
		var markup *telegram.InlineKeyboardMarkup
		if i == len(segments)-1 && !exceeded {
			markup = replyKeyboard()
		}
		sent := h.send(ctx, chatID, seg, markup)
		if markup != nil && sent != nil {
			controlsMessageID = sent.MessageID
		}
	}
	if exceeded {
		h.send(ctx, chatID, limitExceededNotice(limit, newTotal), nil)
	}
	if controlsMessageID != 0 {
		if err := h.sessions.SetAssistantMessageID(ctx, turn, controlsMessageID); err != nil {
			h.log.Error("save assistant message id", "turn_id", turn.ID, "error", err)
		}
	}

	h.publishTurn(ctx, dialog, user, turn, model)
}

func (h *Handler) handleCommand(ctx context.Context, msg *telegram.Message, text string) {
	chatID := msg.Chat.ID

	user, err := h.sessions.ResolveUser(ctx, identityFrom(msg.From))
	if err != nil {
		h.log.Error("resolve user", "error", err)
		return
	}
	if h.respondIfPaused(ctx, chatID) {
		return
	}
	if !user.IsActive {
		h.send(ctx, chatID, msgAccessRestricted, nil)
		return
	}

	name := strings.TrimPrefix(strings.Fields(text)[0], "/")
	if at := strings.Index(name, "@"); at >= 0 {
		name = name[:at]
	}

	switch name {
	case "start":
		h.send(ctx, chatID, msgWelcome, replyKeyboard())
	case "help":
		h.send(ctx, chatID, msgHelp, nil)
	case "new":
		if _, err := h.sessions.ResetDialog(ctx, user, strconv.FormatInt(chatID, 10)); err != nil {
			h.log.Error("reset dialog", "user_id", user.ID, "error", err)
			h.send(ctx, chatID, msgGenericError, nil)
			return
		}
		h.send(ctx, chatID, msgNewDialog, replyKeyboard())
	case "history":
		h.sendHistory(ctx, user, chatID)
	default:
		cmd, err := h.repo.CommandByName(ctx, name)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				h.send(ctx, chatID, msgUnknownCommand, nil)
				return
			}
			h.log.Error("lookup command", "command", name, "error", err)
			h.send(ctx, chatID, msgGenericError, nil)
			return
		}
		h.send(ctx, chatID, cmd.ResponseText, nil)
	}
}

func (h *Handler) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	if cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	if err := h.api.AnswerCallbackQuery(ctx, cb.ID, ""); err != nil {
		h.log.Debug("answer callback", "error", err)
	}

	user, err := h.sessions.ResolveUser(ctx, identityFrom(cb.From))
	if err != nil {
		h.log.Error("resolve user", "error", err)
		return
	}
	if h.respondIfPaused(ctx, chatID) {
		return
	}
	if !user.IsActive {
		h.send(ctx, chatID, msgAccessRestricted, nil)
		return
	}

	action, ok := DecodeAction(cb.Data)
	if !ok {
		h.log.Debug("unknown callback data", "data", cb.Data)
		return
	}

	switch action.Kind {
	case ActionSetMode:
		mode := llm.ModeByName(action.Mode)
		if err := h.sessions.SetPreferredMode(ctx, user, mode.Name); err != nil {
			h.log.Error("set mode", "user_id", user.ID, "error", err)
			h.send(ctx, chatID, msgGenericError, nil)
			return
		}
		h.send(ctx, chatID, "Response mode: "+mode.Label, nil)

	case ActionNewDialog:
		if _, err := h.sessions.ResetDialog(ctx, user, strconv.FormatInt(chatID, 10)); err != nil {
			h.log.Error("reset dialog", "user_id", user.ID, "error", err)
			h.send(ctx, chatID, msgGenericError, nil)
			return
		}
		h.send(ctx, chatID, msgNewDialog, replyKeyboard())

	case ActionShowHistory:
		h.sendHistory(ctx, user, chatID)

	case ActionSwitchDialog:
		dialog, err := h.sessions.SwitchDialog(ctx, user, action.DialogID, strconv.FormatInt(chatID, 10))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				h.send(ctx, chatID, "That conversation is gone.", nil)
				return
			}
			h.log.Error("switch dialog", "user_id", user.ID, "error", err)
			h.send(ctx, chatID, msgGenericError, nil)
			return
		}
		// Collapse the history picker; purely cosmetic, so best-effort.
		if err := h.api.DeleteMessage(ctx, chatID, cb.Message.MessageID); err != nil {
			h.log.Debug("delete history picker", "error", err)
		}
		h.send(ctx, chatID, "Continuing: "+dialog.Title, replyKeyboard())
	}
}

func (h *Handler) sendHistory(ctx context.Context, user *models.User, chatID int64) {
	dialogs, err := h.sessions.ListRecentDialogs(ctx, user, 10)
	if err != nil {
		h.log.Error("list dialogs", "user_id", user.ID, "error", err)
		h.send(ctx, chatID, msgGenericError, nil)
		return
	}
	if len(dialogs) == 0 {
		h.send(ctx, chatID, msgNoDialogs, nil)
		return
	}
	entries := make([]historyEntry, 0, len(dialogs))
	for _, d := range dialogs {
		entries = append(entries, historyEntry{PublicID: d.PublicID, Title: d.Title, Active: d.IsActive})
	}
	h.send(ctx, chatID, msgHistoryTitle, historyKeyboard(entries))
}

// clearPreviousControls strips stale inline keyboards off earlier assistant
// messages so only the newest reply carries controls.
func (h *Handler) clearPreviousControls(ctx context.Context, dialog *models.Dialog, chatID int64, currentTurnID uint64) {
	turns, err := h.sessions.TurnsWithControls(ctx, dialog)
	if err != nil {
		h.log.Debug("list controls-bearing turns", "dialog_id", dialog.ID, "error", err)
		return
	}
	for _, t := range turns {
		if t.ID == currentTurnID || t.AssistantMessageID == nil {
			continue
		}
		if err := h.api.EditMessageReplyMarkup(ctx, chatID, *t.AssistantMessageID, nil); err != nil {
			h.log.Debug("strip stale controls", "message_id", *t.AssistantMessageID, "error", err)
		}
	}
}

// keepTyping refreshes the typing indicator until the returned stop func is
// called. Telegram drops the indicator after ~5s, hence the 4s cadence.
func (h *Handler) keepTyping(ctx context.Context, chatID int64) func() {
	_ = h.api.SendChatAction(ctx, chatID, "typing")
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(4 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := h.api.SendChatAction(ctx, chatID, "typing"); err != nil {
					h.log.Debug("refresh typing indicator", "error", err)
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }
}

// notifyOperators pushes a redacted failure note to the configured operator
// chats, skipping the chat the failure originated in.
func (h *Handler) notifyOperators(ctx context.Context, originChatID int64, cause error) {
	ids, err := h.settings.GetInt64List(ctx, settings.KeyErrorNotifyUserIDs)
	if err != nil {
		h.log.Error("read operator recipients", "error", err)
		return
	}
	for _, id := range ids {
		if id == originChatID {
			continue
		}
		h.send(ctx, id, "⚠️ Turn processing failed: "+cause.Error(), nil)
	}
}

func (h *Handler) effectiveLimit(ctx context.Context, model *models.ModelConfig) int {
	global, err := h.settings.GetInt(ctx, settings.KeyDialogTokenLimit, h.defaultTokenLimit)
	if err != nil {
		h.log.Error("read dialog token limit", "error", err)
		global = h.defaultTokenLimit
	}
	return session.EffectiveLimit(global, model.DialogTokenLimit)
}

func (h *Handler) publishTurn(ctx context.Context, dialog *models.Dialog, user *models.User, turn *models.MessageTurn, model *models.ModelConfig) {
	if h.events == nil {
		return
	}
	ev := events.TurnCompleted{
		DialogID:         dialog.PublicID,
		UserID:           user.TelegramID,
		SequenceNumber:   turn.SequenceNumber,
		Model:            model.Model,
		Mode:             turn.Mode,
		PromptTokens:     turn.PromptTokens,
		CompletionTokens: turn.CompletionTokens,
		TotalTokens:      turn.TotalTokens,
	}
	if err := h.events.PublishTurnCompleted(ctx, ev); err != nil {
		h.log.Warn("publish turn event", "dialog_id", dialog.ID, "error", err)
	}
}

func (h *Handler) send(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) *telegram.Message {
	sent, err := h.api.SendMessage(ctx, telegram.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: markup,
	})
	if err != nil {
		h.log.Error("send message", "chat_id", chatID, "error", err)
		return nil
	}
	return sent
}
