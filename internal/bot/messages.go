package bot

import (
	"fmt"
	"strconv"

	"github.com/telellm/telellm/internal/llm"
	"github.com/telellm/telellm/internal/telegram"
)

// User-facing copy.
const (
	msgWelcome          = "Hi! Send me a message and I will answer. Use the buttons under replies to change the response mode or manage conversations."
	msgHelp             = "Send any text to get an answer. /new starts a fresh conversation, /history shows earlier ones. Mode buttons switch between standard, concise and detailed answers."
	msgGenericError     = "Something went wrong. Our team is already looking into it."
	msgUnavailable      = "The service is temporarily unavailable. Please try again later."
	msgAccessRestricted = "Your access to the bot is restricted. Please contact the administrator."
	msgUnknownCommand   = "Unknown command. Try /help."
	msgNewDialog        = "Started a new conversation."
	msgNoDialogs        = "No saved conversations yet."
	msgDefaultPause     = "The bot is paused for maintenance. Please come back later."
	msgHistoryTitle     = "Pick a conversation to continue:"
)

// replyKeyboard is the standard control set attached to the final segment of
// a reply: mode switches plus dialog management.
func replyKeyboard() *telegram.InlineKeyboardMarkup {
	modes := llm.Modes()
	modeRow := make([]telegram.InlineKeyboardButton, 0, len(modes))
	for _, m := range modes {
		modeRow = append(modeRow, telegram.InlineKeyboardButton{
			Text:         m.Label,
			CallbackData: EncodeSetMode(m.Name),
		})
	}
	return &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			modeRow,
			{
				{Text: "New conversation", CallbackData: callbackNewDialog},
				{Text: "History", CallbackData: callbackShowHistory},
			},
		},
	}
}

func historyKeyboard(entries []historyEntry) *telegram.InlineKeyboardMarkup {
	rows := make([][]telegram.InlineKeyboardButton, 0, len(entries))
	for _, e := range entries {
		label := e.Title
		if e.Active {
			label = "▸ " + label
		}
		rows = append(rows, []telegram.InlineKeyboardButton{
			{Text: label, CallbackData: EncodeSwitchDialog(e.PublicID)},
		})
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
}

type historyEntry struct {
	PublicID string
	Title    string
	Active   bool
}

// usageSummary is the trailing accounting line appended to a reply.
func usageSummary(total, limit int) string {
	if limit > 0 {
		return fmt.Sprintf("Tokens used: %s of %s", formatTokens(total), formatTokens(limit))
	}
	return fmt.Sprintf("Tokens used: %s", formatTokens(total))
}

// limitExceededNotice replaces the controls-bearing segment once the budget
// is spent.
func limitExceededNotice(limit, total int) string {
	return fmt.Sprintf(
		"⚠️ The token budget for this conversation is exhausted.\nUsed %s of %s tokens.\nStart a new conversation or pick an earlier one from the history.",
		formatTokens(total), formatTokens(limit),
	)
}

func formatTokens(n int) string {
	s := strconv.Itoa(n)
	if len(s) <= 3 {
		return s
	}
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ' ')
		}
		out = append(out, c)
	}
	return string(out)
}
