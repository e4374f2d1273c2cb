package bot

import "strings"

// ActionKind tags the decoded interactive-control callbacks.
type ActionKind int

const (
	ActionUnknown ActionKind = iota
	ActionSetMode
	ActionNewDialog
	ActionShowHistory
	ActionSwitchDialog
)

// Action is the typed form of a callback-data string. Decoding happens once
// at the transport boundary; the handler switches on Kind.
type Action struct {
	Kind     ActionKind
	Mode     string // ActionSetMode
	DialogID string // ActionSwitchDialog
}

// Callback-data wire encoding.
const (
	callbackModePrefix   = "mode:"
	callbackNewDialog    = "dialog:new"
	callbackShowHistory  = "dialog:history"
	callbackSwitchPrefix = "dialog:switch:"
)

// DecodeAction parses callback data into a typed action. Unknown or
// malformed data yields (Action{}, false).
func DecodeAction(data string) (Action, bool) {
	data = strings.TrimSpace(data)
	switch {
	case data == callbackNewDialog:
		return Action{Kind: ActionNewDialog}, true
	case data == callbackShowHistory:
		return Action{Kind: ActionShowHistory}, true
	case strings.HasPrefix(data, callbackModePrefix):
		mode := strings.TrimPrefix(data, callbackModePrefix)
		if mode == "" || strings.Contains(mode, ":") {
			return Action{}, false
		}
		return Action{Kind: ActionSetMode, Mode: mode}, true
	case strings.HasPrefix(data, callbackSwitchPrefix):
		id := strings.TrimPrefix(data, callbackSwitchPrefix)
		if id == "" || strings.Contains(id, ":") {
			return Action{}, false
		}
		return Action{Kind: ActionSwitchDialog, DialogID: id}, true
	default:
		return Action{}, false
	}
}

// EncodeSwitchDialog builds the callback data for a history-picker entry.
func EncodeSwitchDialog(publicID string) string {
	return callbackSwitchPrefix + publicID
}

// EncodeSetMode builds the callback data for a mode button.
func EncodeSetMode(mode string) string {
	return callbackModePrefix + mode
}
