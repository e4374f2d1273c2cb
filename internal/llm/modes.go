package llm

import "strings"

// Mode is a per-user response style. Overrides apply on top of the stored
// model config without mutating it.
type Mode struct {
	Name         string
	Label        string
	PromptSuffix string
	Temperature  *float64
	MaxTokens    *int
}

const defaultSystemPrompt = "You are a helpful assistant."

var modeDefinitions = []Mode{
	{
		Name:  "default",
		Label: "Standard",
	},
	{
		Name:         "concise",
		Label:        "Concise",
		PromptSuffix: "Answer as briefly as possible, a few sentences at most.",
		Temperature:  floatPtr(0.7),
		MaxTokens:    intPtr(256),
	},
	{
		Name:         "detailed",
		Label:        "Detailed",
		PromptSuffix: "Answer thoroughly, with reasoning and examples where they help.",
		Temperature:  floatPtr(1.1),
		MaxTokens:    intPtr(768),
	},
}

// Modes returns the selectable modes in display order.
func Modes() []Mode {
	out := make([]Mode, len(modeDefinitions))
	copy(out, modeDefinitions)
	return out
}

// ModeByName resolves a mode, falling back to the default one.
func ModeByName(name string) Mode {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, m := range modeDefinitions {
		if m.Name == name {
			return m
		}
	}
	return modeDefinitions[0]
}

// SystemPromptFor combines the stored base persona with the mode suffix.
func SystemPromptFor(base string, mode Mode) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = defaultSystemPrompt
	}
	if mode.PromptSuffix == "" {
		return base
	}
	return base + " " + mode.PromptSuffix
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }
