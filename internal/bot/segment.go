package bot

import (
	"strings"
	"unicode/utf8"
)

// MessageLimit is the transport's hard per-message size.
const MessageLimit = 4096

const continuationMarker = "..."

// SplitMessage splits an oversized reply into transport-size segments. Every
// non-final segment ends with the continuation marker and every non-first
// segment starts with it; splits prefer the last whitespace inside the packed
// window so words are not cut mid-token, falling back to a hard cut.
//
// Stripping the injected markers and rejoining the cores reproduces the
// original text.
func SplitMessage(text string) []string {
	if text == "" {
		return nil
	}
	if len(text) <= MessageLimit {
		return []string{text}
	}

	var segments []string
	remaining := text
	first := true

	for remaining != "" {
		var prefix, suffix string
		var available int

		if first {
			needsSplit := len(remaining) > MessageLimit
			if needsSplit {
				suffix = continuationMarker
			}
			available = MessageLimit - len(suffix)
		} else {
			prefix = continuationMarker
			needsSplit := len(remaining) > MessageLimit-len(continuationMarker)
			if needsSplit {
				suffix = continuationMarker
			}
			available = MessageLimit - len(prefix) - len(suffix)
		}

		if available <= 0 {
			available = MessageLimit
			prefix = ""
			suffix = ""
		}

		var core string
		if len(remaining) <= available {
			core = remaining
			remaining = ""
		} else {
			core = remaining[:available]
			splitPos := strings.LastIndex(core, " ")
			if splitPos <= 0 {
				// Hard cut: back up to a rune boundary so multibyte text
				// never yields an invalid-UTF-8 segment.
				splitPos = available
				for splitPos > 0 && !utf8.RuneStart(remaining[splitPos]) {
					splitPos--
				}
			}
			core = strings.TrimRight(core[:splitPos], " \t\n")
			remaining = strings.TrimLeft(remaining[splitPos:], " \t\n")
		}

		segments = append(segments, prefix+core+suffix)
		first = false
	}

	return segments
}
