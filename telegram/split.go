package telegram

import "strings"

// MaxMessageLength is Telegram's hard cap on message text.
const MaxMessageLength = 4096

// SplitMessage splits text into chunks of at most limit characters.
// Each cut prefers the last paragraph break within the limit, then the
// last line break, then the last space, then a hard cut. Leading newlines
// of the remainder are stripped after each cut.
func SplitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for text != "" {
		if len(text) <= limit {
			chunks = append(chunks, text)
			break
		}

		cut := strings.LastIndex(text[:limit], "\n\n")
		if cut == -1 {
			cut = strings.LastIndex(text[:limit], "\n")
		}
		if cut == -1 {
			cut = strings.LastIndex(text[:limit], " ")
		}
		if cut <= 0 {
			// No usable boundary (or a boundary at position zero, which
			// would make no progress); cut hard at the limit.
			cut = limit
		}

		chunks = append(chunks, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	return chunks
}
