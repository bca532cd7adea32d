package relay

import (
	"fmt"
	"strings"
)

// Split breaks text into chunks of at most limit bytes so a long backend
// reply fits the transport's message-size cap. It prefers cutting at the last
// newline within the limit, then the last space, and hard-splits mid-word
// only when neither exists. Leading newlines are stripped from the remainder
// after each cut; spaces are kept.
func Split(text string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("split: limit must be positive, got %d", limit)
	}
	if len(text) <= limit {
		return []string{text}, nil
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= limit {
			chunks = append(chunks, text)
			break
		}

		cut := strings.LastIndexByte(text[:limit], '\n')
		if cut < 0 {
			cut = strings.LastIndexByte(text[:limit], ' ')
		}
		// A cut at position 0 only makes progress when the stripped leading
		// newline shrinks the remainder; otherwise hard-split at the limit.
		if cut < 0 || (cut == 0 && text[0] != '\n') {
			cut = limit
		}

		chunks = append(chunks, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	return chunks, nil
}
