package approvals

import (
	"fmt"
	"unicode/utf8"
)

// maxPreviewBytes bounds the result preview stored in tool.result
// events and returned by the status endpoint.
const maxPreviewBytes = 500

// resultPreview renders a tool result as a string capped at
// maxPreviewBytes. The cut backs up to the previous rune boundary so
// the preview is always valid UTF-8.
func resultPreview(result any) string {
	var s string
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		s = v
	default:
		s = fmt.Sprintf("%v", v)
	}
	return truncateRunes(s, maxPreviewBytes)
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
