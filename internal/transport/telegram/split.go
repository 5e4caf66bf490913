package telegram

import (
	"strings"
	"unicode/utf16"
)

// MaxMessageLength is Telegram's limit for one text message. Telegram counts
// UTF-16 code units, so a character outside the BMP uses two.
const MaxMessageLength = 4096

// textLen is the length of s as Telegram counts it.
func textLen(s string) int {
	n := 0
	for _, r := range s {
		n += runeLen(r)
	}
	return n
}

func runeLen(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1 // invalid UTF-8 is sent as U+FFFD
}

// cutAt splits s after the longest prefix of at most limit units. The prefix
// holds at least one character so a cut always makes progress.
func cutAt(s string, limit int) (head, tail string) {
	n := 0
	for i, r := range s {
		w := runeLen(r)
		if n+w > limit && i > 0 {
			return s[:i], s[i:]
		}
		n += w
	}
	return s, ""
}

// splitMessage cuts s into parts of at most limit units, breaking at
// newlines. A single line longer than limit is cut hard.
func splitMessage(s string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	if textLen(s) <= limit {
		return []string{s}
	}

	var (
		out  []string
		cur  strings.Builder
		size int
	)
	flush := func() {
		if size > 0 {
			out = append(out, cur.String())
			cur.Reset()
			size = 0
		}
	}
	for _, line := range strings.Split(s, "\n") {
		n := textLen(line)
		for n > limit {
			flush()
			var head string
			head, line = cutAt(line, limit)
			out = append(out, head)
			n = textLen(line)
		}
		need := n
		if size > 0 {
			need++
		}
		if size+need > limit {
			flush()
			need = n
		}
		if size > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
		size += need
	}
	flush()
	return out
}
