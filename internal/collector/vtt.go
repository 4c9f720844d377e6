package collector

import (
	"regexp"
	"strings"
)

var vttTimestamp = regexp.MustCompile(`^\d{2}:\d{2}`)

// LooksLikeVTT reports whether s is a WebVTT document.
func LooksLikeVTT(s string) bool {
	return strings.HasPrefix(strings.TrimLeft(s, "\ufeff \t\r\n"), "WEBVTT")
}

// ParseVTT flattens a WebVTT transcript into plain text. Header, cue timing
// and blank lines are dropped; the remaining lines are trimmed and joined
// with single spaces.
func ParseVTT(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(line, "\ufeff"))
		if line == "" ||
			strings.HasPrefix(line, "WEBVTT") ||
			strings.Contains(line, "-->") ||
			vttTimestamp.MatchString(line) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, " ")
}
