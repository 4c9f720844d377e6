// Package privacy scrubs credentials and payment data out of customer text
// before it is stored or sent to an extraction model.
package privacy

import (
	"regexp"
	"strings"
)

// Marker replaces redacted values.
const Marker = "[REDACTED]"

// keyedPatterns match "name: value" or "name=value" pairs. Only the value is replaced.
var keyedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(api[_-]?key|apikey|access[_-]?token|auth[_-]?token|secret[_-]?key|client[_-]?secret)\s*[:=]\s*['"]?[a-zA-Z0-9_\-./+]{16,}['"]?`),
	regexp.MustCompile(`(?i)\b(password|passwd|pwd)\s*[:=]\s*['"]?[^\s'"]{6,}['"]?`),
	regexp.MustCompile(`(?i)aws[_-]?secret[_-]?access[_-]?key\s*[:=]\s*['"]?[a-zA-Z0-9/+=]{40}['"]?`),
}

// tokenPatterns match credentials that are recognizable on their own.
var tokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bsk-(ant-)?[a-zA-Z0-9\-_]{20,}`),
	regexp.MustCompile(`\bgh[pousr]_[a-zA-Z0-9]{36,}`),
	regexp.MustCompile(`\bgithub_pat_[a-zA-Z0-9_]{22,}`),
	regexp.MustCompile(`\bxox[abposr]-[a-zA-Z0-9-]{10,}`),
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	regexp.MustCompile(`\beyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`(?i)\bbearer\s+[a-zA-Z0-9_\-.]{20,}`),
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----[\s\S]*?(-----END (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----|$)`),
}

// cardPattern finds 13 to 19 digit runs, optionally grouped by spaces or dashes.
var cardPattern = regexp.MustCompile(`\b\d(?:[ -]?\d){12,18}\b`)

// ContainsSecrets reports whether text holds anything Redact would replace.
func ContainsSecrets(text string) bool {
	return text != "" && Redact(text) != text
}

// Redact replaces credentials and card numbers in text with Marker.
// Key names are kept so the text still reads naturally.
func Redact(text string) string {
	if text == "" {
		return text
	}

	out := text
	for _, p := range keyedPatterns {
		out = p.ReplaceAllStringFunc(out, func(match string) string {
			if idx := strings.IndexAny(match, ":="); idx != -1 {
				return match[:idx+1] + " " + Marker
			}
			return Marker
		})
	}
	for _, p := range tokenPatterns {
		out = p.ReplaceAllString(out, Marker)
	}
	out = cardPattern.ReplaceAllStringFunc(out, func(match string) string {
		if luhn(match) {
			return Marker
		}
		return match
	})
	return out
}

// luhn validates the check digit of a card number, ignoring separators.
func luhn(s string) bool {
	sum, n := 0, 0
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c == ' ' || c == '-' {
			continue
		}
		d := int(c - '0')
		if n%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		n++
	}
	return n >= 13 && sum%10 == 0
}
