// Package redact masks personal data in transcript text before it reaches
// the logs.
package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	cardRe  = regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`)
	phoneRe = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
	// Four or more spelled digits in a row, e.g. "four one five five".
	spokenRe = regexp.MustCompile(`(?i)\b(?:(?:zero|oh|one|two|three|four|five|six|seven|eight|nine)[\s,\-]+){3,}(?:zero|oh|one|two|three|four|five|six|seven|eight|nine)\b`)
)

// SetEnabled toggles transcript redaction.
func SetEnabled(v bool) {
	enabled.Store(v)
}

func Enabled() bool {
	return enabled.Load()
}

// Text masks emails, card-like digit runs, phone numbers and spelled-out
// digit sequences when redaction is enabled. Otherwise in is returned as is.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = cardRe.ReplaceAllString(out, "[REDACTED_NUMBER]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	out = spokenRe.ReplaceAllString(out, "[REDACTED_NUMBER]")
	return out
}
