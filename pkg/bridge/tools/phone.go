// Package tools defines the fixed function schema offered to the AI session
// and the dispatcher that executes reassembled tool calls against the CRM
// gateway.
package tools

import "strings"

// NormalizePhone converts raw caller input into E.164-ish form. Input with a
// leading + keeps it and drops everything that is not a digit. Input without
// one is reduced to its digits and prefixed with +. Returns "" when no
// digits survive.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// PlausiblePhone reports whether e164 looks like a dialable number: a
// leading + followed by 8 to 15 digits.
func PlausiblePhone(e164 string) bool {
	if !strings.HasPrefix(e164, "+") {
		return false
	}
	digits := e164[1:]
	if len(digits) < 8 || len(digits) > 15 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
