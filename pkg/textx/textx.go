// Package textx provides small text utilities used across the project.
package textx

import (
	"encoding/json"
	"regexp"
	"strings"
)

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	// strip control chars outside tab/newline/carriage return
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// ExtractJSON decodes a JSON value out of model output that may carry prose
// around it: strict parse first, then a retry on the slice between the first
// '{' and the last '}'. Returns nil when no value can be recovered.
func ExtractJSON(s string) any {
	t := strings.TrimSpace(s)
	if t == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(t), &v); err == nil {
		return v
	}
	start := strings.Index(t, "{")
	end := strings.LastIndex(t, "}")
	if start == -1 || end <= start {
		return nil
	}
	if err := json.Unmarshal([]byte(t[start:end+1]), &v); err != nil {
		return nil
	}
	return v
}

var emailRx = regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`)

// ScanEmails extracts e-mail addresses from free text, lowercased and
// de-duplicated preserving first appearance. A positive limit caps the result.
func ScanEmails(s string, limit int) []string {
	matches := emailRx.FindAllString(s, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		e := strings.ToLower(m)
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
