package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\n(.*?)\n?```")

// ErrNoJSON is returned by DecodeJSON when no candidate parses.
var ErrNoJSON = errors.New("no json object in reply")

// StripFence removes a markdown code fence wrapped around the whole of s.
// Fences inside the text are content and are left alone.
func StripFence(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 6 || !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") {
		return s
	}
	body := s[3 : len(s)-3]
	nl := strings.IndexByte(body, '\n')
	if nl < 0 {
		return strings.TrimSpace(body)
	}
	// The opening line may only carry a language tag.
	if tag := strings.TrimSpace(body[:nl]); strings.ContainsAny(tag, " \t`{[\"") {
		return s
	}
	return strings.TrimSpace(body[nl+1:])
}

// ObjectSpan returns the outermost {...} span of s, or s when none exists.
func ObjectSpan(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

// DecodeJSON reads a structured reply into v. It tries, in order, the raw
// body, the body without a wrapping fence, the outermost object span and
// finally the first fenced block when the reply wraps it in prose.
func DecodeJSON(s string, v any) error {
	s = strings.TrimSpace(s)
	stripped := StripFence(s)
	candidates := []string{s, stripped, ObjectSpan(stripped)}
	if m := fencedBlock.FindStringSubmatch(s); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	for _, c := range candidates {
		if json.Valid([]byte(c)) {
			return json.Unmarshal([]byte(c), v)
		}
	}
	return ErrNoJSON
}
