package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2/log"
)

// ErrNoJSONFound is returned when no valid JSON object/array is found in the input
var ErrNoJSONFound = errors.New("no valid JSON object or array found in response")

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.+?)\\s*```")

// ExtractJSON pulls the first complete JSON value out of free model text.
// It tries, in order: a fenced code block, bracket matching from the first
// object brace, the whole cleaned text, first-to-last brace, and finally the
// span with control characters stripped.
func ExtractJSON(response string) (string, error) {
	if strings.TrimSpace(response) == "" {
		return "", ErrNoJSONFound
	}

	cleaned := extractFromMarkdown(response)

	if candidate := extractJSONByBrackets(cleaned); candidate != "" && json.Valid([]byte(candidate)) {
		return candidate, nil
	}

	if json.Valid([]byte(cleaned)) {
		return cleaned, nil
	}

	if candidate := aggressiveExtract(response); candidate != "" {
		return candidate, nil
	}

	if candidate := stripControlChars(cleaned); candidate != "" && json.Valid([]byte(candidate)) {
		return candidate, nil
	}

	log.Debugf("[JSON Extractor] No JSON in %d chars of model output", len(response))
	return "", fmt.Errorf("%w: response length=%d", ErrNoJSONFound, len(response))
}

// ExtractJSONTo extracts JSON from response and unmarshals it into target
func ExtractJSONTo(response string, target interface{}) error {
	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(jsonStr), target); err != nil {
		return fmt.Errorf("failed to decode extracted JSON: %w", err)
	}
	return nil
}

func extractFromMarkdown(s string) string {
	s = strings.TrimSpace(s)
	if m := fencedBlock.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// extractJSONByBrackets returns the first balanced object span. Arrays are
// only considered when the text holds no object, so a citation like "[1]"
// ahead of the object is skipped.
func extractJSONByBrackets(s string) string {
	if span := balancedSpan(s, '{', '}'); span != "" {
		return span
	}
	return balancedSpan(s, '[', ']')
}

// balancedSpan scans from each opener in turn, honouring string literals and
// escapes, and returns the first span that closes and is valid JSON
func balancedSpan(s string, opener, closer byte) string {
	for offset := 0; offset < len(s); {
		idx := strings.IndexByte(s[offset:], opener)
		if idx == -1 {
			return ""
		}
		start := offset + idx
		if span := closeSpan(s, start, opener, closer); span != "" && json.Valid([]byte(span)) {
			return span
		}
		offset = start + 1
	}
	return ""
}

func closeSpan(s string, start int, opener, closer byte) string {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == opener:
			depth++
		case c == closer:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func aggressiveExtract(s string) string {
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		first := strings.Index(s, pair[0])
		last := strings.LastIndex(s, pair[1])
		if first != -1 && last > first {
			candidate := s[first : last+1]
			if json.Valid([]byte(candidate)) {
				return candidate
			}
		}
	}
	return ""
}

func stripControlChars(s string) string {
	first := strings.Index(s, "{")
	last := strings.LastIndex(s, "}")
	if first == -1 || last <= first {
		return ""
	}
	s = s[first : last+1]

	var b strings.Builder
	for _, r := range s {
		if r >= 32 || r == '\n' || r == '\r' || r == '\t' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
