package papergen

import (
	"errors"
	"strings"
)

var errNoJSONObject = errors.New("no JSON object found in reply")

// extractObject returns the first balanced {...} in a model reply. A
// surrounding Markdown fence and any prose before or after the object are
// dropped. Braces inside JSON strings are ignored.
func extractObject(text string) (string, error) {
	text = strings.TrimPrefix(strings.TrimSpace(text), "\uFEFF")
	if inner, ok := unfence(text); ok {
		text = strings.TrimSpace(inner)
	}
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		if end, ok := closingBrace(text, i); ok {
			return text[i : end+1], nil
		}
	}
	return "", errNoJSONObject
}

// unfence returns the body of a leading ``` or ~~~ block.
func unfence(s string) (string, bool) {
	fence := ""
	switch {
	case strings.HasPrefix(s, "```"):
		fence = "```"
	case strings.HasPrefix(s, "~~~"):
		fence = "~~~"
	default:
		return "", false
	}
	nl := strings.IndexByte(s, '\n')
	if nl < 0 {
		return "", false
	}
	body := s[nl+1:]
	if end := strings.Index(body, fence); end >= 0 {
		return body[:end], true
	}
	return body, true
}

// closingBrace finds the index of the brace that closes the object opened
// at start.
func closingBrace(s string, start int) (int, bool) {
	var stack []byte
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				return 0, false
			}
			open := stack[len(stack)-1]
			if (open == '{') != (c == '}') {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
