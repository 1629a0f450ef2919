package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CleanJSONResponse strips the markdown fences and surrounding prose that
// chat models wrap around JSON payloads. The result is the best candidate
// JSON text, not guaranteed to parse.
func CleanJSONResponse(response string) string {
	s := strings.TrimSpace(response)

	// Fenced block first: models often reply ```json ... ```.
	if idx := strings.Index(s, "```"); idx >= 0 {
		rest := s[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		rest = strings.TrimPrefix(rest, "JSON")
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		s = strings.TrimSpace(rest)
	}

	if extracted := ExtractJSON(s); extracted != "" {
		return extracted
	}
	return s
}

// ExtractJSON returns the first balanced JSON object or array in s, or ""
// when none exists. Braces inside JSON strings are ignored.
func ExtractJSON(s string) string {
	start := -1
	var open, close byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' {
			start, open, close = i, '{', '}'
			break
		}
		if s[i] == '[' {
			start, open, close = i, '[', ']'
			break
		}
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
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
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// errorPhrases mark replies where the model refused or failed instead of
// answering with data.
var errorPhrases = []string{
	"i'm sorry", "i am sorry", "i cannot", "i can't", "unable to",
	"as an ai", "error occurred",
}

// SafeJSONParse cleans a model response and unmarshals it into out. Replies
// that look like refusals or contain no JSON at all produce an error rather
// than a zero-value result.
func SafeJSONParse(response string, out any) error {
	cleaned := CleanJSONResponse(response)
	if cleaned == "" || (cleaned[0] != '{' && cleaned[0] != '[') {
		lower := strings.ToLower(response)
		for _, phrase := range errorPhrases {
			if strings.Contains(lower, phrase) {
				return fmt.Errorf("model returned an error response: %.120s", strings.TrimSpace(response))
			}
		}
		return fmt.Errorf("no JSON found in model response")
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("parsing model response: %w", err)
	}
	return nil
}
