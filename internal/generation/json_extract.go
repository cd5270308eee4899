// Package generation turns prompts into scene content: narrative text through a
// chat model, then an illustration and a narration clip in parallel. It owns
// the in-flight guards that keep every generation at-most-once per scene.
package generation

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	jsonFenceRegex = regexp.MustCompile("(?s)```json\\s*([\\s\\S]*?)\\s*```")
	anyFenceRegex  = regexp.MustCompile("(?s)```\\s*([\\s\\S]*?)\\s*```")
)

func isValidJSON(s string) bool {
	var js json.RawMessage
	return json.Unmarshal([]byte(s), &js) == nil
}

// balanceBrackets appends or trims closing brackets at the end of the text so
// a response truncated mid-object can still be parsed. Brackets inside string
// literals are ignored while counting.
func balanceBrackets(text string) string {
	balanceCurly := 0
	balanceSquare := 0
	inString := false
	escape := false

	for _, r := range text {
		if escape {
			escape = false
			continue
		}
		if r == '\\' {
			escape = true
			continue
		}
		if r == '"' {
			inString = !inString
		}
		if !inString {
			switch r {
			case '{':
				balanceCurly++
			case '}':
				balanceCurly--
			case '[':
				balanceSquare++
			case ']':
				balanceSquare--
			}
		}
	}

	balanced := text
	for balanceSquare > 0 {
		balanced += "]"
		balanceSquare--
	}
	for balanceCurly > 0 {
		balanced += "}"
		balanceCurly--
	}
	for balanceCurly < 0 && strings.HasSuffix(balanced, "}") {
		balanced = balanced[:len(balanced)-1]
		balanceCurly++
	}
	for balanceSquare < 0 && strings.HasSuffix(balanced, "]") {
		balanced = balanced[:len(balanced)-1]
		balanceSquare++
	}
	return balanced
}

func processPotentialJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if isValidJSON(trimmed) {
		return trimmed
	}
	balanced := balanceBrackets(trimmed)
	if isValidJSON(balanced) {
		return balanced
	}
	return ""
}

// ExtractJSONContent pulls the JSON document out of a raw model response.
// Models like to wrap JSON in markdown fences or prose, so the search runs
// from most to least structured: a ```json fence, any fence, then the widest
// brace-to-brace window. Returns "" when nothing parseable is found.
func ExtractJSONContent(rawText string) string {
	rawText = strings.TrimSpace(rawText)

	if matches := jsonFenceRegex.FindStringSubmatch(rawText); len(matches) > 1 {
		if result := processPotentialJSON(matches[1]); result != "" {
			return result
		}
	}

	if matches := anyFenceRegex.FindStringSubmatch(rawText); len(matches) > 1 {
		if result := processPotentialJSON(matches[1]); result != "" {
			return result
		}
	}

	firstBrace := strings.Index(rawText, "{")
	lastBrace := strings.LastIndex(rawText, "}")
	if firstBrace != -1 {
		var potential string
		if lastBrace > firstBrace {
			potential = rawText[firstBrace : lastBrace+1]
		} else {
			potential = rawText[firstBrace:]
		}
		if result := processPotentialJSON(potential); result != "" {
			return result
		}
	}

	return ""
}
