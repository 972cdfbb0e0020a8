// Package classify maps arbitrary response text to a coarse category.
//
// Rules are evaluated in a fixed order and the first match wins:
//
//  1. blank input                                  ERROR
//  2. error synonym followed by ':' or whitespace  ERROR
//  3. echo-style prefix                            ECHO
//  4. code signature                               CODE
//  5. bracketed text that parses as JSON           JSON
//  6. anything else                                UNKNOWN
package classify

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/doeshing/cmdrelay/internal/domain"
)

var (
	errorPattern = regexp.MustCompile(`(?i)^(error|hiba|exception|failed|sikertelen)[:\s]`)
	codePattern  = regexp.MustCompile(`^(def |class |import |from |@\w)`)
	echoPrefixes = []string{"CMD:", "INFO:", "ECHO:", "REPLAY:", "OUTPUT:", "RESPONSE:"}
)

const (
	fence           = "```"
	pythonLookahead = 20
)

// Classify returns the category of text. It never panics.
func Classify(text string) domain.Category {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return domain.CategoryError
	case errorPattern.MatchString(text):
		return domain.CategoryError
	case hasEchoPrefix(text):
		return domain.CategoryEcho
	case looksLikeCode(text):
		return domain.CategoryCode
	case looksLikeJSON(text):
		return domain.CategoryJSON
	default:
		return domain.CategoryUnknown
	}
}

// ClassifyValue accepts any value; only strings can classify as something other than ERROR.
func ClassifyValue(v interface{}) domain.Category {
	if s, ok := v.(string); ok {
		return Classify(s)
	}
	return domain.CategoryError
}

func hasEchoPrefix(text string) bool {
	for _, p := range echoPrefixes {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	return false
}

func looksLikeCode(text string) bool {
	if codePattern.MatchString(text) {
		return true
	}
	if strings.HasPrefix(text, fence) && fencedBody(text) != "" {
		return true
	}
	head := text
	if r := []rune(text); len(r) > pythonLookahead {
		head = string(r[:pythonLookahead])
	}
	return strings.Contains(strings.ToLower(head), "python")
}

// fencedBody strips the opening fence, its language tag and a closing fence.
func fencedBody(text string) string {
	body := strings.TrimPrefix(text, fence)
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else if strings.HasSuffix(body, fence) {
		body = strings.TrimSuffix(body, fence)
	} else if !strings.ContainsAny(body, " \t(") {
		// "```" or "```lang" alone carries no code
		return ""
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), fence)
	return strings.TrimSpace(body)
}

func looksLikeJSON(text string) bool {
	bracketed := (strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}")) ||
		(strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]"))
	return bracketed && json.Valid([]byte(text))
}
