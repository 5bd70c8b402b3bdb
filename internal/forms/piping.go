package forms

import (
	"regexp"
	"strconv"
	"strings"
)

var pipingToken = regexp.MustCompile(`\{\{Q(\d+)\}\}`)

const pipedValueLimit = 100

// ApplyPiping rewrites {{Q<id>}} tokens in text using previously collected
// answers. Answered tokens render the answer (multi-values joined with ", "),
// with angle brackets escaped and values truncated to 100 characters.
// Unanswered tokens render the referenced question's text in brackets, or
// "[Not answered]" when the id is unknown. Substitution is a single pass:
// a substituted value is never re-scanned for tokens.
func ApplyPiping(text string, answers map[int64]AnswerValue, questions []FormQuestion) string {
	return pipingToken.ReplaceAllStringFunc(text, func(token string) string {
		idText := pipingToken.FindStringSubmatch(token)[1]
		id, err := strconv.ParseInt(idText, 10, 64)
		if err != nil {
			return token
		}

		if answer, ok := answers[id]; ok {
			return renderPipedValue(answer.Render())
		}

		for i := range questions {
			if questions[i].ID == id {
				return "[" + questions[i].Text + "]"
			}
		}
		return "[Not answered]"
	})
}

func renderPipedValue(value string) string {
	value = strings.ReplaceAll(value, "<", "&lt;")
	value = strings.ReplaceAll(value, ">", "&gt;")

	runes := []rune(value)
	if len(runes) > pipedValueLimit {
		return string(runes[:pipedValueLimit]) + "…"
	}
	return value
}
