package forms

import (
	"strings"
	"testing"
)

func TestApplyPipingSubstitutesAnswer(t *testing.T) {
	got := ApplyPiping("Hello {{Q1}}", map[int64]AnswerValue{1: {Value: "world"}}, nil)
	if got != "Hello world" {
		t.Fatalf("got %q", got)
	}
}

func TestApplyPipingEscapesMarkup(t *testing.T) {
	got := ApplyPiping("Hello {{Q1}}", map[int64]AnswerValue{1: {Value: "<script>"}}, nil)
	if got != "Hello &lt;script&gt;" {
		t.Fatalf("got %q", got)
	}
}

func TestApplyPipingUnansweredUsesQuestionText(t *testing.T) {
	questions := []FormQuestion{{ID: 1, Text: "Name"}}
	got := ApplyPiping("Hello {{Q1}}", nil, questions)
	if got != "Hello [Name]" {
		t.Fatalf("got %q", got)
	}
}

func TestApplyPipingUnknownQuestion(t *testing.T) {
	got := ApplyPiping("Hello {{Q9}}", nil, nil)
	if got != "Hello [Not answered]" {
		t.Fatalf("got %q", got)
	}
}

func TestApplyPipingJoinsMultiValues(t *testing.T) {
	got := ApplyPiping("Colors: {{Q2}}", map[int64]AnswerValue{2: {Values: []string{"red", "blue"}}}, nil)
	if got != "Colors: red, blue" {
		t.Fatalf("got %q", got)
	}
}

func TestApplyPipingTruncatesLongValues(t *testing.T) {
	long := strings.Repeat("a", 150)
	got := ApplyPiping("{{Q1}}", map[int64]AnswerValue{1: {Value: long}}, nil)
	want := strings.Repeat("a", 100) + "…"
	if got != want {
		t.Fatalf("got %d chars, want %d plus ellipsis", len(got), 100)
	}
}

func TestApplyPipingIsSinglePass(t *testing.T) {
	got := ApplyPiping("{{Q1}}", map[int64]AnswerValue{
		1: {Value: "{{Q2}}"},
		2: {Value: "nested"},
	}, nil)
	if got != "{{Q2}}" {
		t.Fatalf("substituted value was re-scanned: %q", got)
	}
}

func TestApplyPipingLeavesUnrelatedTextAlone(t *testing.T) {
	text := "No tokens here, not even {{q1}} or {Q1}"
	if got := ApplyPiping(text, map[int64]AnswerValue{1: {Value: "x"}}, nil); got != text {
		t.Fatalf("got %q", got)
	}
}
