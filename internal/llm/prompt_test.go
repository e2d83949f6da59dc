package llm

import (
	"strings"
	"testing"
)

func TestBuildSummaryMessages(t *testing.T) {
	msgs := BuildSummaryMessages("Title", "Body text.", "")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[1].Role != "user" {
		t.Errorf("unexpected roles: %s, %s", msgs[0].Role, msgs[1].Role)
	}
	if !strings.Contains(msgs[1].Content, "Body text.") {
		t.Error("user message missing content")
	}

	custom := BuildSummaryMessages("Title", "Body", "Focus on code samples.")
	if !strings.Contains(custom[0].Content, "Focus on code samples.") {
		t.Error("custom prompt not appended to system message")
	}
}

func TestBuildQuestionMessagesCount(t *testing.T) {
	msgs := BuildQuestionMessages("Title", "Body", 7, "")
	if !strings.Contains(msgs[0].Content, "exactly 7 questions") {
		t.Errorf("question count not in prompt: %s", msgs[0].Content)
	}
}

func TestParseSummary(t *testing.T) {
	raw := `{"summary": "A post about goroutines.", "key_points": ["cheap", "scheduled"]}`
	res, err := ParseSummary(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Summary != "A post about goroutines." {
		t.Errorf("unexpected summary %q", res.Summary)
	}
	if len(res.KeyPoints) != 2 {
		t.Errorf("unexpected key points %v", res.KeyPoints)
	}
}

func TestParseSummaryCodeFence(t *testing.T) {
	raw := "```json\n{\"summary\": \"Fenced.\", \"key_points\": [\"one\"]}\n```"
	res, err := ParseSummary(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Summary != "Fenced." {
		t.Errorf("unexpected summary %q", res.Summary)
	}
}

func TestParseSummaryRejects(t *testing.T) {
	for _, raw := range []string{
		"not json at all",
		`{"summary": ""}`,
		`{"key_points": ["no summary"]}`,
		`{"summary": "just a summary"}`,
		`{"summary": "empty points", "key_points": []}`,
	} {
		if _, err := ParseSummary(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestParseQuestions(t *testing.T) {
	raw := `[{"question":"Q1?","answer":"A1."},{"question":"Q2?","answer":"A2."}]`
	pairs, err := ParseQuestions(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pairs) != 2 || pairs[1].Answer != "A2." {
		t.Errorf("unexpected pairs %+v", pairs)
	}
}

func TestParseQuestionsFiltersEmpty(t *testing.T) {
	raw := `[{"question":"Q1?","answer":"A1."},{"question":"","answer":"orphan"}]`
	pairs, err := ParseQuestions(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pairs) != 1 {
		t.Errorf("expected empty pair filtered, got %+v", pairs)
	}
}

func TestParseQuestionsRejects(t *testing.T) {
	for _, raw := range []string{
		"not json",
		"[]",
		`[{"question":"","answer":""}]`,
	} {
		if _, err := ParseQuestions(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"plain":                      "plain",
		"```json\n{\"a\":1}\n```":    `{"a":1}`,
		"```\n[1,2]\n```":            "[1,2]",
		"  ```json\n{\"b\":2}\n``` ": `{"b":2}`,
	}
	for in, want := range cases {
		if got := stripCodeFence(in); got != want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}
