package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

const summarySystemPrompt = `You are a content analyst. Summarize the blog post you are given.
Respond with a single JSON object and nothing else, in this exact shape:
{"summary": "...", "key_points": ["...", "..."]}
The summary should be 2-4 sentences. Include 3-5 key points.`

const questionSystemPrompt = `You are a quiz author. Generate reader-comprehension questions about the blog post you are given.
Respond with a single JSON array and nothing else, in this exact shape:
[{"question": "...", "answer": "..."}]
Questions must be answerable from the post alone. Answers should be 1-3 sentences.`

// SummaryResult is the parsed output of a summary completion.
type SummaryResult struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

// QAPair is one parsed question/answer pair from a question completion.
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// BuildSummaryMessages assembles the chat messages for summary generation.
// A publisher's custom prompt, when set, is appended to the base system
// prompt; it can steer tone and focus but not the output shape.
func BuildSummaryMessages(title, content, customPrompt string) []Message {
	system := summarySystemPrompt
	if customPrompt != "" {
		system += "\n\nAdditional instructions from the publisher:\n" + customPrompt
	}
	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: fmt.Sprintf("Title: %s\n\n%s", title, content)},
	}
}

// BuildQuestionMessages assembles the chat messages for question generation.
func BuildQuestionMessages(title, content string, count int, customPrompt string) []Message {
	system := fmt.Sprintf("%s\nGenerate exactly %d questions.", questionSystemPrompt, count)
	if customPrompt != "" {
		system += "\n\nAdditional instructions from the publisher:\n" + customPrompt
	}
	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: fmt.Sprintf("Title: %s\n\n%s", title, content)},
	}
}

const askSystemPrompt = `You are a helpful assistant answering reader questions about a publisher's blog content.
Answer concisely and only from the provided context when context is given.
If you cannot answer from the context, say so.`

// BuildAskMessages assembles the chat messages for the stateless Q&A
// endpoint. Context, when present, is the stored summary of a blog post.
func BuildAskMessages(question, context, customPrompt string) []Message {
	system := askSystemPrompt
	if customPrompt != "" {
		system += "\n\nAdditional instructions from the publisher:\n" + customPrompt
	}
	user := question
	if context != "" {
		user = fmt.Sprintf("Context:\n%s\n\nQuestion: %s", context, question)
	}
	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

// stripCodeFence removes a surrounding markdown code fence, with or without a
// language tag. Models add these despite instructions not to.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		// Drop the language tag line (e.g. "json").
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ParseSummary parses a summary completion. The model must return the exact
// JSON shape; anything else is an error so the attempt can be retried.
func ParseSummary(raw string) (*SummaryResult, error) {
	var res SummaryResult
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &res); err != nil {
		return nil, fmt.Errorf("malformed summary response: %w", err)
	}
	if strings.TrimSpace(res.Summary) == "" {
		return nil, fmt.Errorf("summary response missing summary text")
	}
	if len(res.KeyPoints) == 0 {
		return nil, fmt.Errorf("summary response missing key points")
	}
	return &res, nil
}

// ParseQuestions parses a question completion. Fewer pairs than requested is
// accepted; zero pairs or malformed JSON is an error.
func ParseQuestions(raw string) ([]QAPair, error) {
	var pairs []QAPair
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &pairs); err != nil {
		return nil, fmt.Errorf("malformed questions response: %w", err)
	}
	out := pairs[:0]
	for _, p := range pairs {
		if strings.TrimSpace(p.Question) == "" || strings.TrimSpace(p.Answer) == "" {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("questions response contained no usable pairs")
	}
	return out, nil
}
