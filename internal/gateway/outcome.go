package gateway

import (
	"encoding/json"
	"strings"
)

// Content is one typed block of a successful outcome. Structured results
// are JSON serialized as text.
//
// Contentは成功結果の型付きブロックです。構造化された結果はテキストとして
// シリアライズされたJSONです。
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Outcome is the single terminal result of one request: either Content or Err.
// Outcomeは1リクエストの唯一の終端結果です。ContentかErrのどちらかです。
type Outcome struct {
	Content []Content
	Err     *Error
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Text joins all content blocks with newlines.
func (o Outcome) Text() string {
	parts := make([]string, len(o.Content))
	for i, c := range o.Content {
		parts[i] = c.Text
	}
	return strings.Join(parts, "\n")
}

func textOutcome(texts ...string) Outcome {
	out := Outcome{Content: make([]Content, 0, len(texts))}
	for _, t := range texts {
		out.Content = append(out.Content, Content{Type: "text", Text: t})
	}
	return out
}

func jsonOutcome(data any) Outcome {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return failed(newError(KindFilesystemOperationFailed, "failed to marshal JSON: %v", err))
	}
	return textOutcome(string(b))
}

func failed(err *Error) Outcome {
	return Outcome{Err: err}
}
