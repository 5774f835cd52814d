package llm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hyperjump/mondai/internal/models"
)

const verifierSystemPrompt = "Bạn là một trợ lý đánh giá tính thực chứng của câu hỏi trắc nghiệm dựa trên đoạn văn được cung cấp. Luôn trả lời bằng Tiếng Việt" +
	"Hãy trả lời DUY NHẤT bằng JSON hợp lệ (không có văn bản khác) theo schema:\n\n" +
	"{\n" +
	`  "supported": true/false,            # câu trả lời đúng có được nội dung chứng thực không` + "\n" +
	`  "confidence": 0.0-1.0,              # mức độ tự tin (số)` + "\n" +
	`  "evidence": "cụm văn bản ngắn làm bằng chứng hoặc trích dẫn",` + "\n" +
	`  "reason": "ngắn gọn, vì sao supported hoặc không"` + "\n" +
	"}\n\n" +
	"Luôn dựa chỉ trên nội dung trong trường 'Context' dưới đây. Nếu nội dung không chứa bằng chứng, trả về supported: false."

// Verifier asks the chat model whether a passage supports a question's answer.
type Verifier struct {
	client *Client
}

// NewVerifier wraps a chat client. Calls always run at temperature 0.
func NewVerifier(client *Client) *Verifier {
	return &Verifier{client: client}
}

func verifierUserPrompt(mcq models.MCQ, passage string) string {
	var b strings.Builder
	b.WriteString("Câu hỏi:\n")
	b.WriteString(mcq.Question)
	b.WriteString("\n\nLựa chọn:\n")
	for i, o := range mcq.Options {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(o.Label)
		b.WriteString(": ")
		b.WriteString(o.Text)
	}
	b.WriteString("\n\nĐáp án:\n")
	b.WriteString(mcq.CorrectAnswer)
	b.WriteString("\n\nContext:\n")
	b.WriteString(passage)
	b.WriteString("\n\nHãy trả lời như yêu cầu.")
	return b.String()
}

// Verify never fails: transport and parse problems come back in the verdict's Error.
func (v *Verifier) Verify(ctx context.Context, mcq models.MCQ, passage string) *models.ModelVerdict {
	raw, err := v.client.Chat(ctx, "verify", verifierSystemPrompt, verifierUserPrompt(mcq, passage), 0)
	if err != nil {
		return &models.ModelVerdict{Error: fmt.Sprintf("verification exception: %v", err)}
	}
	var parsed map[string]any
	if err := ExtractJSON(raw, &parsed); err != nil {
		return &models.ModelVerdict{Error: fmt.Sprintf("Model verification failed to return JSON: %v", err)}
	}
	return decodeVerdict(parsed)
}

// decodeVerdict tolerates booleans and numbers sent as strings.
func decodeVerdict(raw map[string]any) *models.ModelVerdict {
	v := &models.ModelVerdict{}
	switch s := raw["supported"].(type) {
	case bool:
		v.Supported = s
	case string:
		v.Supported, _ = strconv.ParseBool(strings.TrimSpace(s))
	}
	switch c := raw["confidence"].(type) {
	case float64:
		v.Confidence = c
	case string:
		v.Confidence, _ = strconv.ParseFloat(strings.TrimSpace(c), 64)
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	} else if v.Confidence > 1 {
		v.Confidence = 1
	}
	if s, ok := raw["evidence"].(string); ok {
		v.Evidence = s
	}
	if s, ok := raw["reason"].(string); ok {
		v.Reason = s
	}
	return v
}
