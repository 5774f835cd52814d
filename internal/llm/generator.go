package llm

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/hyperjump/mondai/internal/models"
	"github.com/hyperjump/mondai/pkg/utils"
)

// ErrGenerationFailure means the model output could not be turned into the requested questions.
var ErrGenerationFailure = errors.New("generator returned invalid structure")

// MCQGenerator asks the chat model for questions grounded in a context.
type MCQGenerator struct {
	client *Client
}

// NewMCQGenerator wraps a chat client.
func NewMCQGenerator(client *Client) *MCQGenerator {
	return &MCQGenerator{client: client}
}

var difficultyHints = map[models.Difficulty]string{
	models.DifficultyEasy:   "- Độ khó: DỄ. Hỏi trực tiếp về các sự kiện, định nghĩa được nêu rõ trong nội dung.\n",
	models.DifficultyMedium: "- Độ khó: TRUNG BÌNH. Yêu cầu hiểu và liên kết các ý trong nội dung.\n",
	models.DifficultyHard:   "- Độ khó: KHÓ. Yêu cầu suy luận, so sánh hoặc áp dụng kiến thức từ nội dung; các phương án sai phải rất gần đúng.\n",
}

func generationSystemPrompt(n int, difficulty models.Difficulty) string {
	return "Bạn là một trợ lý hữu ích chuyên tạo câu hỏi trắc nghiệm. Luôn trả lời bằng Tiếng Việt." +
		"Chỉ TRẢ VỀ duy nhất một đối tượng JSON theo đúng schema sau và không có bất kỳ văn bản nào khác:\n\n" +
		"{\n" +
		`  "1": { "câu hỏi": "...", "lựa chọn": {"a":"...","b":"...","c":"...","d":"..."}, "đáp án":"..."},` + "\n" +
		`  "2": { ... }` + "\n" +
		"}\n\n" +
		"Lưu ý:\n" +
		fmt.Sprintf("- Tạo đúng %d mục, đánh số từ 1 tới %d.\n", n, n) +
		"- Khóa 'lựa chọn' phải có các phím a, b, c, d.\n" +
		"- 'đáp án' phải là toàn văn đáp án đúng (không phải ký tự chữ cái), và giá trị này phải khớp chính xác với một trong các giá trị trong 'lựa chọn'.\n" +
		difficultyHints[difficulty] +
		"- Không kèm giải thích hay trường thêm.\n" +
		"- Các phương án sai (distractors) phải hợp lý và không lặp lại."
}

func generationUserPrompt(n int, source string) string {
	return fmt.Sprintf("Hãy tạo %d câu hỏi trắc nghiệm từ nội dung dưới đây. Dùng nội dung này làm nguồn duy nhất để trả lời.", n) +
		"Nếu nội dung quá ít để tạo câu hỏi chính xác, hãy tạo các phương án hợp lý nhưng có thể biện minh được.\n\n" +
		"Nội dung:\n\n" + source
}

// GenerateMCQs requests exactly n questions. The result is keyed "1".."n" and
// tagged with difficulty when one is given.
func (g *MCQGenerator) GenerateMCQs(ctx context.Context, source string, n int, difficulty models.Difficulty) (models.MCQSet, error) {
	if n <= 0 {
		return models.MCQSet{}, nil
	}
	raw, err := g.client.Chat(ctx, "generate", generationSystemPrompt(n, difficulty), generationUserPrompt(n, source), g.client.temperature)
	if err != nil {
		return nil, err
	}

	var parsed map[string]map[string]any
	if err := ExtractJSON(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v. Raw:\n%s", ErrGenerationFailure, err, utils.Truncate(raw, 500))
	}
	if len(parsed) != n {
		return nil, fmt.Errorf("%w: expected %d items, got %d", ErrGenerationFailure, n, len(parsed))
	}

	ids := make([]string, 0, len(parsed))
	for id := range parsed {
		ids = append(ids, id)
	}
	models.SortIDs(ids)

	out := make(models.MCQSet, n)
	for i, id := range ids {
		mcq := models.DecodeMCQ(parsed[id])
		if mcq.Question == "" || len(mcq.Options) == 0 || mcq.CorrectAnswer == "" {
			return nil, fmt.Errorf("%w: item %s is incomplete", ErrGenerationFailure, id)
		}
		if difficulty != "" {
			mcq.Difficulty = difficulty
		}
		out[strconv.Itoa(i+1)] = mcq
	}
	return out, nil
}
