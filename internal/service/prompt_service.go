package service

import (
	"strings"
	"vetchat_backend/internal/model"
)

const (
	personaText = "당신은 전문적인 반려동물 의료 상담 AI 어시스턴트입니다."

	instructionText = "답변 지침:\n" +
		"- 한국어로 정확하고 친절하게 답변하세요.\n" +
		"- 검색된 의료 정보를 우선적으로 활용하세요.\n" +
		"- 응급상황이나 심각한 증상은 전문 수의사 상담을 권유하세요.\n" +
		"- 간결하면서도 핵심적인 정보를 제공하세요."

	// 과거 턴은 최근 3개만 유지한다
	historyTurnLimit = 3
)

// PromptService 같은 대화를 두 가지 형태로 렌더링한다. 로컬 GGUF 백엔드용
// Llama-3 토큰 프롬프트와 호스티드 API용 role 메시지 배열이다.
type PromptService struct{}

func NewPromptService() *PromptService {
	return &PromptService{}
}

func (s *PromptService) Build(query, contextText string, history []model.ChatTurn) *model.GenerationRequest {
	if len(history) > historyTurnLimit {
		history = history[len(history)-historyTurnLimit:]
	}

	system := personaText + "\n\n" + instructionText
	if contextText != "" {
		system += "\n\n" + contextText
	}

	req := &model.GenerationRequest{
		Prompt:   renderLlamaPrompt(system, query, history),
		Messages: renderMessages(system, query, history),
	}
	req.WithEndOfTurnStop()
	return req
}

func renderLlamaPrompt(system, query string, history []model.ChatTurn) string {
	var sb strings.Builder
	sb.WriteString("<|begin_of_text|>")
	writeLlamaTurn(&sb, "system", system)
	for _, turn := range history {
		writeLlamaTurn(&sb, "user", turn.UserText)
		writeLlamaTurn(&sb, "assistant", turn.AnswerText)
	}
	writeLlamaTurn(&sb, "user", query)
	sb.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")
	return sb.String()
}

func writeLlamaTurn(sb *strings.Builder, role, content string) {
	sb.WriteString("<|start_header_id|>")
	sb.WriteString(role)
	sb.WriteString("<|end_header_id|>\n\n")
	sb.WriteString(content)
	sb.WriteString(model.EndOfTurnToken)
}

func renderMessages(system, query string, history []model.ChatTurn) []model.PromptMessage {
	messages := make([]model.PromptMessage, 0, len(history)*2+2)
	messages = append(messages, model.PromptMessage{Role: "system", Content: system})
	for _, turn := range history {
		messages = append(messages, model.PromptMessage{Role: "user", Content: turn.UserText})
		messages = append(messages, model.PromptMessage{Role: "assistant", Content: turn.AnswerText})
	}
	messages = append(messages, model.PromptMessage{Role: "user", Content: query})
	return messages
}
