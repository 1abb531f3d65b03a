package model

// EndOfTurnToken Llama-3 계열의 턴 종료 마커. 스트리밍이 확실히 끝나도록
// 모든 GenerationRequest의 stop 목록에 항상 포함된다.
const EndOfTurnToken = "<|eot_id|>"

// PromptMessage is one role-tagged turn of the hosted-API rendering.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatTurn is one completed question/answer pair of the history fed to
// the prompt builder.
type ChatTurn struct {
	UserText   string
	AnswerText string
}

// GenerationRequest carries both renderings of the same prompt: Prompt
// for the local GGUF backend, Messages for the hosted API. Internal
// only, never persisted.
type GenerationRequest struct {
	Prompt        string
	Messages      []PromptMessage
	MaxTokens     int
	Temperature   float64
	TopP          float64
	StopSequences []string
}

// WithEndOfTurnStop ensures the end-of-turn marker is in the stop list.
func (r *GenerationRequest) WithEndOfTurnStop() {
	for _, s := range r.StopSequences {
		if s == EndOfTurnToken {
			return
		}
	}
	r.StopSequences = append(r.StopSequences, EndOfTurnToken)
}
