package model

import (
	"time"
)

// ChatSession 사용자별 LLM 대화 세션
type ChatSession struct {
	UUIDBase
	UserID   string        `gorm:"size:50;index:idx_user_updated;not null" json:"userId"`
	Title    string        `gorm:"size:100" json:"title"`
	Messages []ChatMessage `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

// ChatMessage 세션 내 한 번의 질문/답변 쌍. MessageIdx는 세션 안에서
// 1부터 빈틈없이 증가한다.
type ChatMessage struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID  string    `gorm:"type:varchar(36);uniqueIndex:idx_session_msg;not null" json:"-"`
	MessageIdx int       `gorm:"uniqueIndex:idx_session_msg;not null" json:"message_idx"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	ModelID    string    `gorm:"size:50" json:"model_id"`
	Answer     string    `gorm:"type:text" json:"answer"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

// SessionTitleLimit 첫 메시지에서 세션 제목을 만들 때의 길이 제한.
const SessionTitleLimit = 50

// DeriveSessionTitle 첫 메시지 내용으로 세션 제목을 만든다. 바이트가 아닌
// 문자 수 기준으로 자른다.
func DeriveSessionTitle(content string) string {
	runes := []rune(content)
	if len(runes) > SessionTitleLimit {
		return string(runes[:SessionTitleLimit]) + "..."
	}
	return content
}
