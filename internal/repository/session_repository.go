package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"vetchat_backend/internal/model"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const messageCacheTTL = 24 * time.Hour

// SessionRepository 채팅 세션/메시지 저장소. 메시지 목록은 Redis에 캐시되고
// 모든 쓰기 연산에서 무효화된다.
type SessionRepository struct {
	DB    *gorm.DB
	Redis *redis.Client
	ctx   context.Context
}

func NewSessionRepository(db *gorm.DB, rdb *redis.Client) *SessionRepository {
	return &SessionRepository{
		DB:    db,
		Redis: rdb,
		ctx:   context.Background(),
	}
}

func (r *SessionRepository) messageCacheKey(sessionID string) string {
	return fmt.Sprintf("llm:sessions:%s", sessionID)
}

func (r *SessionRepository) invalidateMessages(sessionID string) {
	if r.Redis != nil {
		r.Redis.Del(r.ctx, r.messageCacheKey(sessionID))
	}
}

func (r *SessionRepository) CreateSession(userID, title string) (*model.ChatSession, error) {
	session := &model.ChatSession{
		UserID: userID,
		Title:  title,
	}
	if err := r.DB.Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

func (r *SessionRepository) GetSession(sessionID, userID string) (*model.ChatSession, error) {
	var session model.ChatSession
	err := r.DB.Where("id = ? AND user_id = ?", sessionID, userID).First(&session).Error
	return &session, err
}

// ListSessions 최근 활동 순으로 정렬. 메시지는 포함하지 않는다.
func (r *SessionRepository) ListSessions(userID string) ([]model.ChatSession, error) {
	var sessions []model.ChatSession
	err := r.DB.Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&sessions).Error
	return sessions, err
}

func (r *SessionRepository) UpdateSessionTitle(sessionID, userID, title string) error {
	result := r.DB.Model(&model.ChatSession{}).
		Where("id = ? AND user_id = ?", sessionID, userID).
		Update("title", title)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *SessionRepository) DeleteSession(sessionID, userID string) error {
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		var session model.ChatSession
		if err := tx.Where("id = ? AND user_id = ?", sessionID, userID).First(&session).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&model.ChatMessage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&session).Error
	})
	if err == nil {
		r.invalidateMessages(sessionID)
	}
	return err
}

// AppendMessage 다음 message_idx를 트랜잭션 안에서 할당한다. 첫 메시지이고
// 세션 제목이 비어 있으면 질문 앞부분으로 제목을 만든다.
func (r *SessionRepository) AppendMessage(sessionID, content, modelID, answer string) (*model.ChatMessage, error) {
	var msg *model.ChatMessage
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		var session model.ChatSession
		if err := tx.Where("id = ?", sessionID).First(&session).Error; err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&model.ChatMessage{}).Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
			return err
		}

		msg = &model.ChatMessage{
			SessionID:  sessionID,
			MessageIdx: int(count) + 1,
			Content:    content,
			ModelID:    modelID,
			Answer:     answer,
		}
		if err := tx.Create(msg).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{"updated_at": time.Now()}
		if count == 0 && session.Title == "" {
			updates["title"] = model.DeriveSessionTitle(content)
		}
		return tx.Model(&model.ChatSession{}).Where("id = ?", sessionID).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	r.invalidateMessages(sessionID)
	return msg, nil
}

// GetMessages message_idx 오름차순. 첫 조회 이후에는 Redis 캐시를 사용한다.
func (r *SessionRepository) GetMessages(sessionID string) ([]model.ChatMessage, error) {
	if r.Redis != nil {
		cached, err := r.Redis.Get(r.ctx, r.messageCacheKey(sessionID)).Result()
		if err == nil && cached != "" {
			var msgs []model.ChatMessage
			if err := json.Unmarshal([]byte(cached), &msgs); err == nil {
				return msgs, nil
			}
		}
	}

	var msgs []model.ChatMessage
	err := r.DB.Where("session_id = ?", sessionID).
		Order("message_idx ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}

	if r.Redis != nil && len(msgs) > 0 {
		if data, err := json.Marshal(msgs); err == nil {
			r.Redis.Set(r.ctx, r.messageCacheKey(sessionID), data, messageCacheTTL)
		}
	}
	return msgs, nil
}

// ReplaceLastMessage 마지막 턴의 질문과 답변을 교체한다. message_idx와
// created_at은 그대로 유지된다.
func (r *SessionRepository) ReplaceLastMessage(sessionID, content, modelID, answer string) (*model.ChatMessage, error) {
	var msg *model.ChatMessage
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		var last model.ChatMessage
		if err := tx.Where("session_id = ?", sessionID).Order("message_idx DESC").First(&last).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"content":    content,
			"model_id":   modelID,
			"answer":     answer,
			"updated_at": time.Now(),
		}
		if err := tx.Model(&model.ChatMessage{}).Where("id = ?", last.ID).Updates(updates).Error; err != nil {
			return err
		}

		msg = &last
		msg.Content = content
		msg.ModelID = modelID
		msg.Answer = answer
		return tx.Model(&model.ChatSession{}).Where("id = ?", sessionID).
			Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return nil, err
	}
	r.invalidateMessages(sessionID)
	return msg, nil
}

// UpdateLastAnswer 재생성용. 사용자 질문은 그대로 두고 답변과 모델만 바꾼다.
func (r *SessionRepository) UpdateLastAnswer(sessionID, modelID, answer string) (*model.ChatMessage, error) {
	var msg *model.ChatMessage
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		var last model.ChatMessage
		if err := tx.Where("session_id = ?", sessionID).Order("message_idx DESC").First(&last).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"model_id":   modelID,
			"answer":     answer,
			"updated_at": time.Now(),
		}
		if err := tx.Model(&model.ChatMessage{}).Where("id = ?", last.ID).Updates(updates).Error; err != nil {
			return err
		}

		msg = &last
		msg.ModelID = modelID
		msg.Answer = answer
		return tx.Model(&model.ChatSession{}).Where("id = ?", sessionID).
			Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return nil, err
	}
	r.invalidateMessages(sessionID)
	return msg, nil
}

func (r *SessionRepository) DeleteLastMessage(sessionID string) error {
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		var last model.ChatMessage
		if err := tx.Where("session_id = ?", sessionID).Order("message_idx DESC").First(&last).Error; err != nil {
			return err
		}
		if err := tx.Delete(&last).Error; err != nil {
			return err
		}
		return tx.Model(&model.ChatSession{}).Where("id = ?", sessionID).
			Update("updated_at", time.Now()).Error
	})
	if err == nil {
		r.invalidateMessages(sessionID)
	}
	return err
}
