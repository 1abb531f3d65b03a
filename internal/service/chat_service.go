package service

import (
	"context"
	"errors"
	"strings"
	"vetchat_backend/internal/model"
	"vetchat_backend/internal/util"
	"vetchat_backend/pkg/logger"
	"vetchat_backend/pkg/monitoring"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 생성이 한 청크도 없이 끝났을 때 내보내고 저장하는 문구
const generationFailedApology = "죄송합니다. 응답 생성 중 오류가 발생했습니다."

// ConversationStore 세션/메시지 영속화 연산
type ConversationStore interface {
	CreateSession(userID, title string) (*model.ChatSession, error)
	GetSession(sessionID, userID string) (*model.ChatSession, error)
	ListSessions(userID string) ([]model.ChatSession, error)
	UpdateSessionTitle(sessionID, userID, title string) error
	DeleteSession(sessionID, userID string) error
	AppendMessage(sessionID, content, modelID, answer string) (*model.ChatMessage, error)
	GetMessages(sessionID string) ([]model.ChatMessage, error)
	ReplaceLastMessage(sessionID, content, modelID, answer string) (*model.ChatMessage, error)
	UpdateLastAnswer(sessionID, modelID, answer string) (*model.ChatMessage, error)
	DeleteLastMessage(sessionID string) error
}

// ContextBuilder 검색 컨텍스트 조립
type ContextBuilder interface {
	BuildContext(ctx context.Context, query string) (string, model.SearchStatus)
}

// BackendResolver 모델 ID → 생성 백엔드
type BackendResolver interface {
	Resolve(modelID string) (GenerationBackend, string, error)
}

// ChatService RAG 파이프라인 오케스트레이터. 검색 → 컨텍스트 → 프롬프트 →
// 생성 → 저장 순서로 진행하고, 답변은 턴당 정확히 한 번 저장된다.
type ChatService struct {
	Store   ConversationStore
	Context ContextBuilder
	Prompt  *PromptService
	Models  BackendResolver
}

func NewChatService(store ConversationStore, ctxBuilder ContextBuilder, prompt *PromptService, models BackendResolver) *ChatService {
	return &ChatService{
		Store:   store,
		Context: ctxBuilder,
		Prompt:  prompt,
		Models:  models,
	}
}

func mapSessionErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return util.ErrSessionNotFound
	}
	return err
}

func (s *ChatService) CreateSession(userID, title string) (*model.ChatSession, error) {
	return s.Store.CreateSession(userID, title)
}

func (s *ChatService) ListSessions(userID string) ([]model.ChatSession, error) {
	return s.Store.ListSessions(userID)
}

func (s *ChatService) GetSession(sessionID, userID string) (*model.ChatSession, error) {
	session, err := s.Store.GetSession(sessionID, userID)
	if err != nil {
		return nil, mapSessionErr(err)
	}
	return session, nil
}

func (s *ChatService) GetSessionMessages(sessionID, userID string) ([]model.ChatMessage, error) {
	if _, err := s.Store.GetSession(sessionID, userID); err != nil {
		return nil, mapSessionErr(err)
	}
	return s.Store.GetMessages(sessionID)
}

func (s *ChatService) RenameSession(sessionID, userID, title string) error {
	return mapSessionErr(s.Store.UpdateSessionTitle(sessionID, userID, title))
}

func (s *ChatService) DeleteSession(sessionID, userID string) error {
	return mapSessionErr(s.Store.DeleteSession(sessionID, userID))
}

func (s *ChatService) DeleteLastMessage(sessionID, userID string) error {
	if _, err := s.Store.GetSession(sessionID, userID); err != nil {
		return mapSessionErr(err)
	}
	err := s.Store.DeleteLastMessage(sessionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return util.ErrMessageNotFound
	}
	return err
}

// SendMessage 새 질문으로 한 턴을 시작한다. 스트림이 시작되기 전에 세션과
// 모델 존재 여부를 검증하므로 호출자는 에러를 상태 코드로 바꿀 수 있다.
func (s *ChatService) SendMessage(ctx context.Context, userID, sessionID, content, modelID string) (<-chan string, error) {
	if _, err := s.Store.GetSession(sessionID, userID); err != nil {
		return nil, mapSessionErr(err)
	}

	msgs, err := s.Store.GetMessages(sessionID)
	if err != nil {
		return nil, err
	}

	return s.generate(ctx, content, modelID, messagesToTurns(msgs),
		func(answer, resolvedModel string) error {
			_, err := s.Store.AppendMessage(sessionID, content, resolvedModel, answer)
			return err
		})
}

// ReplaceLastMessage 마지막 턴의 질문을 교체하고 답변을 다시 생성한다.
func (s *ChatService) ReplaceLastMessage(ctx context.Context, userID, sessionID, content, modelID string) (<-chan string, error) {
	if _, err := s.Store.GetSession(sessionID, userID); err != nil {
		return nil, mapSessionErr(err)
	}

	msgs, err := s.Store.GetMessages(sessionID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, util.ErrMessageNotFound
	}

	return s.generate(ctx, content, modelID, messagesToTurns(msgs[:len(msgs)-1]),
		func(answer, resolvedModel string) error {
			_, err := s.Store.ReplaceLastMessage(sessionID, content, resolvedModel, answer)
			return err
		})
}

// RegenerateLastAnswer 마지막 질문은 그대로 두고 답변만 다시 생성한다.
// 모델 ID가 비어 있으면 그 턴에 쓰였던 모델을 다시 쓴다.
func (s *ChatService) RegenerateLastAnswer(ctx context.Context, userID, sessionID, modelID string) (<-chan string, error) {
	if _, err := s.Store.GetSession(sessionID, userID); err != nil {
		return nil, mapSessionErr(err)
	}

	msgs, err := s.Store.GetMessages(sessionID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, util.ErrMessageNotFound
	}

	last := msgs[len(msgs)-1]
	if modelID == "" {
		modelID = last.ModelID
	}

	return s.generate(ctx, last.Content, modelID, messagesToTurns(msgs[:len(msgs)-1]),
		func(answer, resolvedModel string) error {
			_, err := s.Store.UpdateLastAnswer(sessionID, resolvedModel, answer)
			return err
		})
}

func (s *ChatService) generate(ctx context.Context, query, modelID string, history []model.ChatTurn, persist func(answer, resolvedModel string) error) (<-chan string, error) {
	backend, resolvedModel, err := s.Models.Resolve(modelID)
	if err != nil {
		return nil, err
	}

	contextText, status := s.Context.BuildContext(ctx, query)
	logger.Log.Info("Context assembled",
		zap.Bool("vector_connected", status.Connected),
		zap.Int("corpus_docs", status.CorpusCount),
		zap.Int("qa_docs", status.QACount),
		zap.String("model", resolvedModel))

	req := s.Prompt.Build(query, contextText, history)
	chunks, err := backend.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan string)
	go func() {
		defer close(out)

		var buf strings.Builder
		var streamErr error
		cancelled := false

		for chunk := range chunks {
			if chunk.Err != nil {
				streamErr = chunk.Err
				continue
			}
			buf.WriteString(chunk.Text)
			if cancelled {
				continue
			}
			select {
			case out <- chunk.Text:
			case <-ctx.Done():
				cancelled = true
			}
		}

		answer := buf.String()
		if answer == "" {
			if cancelled || ctx.Err() != nil {
				// 끊긴 데다 생성된 것도 없으면 저장할 것이 없다
				return
			}
			if streamErr != nil {
				logger.Log.Error("Generation failed before first chunk", zap.Error(streamErr))
			}
			answer = generationFailedApology
			select {
			case out <- answer:
			case <-ctx.Done():
			}
		} else if streamErr != nil {
			logger.Log.Warn("Generation ended with error, persisting partial answer", zap.Error(streamErr))
		}

		// 요청 컨텍스트가 끊겨도 저장은 시도한다
		if err := persist(answer, resolvedModel); err != nil {
			monitoring.PersistenceFailures.Inc()
			logger.Log.Error("Failed to persist chat turn",
				zap.String("model", resolvedModel),
				zap.Error(err))
		}
	}()
	return out, nil
}

func messagesToTurns(msgs []model.ChatMessage) []model.ChatTurn {
	turns := make([]model.ChatTurn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, model.ChatTurn{
			UserText:   m.Content,
			AnswerText: m.Answer,
		})
	}
	return turns
}
