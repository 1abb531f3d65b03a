package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"vetchat_backend/internal/model"
	"vetchat_backend/internal/util"
	"vetchat_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	os.Exit(m.Run())
}

type persistRecord struct {
	op      string
	content string
	modelID string
	answer  string
}

type scriptedStore struct {
	session   *model.ChatSession
	messages  []model.ChatMessage
	persisted []persistRecord
}

func (s *scriptedStore) CreateSession(userID, title string) (*model.ChatSession, error) {
	return &model.ChatSession{UserID: userID, Title: title}, nil
}

func (s *scriptedStore) GetSession(sessionID, userID string) (*model.ChatSession, error) {
	if s.session != nil && s.session.ID == sessionID && s.session.UserID == userID {
		return s.session, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *scriptedStore) ListSessions(userID string) ([]model.ChatSession, error) {
	if s.session == nil {
		return nil, nil
	}
	return []model.ChatSession{*s.session}, nil
}

func (s *scriptedStore) UpdateSessionTitle(sessionID, userID, title string) error {
	if _, err := s.GetSession(sessionID, userID); err != nil {
		return err
	}
	s.session.Title = title
	return nil
}

func (s *scriptedStore) DeleteSession(sessionID, userID string) error {
	if _, err := s.GetSession(sessionID, userID); err != nil {
		return err
	}
	s.session = nil
	return nil
}

func (s *scriptedStore) AppendMessage(sessionID, content, modelID, answer string) (*model.ChatMessage, error) {
	s.persisted = append(s.persisted, persistRecord{"append", content, modelID, answer})
	return &model.ChatMessage{SessionID: sessionID, Content: content, ModelID: modelID, Answer: answer}, nil
}

func (s *scriptedStore) GetMessages(sessionID string) ([]model.ChatMessage, error) {
	return s.messages, nil
}

func (s *scriptedStore) ReplaceLastMessage(sessionID, content, modelID, answer string) (*model.ChatMessage, error) {
	s.persisted = append(s.persisted, persistRecord{"replace", content, modelID, answer})
	return &model.ChatMessage{}, nil
}

func (s *scriptedStore) UpdateLastAnswer(sessionID, modelID, answer string) (*model.ChatMessage, error) {
	s.persisted = append(s.persisted, persistRecord{"update", "", modelID, answer})
	return &model.ChatMessage{}, nil
}

func (s *scriptedStore) DeleteLastMessage(sessionID string) error {
	if len(s.messages) == 0 {
		return gorm.ErrRecordNotFound
	}
	s.messages = s.messages[:len(s.messages)-1]
	s.persisted = append(s.persisted, persistRecord{op: "delete_last"})
	return nil
}

type staticContext struct{}

func (staticContext) BuildContext(ctx context.Context, query string) (string, model.SearchStatus) {
	return "검색 컨텍스트", model.SearchStatus{Connected: true}
}

type scriptedBackend struct {
	chunks        []string
	errAfter      error
	waitDoneAfter bool
	gotReq        *model.GenerationRequest
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) Stream(ctx context.Context, req *model.GenerationRequest) (<-chan StreamChunk, error) {
	b.gotReq = req
	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		for _, c := range b.chunks {
			select {
			case out <- StreamChunk{Text: c}:
			case <-ctx.Done():
				return
			}
		}
		if b.errAfter != nil {
			select {
			case out <- StreamChunk{Err: b.errAfter}:
			case <-ctx.Done():
			}
		}
		if b.waitDoneAfter {
			<-ctx.Done()
		}
	}()
	return out, nil
}

type scriptedResolver struct {
	backend    GenerationBackend
	err        error
	gotModelID string
}

func (r *scriptedResolver) Resolve(modelID string) (GenerationBackend, string, error) {
	r.gotModelID = modelID
	if r.err != nil {
		return nil, "", r.err
	}
	if modelID == "" {
		modelID = "default-model"
	}
	return r.backend, modelID, nil
}

func newTestChatService(store *scriptedStore, backend GenerationBackend) (*ChatService, *scriptedResolver) {
	resolver := &scriptedResolver{backend: backend}
	svc := NewChatService(store, staticContext{}, NewPromptService(), resolver)
	return svc, resolver
}

func drain(t *testing.T, out <-chan string) string {
	t.Helper()
	text := ""
	for chunk := range out {
		text += chunk
	}
	return text
}

func TestSendMessagePersistsTurnOnce(t *testing.T) {
	store := &scriptedStore{session: &model.ChatSession{UUIDBase: model.UUIDBase{ID: "s1"}, UserID: "u1"}}
	backend := &scriptedBackend{chunks: []string{"구토가 ", "지속되면 병원에 가세요"}}
	svc, _ := newTestChatService(store, backend)

	out, err := svc.SendMessage(context.Background(), "u1", "s1", "강아지가 토해요", "m1")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	text := drain(t, out)
	if text != "구토가 지속되면 병원에 가세요" {
		t.Errorf("streamed %q", text)
	}

	if len(store.persisted) != 1 {
		t.Fatalf("persisted %d times, want exactly 1", len(store.persisted))
	}
	rec := store.persisted[0]
	if rec.op != "append" || rec.content != "강아지가 토해요" || rec.modelID != "m1" || rec.answer != text {
		t.Errorf("unexpected persist record: %+v", rec)
	}
}

func TestSendMessageSessionNotFound(t *testing.T) {
	svc, _ := newTestChatService(&scriptedStore{}, &scriptedBackend{})

	_, err := svc.SendMessage(context.Background(), "u1", "missing", "질문", "")
	if !errors.Is(err, util.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSendMessageModelNotFound(t *testing.T) {
	store := &scriptedStore{session: &model.ChatSession{UUIDBase: model.UUIDBase{ID: "s1"}, UserID: "u1"}}
	svc, resolver := newTestChatService(store, &scriptedBackend{})
	resolver.err = util.ErrModelNotFound

	_, err := svc.SendMessage(context.Background(), "u1", "s1", "질문", "ghost")
	if !errors.Is(err, util.ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}
	if len(store.persisted) != 0 {
		t.Error("nothing should be persisted when the model is unknown")
	}
}

func TestSendMessageApologyOnEmptyGeneration(t *testing.T) {
	store := &scriptedStore{session: &model.ChatSession{UUIDBase: model.UUIDBase{ID: "s1"}, UserID: "u1"}}
	backend := &scriptedBackend{errAfter: errors.New("model crashed")}
	svc, _ := newTestChatService(store, backend)

	out, err := svc.SendMessage(context.Background(), "u1", "s1", "질문", "m1")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	text := drain(t, out)
	if text != generationFailedApology {
		t.Errorf("streamed %q, want the apology", text)
	}
	if len(store.persisted) != 1 || store.persisted[0].answer != generationFailedApology {
		t.Errorf("apology should be persisted: %+v", store.persisted)
	}
}

func TestSendMessageIncludesHistoryAndContext(t *testing.T) {
	store := &scriptedStore{
		session: &model.ChatSession{UUIDBase: model.UUIDBase{ID: "s1"}, UserID: "u1"},
		messages: []model.ChatMessage{
			{Content: "이전 질문", Answer: "이전 답변", MessageIdx: 1},
		},
	}
	backend := &scriptedBackend{chunks: []string{"답"}}
	svc, _ := newTestChatService(store, backend)

	out, err := svc.SendMessage(context.Background(), "u1", "s1", "새 질문", "m1")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	drain(t, out)

	req := backend.gotReq
	// system + 과거 턴 2 + 현재 질문
	if len(req.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(req.Messages))
	}
	if req.Messages[1].Content != "이전 질문" || req.Messages[2].Content != "이전 답변" {
		t.Errorf("history not forwarded: %+v", req.Messages)
	}
	if req.Messages[0].Role != "system" || !strings.Contains(req.Messages[0].Content, "검색 컨텍스트") {
		t.Error("retrieval context missing from system message")
	}
}

func TestReplaceLastMessage(t *testing.T) {
	store := &scriptedStore{
		session: &model.ChatSession{UUIDBase: model.UUIDBase{ID: "s1"}, UserID: "u1"},
		messages: []model.ChatMessage{
			{Content: "첫 질문", Answer: "첫 답변", MessageIdx: 1},
			{Content: "오타 질문", Answer: "이전 답변", MessageIdx: 2},
		},
	}
	backend := &scriptedBackend{chunks: []string{"새 답변"}}
	svc, _ := newTestChatService(store, backend)

	out, err := svc.ReplaceLastMessage(context.Background(), "u1", "s1", "고친 질문", "m1")
	if err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	drain(t, out)

	if len(store.persisted) != 1 || store.persisted[0].op != "replace" {
		t.Fatalf("expected one replace, got %+v", store.persisted)
	}
	if store.persisted[0].content != "고친 질문" || store.persisted[0].answer != "새 답변" {
		t.Errorf("unexpected replace record: %+v", store.persisted[0])
	}

	// 마지막 턴은 이력에서 빠져야 한다
	req := backend.gotReq
	if len(req.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(req.Messages))
	}
	if strings.Contains(req.Messages[0].Content, "오타 질문") {
		t.Error("the replaced turn must not leak into the prompt")
	}
	for _, m := range req.Messages {
		if m.Content == "오타 질문" {
			t.Error("the replaced turn must not appear as history")
		}
	}
}

func TestReplaceLastMessageEmptySession(t *testing.T) {
	store := &scriptedStore{session: &model.ChatSession{UUIDBase: model.UUIDBase{ID: "s1"}, UserID: "u1"}}
	svc, _ := newTestChatService(store, &scriptedBackend{})

	_, err := svc.ReplaceLastMessage(context.Background(), "u1", "s1", "질문", "")
	if !errors.Is(err, util.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestRegeneratePreservesQuestionAndModel(t *testing.T) {
	store := &scriptedStore{
		session: &model.ChatSession{UUIDBase: model.UUIDBase{ID: "s1"}, UserID: "u1"},
		messages: []model.ChatMessage{
			{Content: "질문", Answer: "예전 답변", ModelID: "m-old", MessageIdx: 1},
		},
	}
	backend := &scriptedBackend{chunks: []string{"새로운 답변"}}
	svc, resolver := newTestChatService(store, backend)

	out, err := svc.RegenerateLastAnswer(context.Background(), "u1", "s1", "")
	if err != nil {
		t.Fatalf("regenerate failed: %v", err)
	}
	drain(t, out)

	if resolver.gotModelID != "m-old" {
		t.Errorf("empty model id should reuse the turn's model, resolved %q", resolver.gotModelID)
	}
	if len(store.persisted) != 1 || store.persisted[0].op != "update" {
		t.Fatalf("expected one answer update, got %+v", store.persisted)
	}
	if store.persisted[0].answer != "새로운 답변" {
		t.Errorf("unexpected answer: %+v", store.persisted[0])
	}

	// 질문은 프롬프트의 마지막 user 메시지로 재사용된다
	req := backend.gotReq
	if last := req.Messages[len(req.Messages)-1]; last.Content != "질문" {
		t.Errorf("regeneration should reuse the stored question, got %q", last.Content)
	}
}

func TestCancelledBeforeFirstChunkSkipsPersist(t *testing.T) {
	store := &scriptedStore{session: &model.ChatSession{UUIDBase: model.UUIDBase{ID: "s1"}, UserID: "u1"}}
	backend := &scriptedBackend{waitDoneAfter: true}
	svc, _ := newTestChatService(store, backend)

	ctx, cancel := context.WithCancel(context.Background())
	out, err := svc.SendMessage(ctx, "u1", "s1", "질문", "m1")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	cancel()
	drain(t, out)

	if len(store.persisted) != 0 {
		t.Errorf("nothing generated and client gone, persisted %+v", store.persisted)
	}
}

func TestPartialAnswerPersistedOnCancel(t *testing.T) {
	store := &scriptedStore{session: &model.ChatSession{UUIDBase: model.UUIDBase{ID: "s1"}, UserID: "u1"}}
	backend := &scriptedBackend{chunks: []string{"부분 답변"}, waitDoneAfter: true}
	svc, _ := newTestChatService(store, backend)

	ctx, cancel := context.WithCancel(context.Background())
	out, err := svc.SendMessage(ctx, "u1", "s1", "질문", "m1")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	first := <-out
	if first != "부분 답변" {
		t.Fatalf("got %q", first)
	}
	cancel()
	drain(t, out)

	if len(store.persisted) != 1 || store.persisted[0].answer != "부분 답변" {
		t.Errorf("partial answer should be persisted: %+v", store.persisted)
	}
}

