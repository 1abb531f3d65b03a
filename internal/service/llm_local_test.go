package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	"vetchat_backend/internal/config"
	"vetchat_backend/internal/model"
)

func newTestLlamaService(predict func(req *model.GenerationRequest, emit func(string) bool) error) *LlamaService {
	s := &LlamaService{
		cfg: config.LlamaConfig{
			MaxTokens:   1024,
			Temperature: 0.7,
			TopP:        0.9,
			Threads:     4,
		},
		jobs: make(chan *llamaJob),
		done: make(chan struct{}),
	}
	s.predict = predict
	go s.worker()
	return s
}

func collect(t *testing.T, chunks <-chan StreamChunk) (string, error) {
	t.Helper()
	var text string
	var err error
	for chunk := range chunks {
		if chunk.Err != nil {
			err = chunk.Err
			continue
		}
		text += chunk.Text
	}
	return text, err
}

func TestLlamaStreamTokens(t *testing.T) {
	var gotReq *model.GenerationRequest
	s := newTestLlamaService(func(req *model.GenerationRequest, emit func(string) bool) error {
		gotReq = req
		for _, tok := range []string{"안녕", "하세요", "."} {
			if !emit(tok) {
				return nil
			}
		}
		return nil
	})
	defer s.Close()

	chunks, err := s.Stream(context.Background(), &model.GenerationRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	text, streamErr := collect(t, chunks)
	if streamErr != nil {
		t.Fatalf("unexpected stream error: %v", streamErr)
	}
	if text != "안녕하세요." {
		t.Errorf("got %q", text)
	}

	if gotReq.MaxTokens != 1024 || gotReq.Temperature != 0.7 || gotReq.TopP != 0.9 {
		t.Errorf("config defaults not applied: %+v", gotReq)
	}
	found := false
	for _, stop := range gotReq.StopSequences {
		if stop == model.EndOfTurnToken {
			found = true
		}
	}
	if !found {
		t.Error("stop list missing end-of-turn token")
	}
}

func TestLlamaStreamError(t *testing.T) {
	wantErr := errors.New("context overflow")
	s := newTestLlamaService(func(req *model.GenerationRequest, emit func(string) bool) error {
		emit("일부")
		return wantErr
	})
	defer s.Close()

	chunks, err := s.Stream(context.Background(), &model.GenerationRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	text, streamErr := collect(t, chunks)
	if text != "일부" {
		t.Errorf("partial text lost: %q", text)
	}
	if !errors.Is(streamErr, wantErr) {
		t.Errorf("expected predict error, got %v", streamErr)
	}
}

func TestLlamaStreamCancellation(t *testing.T) {
	stopped := make(chan struct{})
	s := newTestLlamaService(func(req *model.GenerationRequest, emit func(string) bool) error {
		defer close(stopped)
		for i := 0; ; i++ {
			if !emit("토큰") {
				return nil
			}
		}
	})
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	chunks, err := s.Stream(ctx, &model.GenerationRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	<-chunks
	cancel()
	for range chunks {
	}

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("prediction did not stop after cancellation")
	}
}

// 단일 워커가 작업을 순서대로 처리하는지 확인한다.
func TestLlamaSerializesJobs(t *testing.T) {
	var mu sync.Mutex
	running := 0
	maxRunning := 0

	s := newTestLlamaService(func(req *model.GenerationRequest, emit func(string) bool) error {
		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)
		emit("x")

		mu.Lock()
		running--
		mu.Unlock()
		return nil
	})
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			chunks, err := s.Stream(context.Background(), &model.GenerationRequest{Prompt: "p"})
			if err != nil {
				t.Error(err)
				return
			}
			collect(t, chunks)
		}()
	}
	wg.Wait()

	if maxRunning != 1 {
		t.Errorf("jobs overlapped, max concurrent = %d", maxRunning)
	}
}
