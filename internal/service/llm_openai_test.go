package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"vetchat_backend/internal/config"
	"vetchat_backend/internal/model"
)

type capturedChatRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newTestOpenAIService(t *testing.T, handler http.HandlerFunc) *OpenAIService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewOpenAIService(config.OpenAIConfig{
		APIKey:      "test-key",
		BaseURL:     srv.URL + "/v1",
		Model:       "gpt-test",
		MaxTokens:   128,
		Temperature: 1.0,
	})
}

func writeSSEChunks(w http.ResponseWriter, contents ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, c := range contents {
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", c)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestOpenAIStream(t *testing.T) {
	var got capturedChatRequest
	s := newTestOpenAIService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		writeSSEChunks(w, "안녕", "하세요")
	})

	req := &model.GenerationRequest{
		Messages: []model.PromptMessage{
			{Role: "system", Content: "시스템"},
			{Role: "user", Content: "질문"},
		},
	}
	chunks, err := s.Stream(context.Background(), req)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	text, streamErr := collect(t, chunks)
	if streamErr != nil {
		t.Fatalf("unexpected stream error: %v", streamErr)
	}
	if text != "안녕하세요" {
		t.Errorf("got %q", text)
	}

	if got.Model != "gpt-test" {
		t.Errorf("model = %q", got.Model)
	}
	if !got.Stream {
		t.Error("request should be a streaming request")
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "질문" {
		t.Errorf("messages not forwarded: %+v", got.Messages)
	}
}

func TestOpenAIWithModel(t *testing.T) {
	var got capturedChatRequest
	s := newTestOpenAIService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		writeSSEChunks(w, "ok")
	})

	chunks, err := s.WithModel("gpt-other").Stream(context.Background(), &model.GenerationRequest{
		Messages: []model.PromptMessage{{Role: "user", Content: "질문"}},
	})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	collect(t, chunks)

	if got.Model != "gpt-other" {
		t.Errorf("model = %q, want gpt-other", got.Model)
	}
}

func TestOpenAIFallbackToNonStream(t *testing.T) {
	s := newTestOpenAIService(t, func(w http.ResponseWriter, r *http.Request) {
		var got capturedChatRequest
		json.NewDecoder(r.Body).Decode(&got)
		if got.Stream {
			http.Error(w, `{"error":{"message":"streaming unsupported"}}`, http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"message":       map[string]string{"role": "assistant", "content": "폴백 답변"},
					"finish_reason": "stop",
				},
			},
		})
	})

	chunks, err := s.Stream(context.Background(), &model.GenerationRequest{
		Messages: []model.PromptMessage{{Role: "user", Content: "질문"}},
	})
	if err != nil {
		t.Fatalf("stream setup should not fail: %v", err)
	}

	text, streamErr := collect(t, chunks)
	if streamErr != nil {
		t.Fatalf("unexpected stream error: %v", streamErr)
	}
	if text != "폴백 답변" {
		t.Errorf("got %q, want fallback answer as a single chunk", text)
	}
}

func TestOpenAIApologyWhenAllFails(t *testing.T) {
	s := newTestOpenAIService(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"down"}}`, http.StatusInternalServerError)
	})

	chunks, err := s.Stream(context.Background(), &model.GenerationRequest{
		Messages: []model.PromptMessage{{Role: "user", Content: "질문"}},
	})
	if err != nil {
		t.Fatalf("stream setup should not fail: %v", err)
	}

	text, _ := collect(t, chunks)
	if text != streamingLimitedApology {
		t.Errorf("got %q, want the apology notice", text)
	}
}
