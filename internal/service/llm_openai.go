package service

import (
	"context"
	"errors"
	"io"
	"vetchat_backend/internal/config"
	"vetchat_backend/internal/model"
	"vetchat_backend/pkg/logger"
	"vetchat_backend/pkg/monitoring"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// 스트리밍과 폴백이 모두 실패했을 때 내보내는 안내 문구
const streamingLimitedApology = "죄송합니다. 현재 모델로는 스트리밍이 제한되어 있습니다. 잠시 후 다시 시도해주세요."

// OpenAIService 호스티드 API 백엔드. 스트리밍이 실패하면 일반 호출로
// 폴백하고, 그것도 실패하면 안내 문구를 한 청크로 내보낸다.
type OpenAIService struct {
	client  *openai.Client
	cfg     config.OpenAIConfig
	modelID string
}

func NewOpenAIService(cfg config.OpenAIConfig) *OpenAIService {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIService{
		client:  openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		modelID: cfg.Model,
	}
}

// WithModel 같은 클라이언트를 공유하면서 다른 모델 ID로 호출하는 백엔드
func (s *OpenAIService) WithModel(modelID string) *OpenAIService {
	clone := *s
	clone.modelID = modelID
	return &clone
}

func (s *OpenAIService) Name() string {
	return "openai"
}

func (s *OpenAIService) Stream(ctx context.Context, req *model.GenerationRequest) (<-chan StreamChunk, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = s.cfg.MaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = s.cfg.Temperature
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       s.modelID,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)

		stream, err := s.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Log.Warn("Streaming completion failed, falling back", zap.Error(err))
			s.fallback(ctx, chatReq, out)
			return
		}
		defer stream.Close()

		emitted := false
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !emitted {
					logger.Log.Warn("Stream broke before first chunk, falling back", zap.Error(err))
					s.fallback(ctx, chatReq, out)
					return
				}
				select {
				case out <- StreamChunk{Err: err}:
				case <-ctx.Done():
				}
				return
			}

			if len(resp.Choices) == 0 {
				continue
			}
			content := resp.Choices[0].Delta.Content
			if content == "" {
				continue
			}

			select {
			case out <- StreamChunk{Text: content}:
				emitted = true
				monitoring.GenerationChunks.WithLabelValues("openai").Inc()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *OpenAIService) fallback(ctx context.Context, chatReq openai.ChatCompletionRequest, out chan<- StreamChunk) {
	resp, err := s.client.CreateChatCompletion(ctx, chatReq)
	text := ""
	if err == nil && len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	if text == "" {
		if err != nil {
			logger.Log.Error("Fallback completion failed", zap.Error(err))
		}
		text = streamingLimitedApology
	}

	select {
	case out <- StreamChunk{Text: text}:
		monitoring.GenerationChunks.WithLabelValues("openai").Inc()
	case <-ctx.Done():
	}
}
