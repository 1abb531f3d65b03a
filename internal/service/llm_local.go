package service

import (
	"context"
	"errors"
	"sync"
	"vetchat_backend/internal/config"
	"vetchat_backend/internal/model"
	"vetchat_backend/pkg/logger"
	"vetchat_backend/pkg/monitoring"

	llama "github.com/go-skynet/go-llama.cpp"
	"go.uber.org/zap"
)

// StreamChunk 생성 스트림의 단위. Err이 설정되면 마지막 청크다.
type StreamChunk struct {
	Text string
	Err  error
}

// GenerationBackend 프롬프트를 받아 토큰 스트림을 돌려주는 백엔드
type GenerationBackend interface {
	Name() string
	Stream(ctx context.Context, req *model.GenerationRequest) (<-chan StreamChunk, error)
}

var ErrBackendClosed = errors.New("generation backend closed")

type llamaJob struct {
	ctx context.Context
	req *model.GenerationRequest
	out chan StreamChunk
}

// LlamaService 로컬 GGUF 모델 백엔드. 모델 컨텍스트는 동시 접근이 안 되므로
// 단일 워커 고루틴이 작업 큐를 순서대로 처리한다.
type LlamaService struct {
	cfg     config.LlamaConfig
	model   *llama.LLama
	jobs    chan *llamaJob
	predict func(req *model.GenerationRequest, emit func(string) bool) error

	closeOnce sync.Once
	done      chan struct{}
}

func NewLlamaService(cfg config.LlamaConfig) (*LlamaService, error) {
	l, err := llama.New(cfg.ModelPath,
		llama.SetContext(cfg.ContextSize),
		llama.SetGPULayers(cfg.GPULayers),
	)
	if err != nil {
		return nil, err
	}

	s := &LlamaService{
		cfg:   cfg,
		model: l,
		jobs:  make(chan *llamaJob),
		done:  make(chan struct{}),
	}
	s.predict = s.defaultPredict

	go s.worker()
	logger.Log.Info("Local GGUF model loaded",
		zap.String("path", cfg.ModelPath),
		zap.Int("context_size", cfg.ContextSize))
	return s, nil
}

func (s *LlamaService) Name() string {
	return "llama"
}

func (s *LlamaService) Stream(ctx context.Context, req *model.GenerationRequest) (<-chan StreamChunk, error) {
	s.applyDefaults(req)

	job := &llamaJob{
		ctx: ctx,
		req: req,
		out: make(chan StreamChunk),
	}

	select {
	case s.jobs <- job:
		return job.out, nil
	case <-s.done:
		return nil, ErrBackendClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *LlamaService) applyDefaults(req *model.GenerationRequest) {
	if req.MaxTokens == 0 {
		req.MaxTokens = s.cfg.MaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = s.cfg.Temperature
	}
	if req.TopP == 0 {
		req.TopP = s.cfg.TopP
	}
	req.WithEndOfTurnStop()
}

func (s *LlamaService) worker() {
	for {
		select {
		case job := <-s.jobs:
			s.runJob(job)
		case <-s.done:
			return
		}
	}
}

func (s *LlamaService) runJob(job *llamaJob) {
	defer close(job.out)

	emit := func(token string) bool {
		select {
		case job.out <- StreamChunk{Text: token}:
			monitoring.GenerationChunks.WithLabelValues("llama").Inc()
			return true
		case <-job.ctx.Done():
			// 소비자가 떠났다. 예측을 중단한다.
			return false
		}
	}

	if err := s.predict(job.req, emit); err != nil && job.ctx.Err() == nil {
		select {
		case job.out <- StreamChunk{Err: err}:
		case <-job.ctx.Done():
		}
	}
}

func (s *LlamaService) defaultPredict(req *model.GenerationRequest, emit func(string) bool) error {
	_, err := s.model.Predict(req.Prompt,
		llama.SetTokenCallback(emit),
		llama.SetTokens(req.MaxTokens),
		llama.SetThreads(s.cfg.Threads),
		llama.SetTemperature(float32(req.Temperature)),
		llama.SetTopP(float32(req.TopP)),
		llama.SetStopWords(req.StopSequences...),
	)
	return err
}

func (s *LlamaService) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.model != nil {
			s.model.Free()
		}
	})
}
