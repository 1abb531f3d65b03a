package service

import (
	"vetchat_backend/internal/config"
	"vetchat_backend/internal/util"
)

// ModelInfo 모델 목록 응답 항목
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Vendor      string `json:"vendor"`
	Description string `json:"description"`
	Available   bool   `json:"available"`
}

// ModelRegistryService 설정 카탈로그의 모델 ID를 생성 백엔드로 연결한다.
// 백엔드가 초기화되지 않은 모델은 목록에는 남지만 사용할 수 없다.
type ModelRegistryService struct {
	entries      []config.ModelCatalog
	backends     map[string]GenerationBackend
	defaultModel string
}

func NewModelRegistryService(cfg config.LLMConfig, local GenerationBackend, hosted *OpenAIService) *ModelRegistryService {
	s := &ModelRegistryService{
		entries:      cfg.Models,
		backends:     make(map[string]GenerationBackend),
		defaultModel: cfg.DefaultModel,
	}

	for _, entry := range cfg.Models {
		switch entry.Backend {
		case "llama":
			if local != nil {
				s.backends[entry.ID] = local
			}
		case "openai":
			if hosted != nil {
				s.backends[entry.ID] = hosted.WithModel(entry.ID)
			}
		}
	}
	return s
}

func (s *ModelRegistryService) List() []ModelInfo {
	out := make([]ModelInfo, 0, len(s.entries))
	for _, entry := range s.entries {
		_, available := s.backends[entry.ID]
		out = append(out, ModelInfo{
			ID:          entry.ID,
			Name:        entry.Name,
			Vendor:      entry.Vendor,
			Description: entry.Description,
			Available:   available,
		})
	}
	return out
}

func (s *ModelRegistryService) DefaultModel() string {
	return s.defaultModel
}

// Resolve 모델 ID를 백엔드로 변환한다. 빈 ID는 기본 모델을 쓴다.
func (s *ModelRegistryService) Resolve(modelID string) (GenerationBackend, string, error) {
	if modelID == "" {
		modelID = s.defaultModel
	}
	backend, ok := s.backends[modelID]
	if !ok {
		return nil, "", util.ErrModelNotFound
	}
	return backend, modelID, nil
}
