package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
	"vetchat_backend/internal/config"
	"vetchat_backend/internal/model"
	"vetchat_backend/internal/util"
	"vetchat_backend/pkg/logger"
	"vetchat_backend/pkg/monitoring"

	"go.uber.org/zap"
)

// VectorService Chroma REST API 클라이언트. 컬렉션 ID는 첫 조회 후 캐시된다.
type VectorService struct {
	baseURL    string
	collection string
	client     *http.Client

	mu           sync.Mutex
	collectionID string
}

func NewVectorService(cfg config.VectorConfig) *VectorService {
	return &VectorService{
		baseURL:    fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		collection: cfg.Collection,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

func (s *VectorService) Collection() string {
	return s.collection
}

// Heartbeat 벡터 DB 연결 확인
func (s *VectorService) Heartbeat(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/api/v1/heartbeat", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return util.ErrRetrievalUnavailable
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return util.ErrRetrievalUnavailable
	}
	return nil
}

type chromaCollection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *VectorService) resolveCollection(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collectionID != "" {
		return s.collectionID, nil
	}

	url := fmt.Sprintf("%s/api/v1/collections/%s", s.baseURL, s.collection)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", util.ErrRetrievalUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("chroma collection lookup failed (status %d): %s", resp.StatusCode, string(body))
	}

	var coll chromaCollection
	if err := json.NewDecoder(resp.Body).Decode(&coll); err != nil {
		return "", err
	}

	s.collectionID = coll.ID
	return s.collectionID, nil
}

type chromaQueryRequest struct {
	QueryTexts []string               `json:"query_texts"`
	NResults   int                    `json:"n_results"`
	Where      map[string]interface{} `json:"where,omitempty"`
	Include    []string               `json:"include"`
}

type chromaQueryResponse struct {
	Documents [][]string            `json:"documents"`
	Metadatas [][]map[string]string `json:"metadatas"`
	Distances [][]float64           `json:"distances"`
}

// Search 질의와 유사한 문서를 거리 오름차순으로 반환한다. 유사도는
// 1-거리를 [0,1]로 자른 값이다.
func (s *VectorService) Search(ctx context.Context, query string, nResults int, where map[string]interface{}) ([]model.Document, error) {
	collID, err := s.resolveCollection(ctx)
	if err != nil {
		monitoring.RetrievalFailures.Inc()
		return nil, err
	}

	reqBody := chromaQueryRequest{
		QueryTexts: []string{query},
		NResults:   nResults,
		Where:      where,
		Include:    []string{"documents", "metadatas", "distances"},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/v1/collections/%s/query", s.baseURL, collID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		monitoring.RetrievalFailures.Inc()
		logger.Log.Warn("Vector search request failed", zap.Error(err))
		return nil, util.ErrRetrievalUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		monitoring.RetrievalFailures.Inc()
		body, _ := io.ReadAll(resp.Body)
		logger.Log.Warn("Vector search returned error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return nil, util.ErrRetrievalUnavailable
	}

	var result chromaQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	if len(result.Documents) == 0 {
		return nil, nil
	}

	// 응답은 질의별 병렬 배열. 질의는 항상 하나다.
	docs := result.Documents[0]
	var metas []map[string]string
	if len(result.Metadatas) > 0 {
		metas = result.Metadatas[0]
	}
	var dists []float64
	if len(result.Distances) > 0 {
		dists = result.Distances[0]
	}

	out := make([]model.Document, 0, len(docs))
	for i, content := range docs {
		doc := model.Document{
			Content: content,
			Rank:    i + 1,
		}
		if i < len(metas) {
			doc.Metadata = metas[i]
		}
		if i < len(dists) {
			sim := 1 - dists[i]
			if sim < 0 {
				sim = 0
			}
			if sim > 1 {
				sim = 1
			}
			doc.Similarity = sim
		}
		out = append(out, doc)
	}
	return out, nil
}

// SearchByType source_type 필터를 적용해 검색한다.
func (s *VectorService) SearchByType(ctx context.Context, query, sourceType string, nResults int) ([]model.Document, error) {
	return s.Search(ctx, query, nResults, map[string]interface{}{"source_type": sourceType})
}
