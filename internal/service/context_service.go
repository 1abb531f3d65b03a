package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
	"vetchat_backend/internal/config"
	"vetchat_backend/internal/model"
	"vetchat_backend/pkg/logger"

	"go.uber.org/zap"
)

const (
	corpusResultCount = 3
	qaResultCount     = 2
	corpusDocLimit    = 500
	qaDocLimit        = 300

	corpusSectionHeader = "=== 관련 의료 정보 (말뭉치 데이터) ===\n"
	qaSectionHeader     = "=== 관련 질의응답 (Q&A 데이터) ===\n"
	noDocsNotice        = "관련 의료 정보를 벡터 DB에서 찾을 수 없습니다. 일반적인 의료 지식을 바탕으로 답변해드리겠습니다.\n\n"
)

// DocumentSearcher 컨텍스트 조립에 필요한 검색 연산
type DocumentSearcher interface {
	SearchByType(ctx context.Context, query, sourceType string, nResults int) ([]model.Document, error)
	Heartbeat(ctx context.Context) error
	Collection() string
}

// ContextService 검색 결과를 프롬프트용 컨텍스트 블록으로 조립한다.
// 검색 실패는 채팅 턴을 실패시키지 않고 빈 컨텍스트로 진행한다.
type ContextService struct {
	Search    DocumentSearcher
	maxLength int
	now       func() time.Time
}

func NewContextService(search DocumentSearcher, cfg config.VectorConfig) *ContextService {
	return &ContextService{
		Search:    search,
		maxLength: cfg.MaxContextLength,
		now:       time.Now,
	}
}

// BuildContext 말뭉치 상위 3건과 Q&A 답변 상위 2건을 섹션별로 배치한다.
// 시간과 검색 상태 요약이 본문 섹션보다 먼저 온다. 길이 예산은 문자 수
// 기준이고, 넘기는 항목은 중간에서 자르지 않고 통째로 건너뛴다.
func (s *ContextService) BuildContext(ctx context.Context, query string) (string, model.SearchStatus) {
	status := model.SearchStatus{
		Collection: s.Search.Collection(),
	}

	if err := s.Search.Heartbeat(ctx); err == nil {
		status.Connected = true
	}

	// 예산이 없으면 검색 자체가 무의미하다
	if s.maxLength <= 0 {
		return noDocsNotice, status
	}

	var corpusDocs, qaDocs []model.Document
	if status.Connected {
		var err error
		corpusDocs, err = s.Search.SearchByType(ctx, query, model.SourceTypeCorpus, corpusResultCount)
		if err != nil {
			logger.Log.Warn("Corpus search failed, continuing without documents", zap.Error(err))
			status.Connected = false
		}
		qaDocs, err = s.Search.SearchByType(ctx, query, model.SourceTypeQAAnswer, qaResultCount)
		if err != nil {
			logger.Log.Warn("QA search failed, continuing without documents", zap.Error(err))
		}
	}
	status.CorpusCount = len(corpusDocs)
	status.QACount = len(qaDocs)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("현재 시간: %s\n\n", s.now().Format("2006년 01월 02일 15시 04분")))
	sb.WriteString(formatStatusBlock(status))
	used := utf8.RuneCountInString(sb.String())

	if len(corpusDocs) > 0 {
		sb.WriteString(corpusSectionHeader)
		used += utf8.RuneCountInString(corpusSectionHeader)
		used = s.appendEntries(&sb, used, corpusDocs, corpusDocLimit)
		sb.WriteString("\n")
		used++
	}

	if len(qaDocs) > 0 {
		sb.WriteString(qaSectionHeader)
		used += utf8.RuneCountInString(qaSectionHeader)
		s.appendEntries(&sb, used, qaDocs, qaDocLimit)
		sb.WriteString("\n")
	}

	if len(corpusDocs) == 0 && len(qaDocs) == 0 {
		sb.WriteString(noDocsNotice)
	}

	return sb.String(), status
}

// appendEntries 예산에 들어가는 항목만 쓰고 누적 문자 수를 돌려준다.
func (s *ContextService) appendEntries(sb *strings.Builder, used int, docs []model.Document, docLimit int) int {
	for i, doc := range docs {
		content := truncateRunes(doc.Content, docLimit)

		deptInfo := ""
		if dept := doc.Department(); dept != "" {
			deptInfo = fmt.Sprintf("[%s] ", dept)
		}

		entry := fmt.Sprintf("%d. %s(유사도: %.3f) %s\n\n", i+1, deptInfo, doc.Similarity, content)

		// 예산 초과 항목은 통째로 건너뛴다. 예산은 바이트가 아닌 문자 수다.
		entryLen := utf8.RuneCountInString(entry)
		if used+entryLen > s.maxLength {
			continue
		}
		sb.WriteString(entry)
		used += entryLen
	}
	return used
}

func formatStatusBlock(status model.SearchStatus) string {
	state := "연결 끊김"
	if status.Connected {
		state = "연결됨"
	}
	return fmt.Sprintf("[벡터 DB 활용 정보]\n- 연결 상태: %s\n- 검색된 말뭉치 문서: %d개\n- 검색된 Q&A 문서: %d개\n- 컬렉션: %s\n\n",
		state, status.CorpusCount, status.QACount, status.Collection)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
