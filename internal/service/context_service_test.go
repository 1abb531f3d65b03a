package service

import (
	"context"
	"strings"
	"testing"
	"time"
	"vetchat_backend/internal/config"
	"vetchat_backend/internal/model"
	"vetchat_backend/internal/util"
)

type fakeSearcher struct {
	corpus    []model.Document
	qa        []model.Document
	heartbeat error
	searchErr error
}

func (f *fakeSearcher) SearchByType(ctx context.Context, query, sourceType string, nResults int) ([]model.Document, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if sourceType == model.SourceTypeCorpus {
		return f.corpus, nil
	}
	return f.qa, nil
}

func (f *fakeSearcher) Heartbeat(ctx context.Context) error { return f.heartbeat }
func (f *fakeSearcher) Collection() string                  { return "pet_medical" }

func newTestContextService(search DocumentSearcher, maxLen int) *ContextService {
	s := NewContextService(search, config.VectorConfig{MaxContextLength: maxLen})
	s.now = func() time.Time {
		return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	}
	return s
}

func TestBuildContextSections(t *testing.T) {
	search := &fakeSearcher{
		corpus: []model.Document{
			{Content: "강아지 파보바이러스는 전염성이 강하다", Metadata: map[string]string{"department": "내과"}, Similarity: 0.91},
			{Content: "구토가 지속되면 탈수 위험이 있다", Similarity: 0.72},
		},
		qa: []model.Document{
			{Content: "예방접종 후 하루 정도 기력이 없을 수 있습니다", Similarity: 0.66},
		},
	}

	text, status := newTestContextService(search, 2000).BuildContext(context.Background(), "강아지가 토해요")

	if !status.Connected {
		t.Fatal("expected connected status")
	}
	if status.CorpusCount != 2 || status.QACount != 1 {
		t.Fatalf("unexpected counts: corpus=%d qa=%d", status.CorpusCount, status.QACount)
	}

	if !strings.Contains(text, "현재 시간: 2025년 03월 14일 09시 30분") {
		t.Errorf("missing time line in:\n%s", text)
	}
	if !strings.Contains(text, corpusSectionHeader) {
		t.Error("missing corpus section header")
	}
	if !strings.Contains(text, qaSectionHeader) {
		t.Error("missing qa section header")
	}
	if !strings.Contains(text, "1. [내과] (유사도: 0.910) 강아지 파보바이러스는 전염성이 강하다") {
		t.Errorf("missing department-tagged entry in:\n%s", text)
	}
	if !strings.Contains(text, "2. (유사도: 0.720) 구토가 지속되면 탈수 위험이 있다") {
		t.Errorf("entry without department should have no bracket tag:\n%s", text)
	}
	if !strings.Contains(text, "- 연결 상태: 연결됨") {
		t.Error("missing status block")
	}
	if !strings.Contains(text, "- 컬렉션: pet_medical") {
		t.Error("missing collection name in status block")
	}

	// 시간 → 상태 요약 → 말뭉치 → Q&A 순서
	timeIdx := strings.Index(text, "현재 시간:")
	statusIdx := strings.Index(text, "[벡터 DB 활용 정보]")
	corpusIdx := strings.Index(text, corpusSectionHeader)
	qaIdx := strings.Index(text, qaSectionHeader)
	if !(timeIdx < statusIdx && statusIdx < corpusIdx && corpusIdx < qaIdx) {
		t.Errorf("sections out of order: time=%d status=%d corpus=%d qa=%d", timeIdx, statusIdx, corpusIdx, qaIdx)
	}
	if strings.Contains(text, noDocsNotice) {
		t.Error("no-docs notice should not appear when documents were found")
	}
}

func TestBuildContextNoDocuments(t *testing.T) {
	text, status := newTestContextService(&fakeSearcher{}, 2000).BuildContext(context.Background(), "질문")

	if !strings.Contains(text, noDocsNotice) {
		t.Error("expected no-docs notice")
	}
	if status.CorpusCount != 0 || status.QACount != 0 {
		t.Fatalf("unexpected counts: %+v", status)
	}
}

func TestBuildContextVectorDown(t *testing.T) {
	search := &fakeSearcher{heartbeat: util.ErrRetrievalUnavailable}
	text, status := newTestContextService(search, 2000).BuildContext(context.Background(), "질문")

	if status.Connected {
		t.Fatal("expected disconnected status")
	}
	if !strings.Contains(text, "- 연결 상태: 연결 끊김") {
		t.Error("status block should report disconnection")
	}
	if !strings.Contains(text, noDocsNotice) {
		t.Error("expected no-docs notice when vector db is down")
	}
}

func TestBuildContextSearchErrorDegrades(t *testing.T) {
	search := &fakeSearcher{searchErr: util.ErrRetrievalUnavailable}
	text, status := newTestContextService(search, 2000).BuildContext(context.Background(), "질문")

	if text == "" {
		t.Fatal("context should still be produced on search failure")
	}
	if status.CorpusCount != 0 {
		t.Fatal("no documents should be counted on search failure")
	}
}

func TestBuildContextZeroBudget(t *testing.T) {
	search := &fakeSearcher{
		corpus: []model.Document{{Content: "문서", Similarity: 0.9}},
	}

	text, _ := newTestContextService(search, 0).BuildContext(context.Background(), "질문")

	if text != noDocsNotice {
		t.Errorf("zero budget should yield only the notice, got %q", text)
	}
}

func TestBuildContextBudgetSkipsWholeEntries(t *testing.T) {
	long := strings.Repeat("가", 400)
	search := &fakeSearcher{
		corpus: []model.Document{
			{Content: long, Similarity: 0.9},
			{Content: long, Similarity: 0.8},
			{Content: "짧은 문서", Similarity: 0.7},
		},
	}

	// 두 번째 긴 항목은 예산을 넘겨 통째로 빠지고, 세 번째 짧은 항목은 들어간다.
	text, _ := newTestContextService(search, 700).BuildContext(context.Background(), "질문")

	if !strings.Contains(text, "1. (유사도: 0.900)") {
		t.Error("first entry should fit")
	}
	if strings.Contains(text, "2. (유사도: 0.800)") {
		t.Error("second entry should be skipped whole, not truncated")
	}
	if !strings.Contains(text, "3. (유사도: 0.700) 짧은 문서") {
		t.Error("third entry should still fit after skipping the second")
	}
}

// 한글은 한 글자가 3바이트라서 예산을 바이트로 세면 실제의 1/3만 쓰게 된다.
func TestBuildContextBudgetCountsRunes(t *testing.T) {
	long := strings.Repeat("가", 400)
	search := &fakeSearcher{
		corpus: []model.Document{
			{Content: long, Similarity: 0.9},
			{Content: long, Similarity: 0.8},
		},
	}

	text, _ := newTestContextService(search, 2000).BuildContext(context.Background(), "질문")

	if !strings.Contains(text, "1. (유사도: 0.900)") {
		t.Error("first 400-char entry should fit in a 2000-char budget")
	}
	if !strings.Contains(text, "2. (유사도: 0.800)") {
		t.Error("second 400-char entry should also fit in a 2000-char budget")
	}
}

func TestBuildContextTruncatesLongDocuments(t *testing.T) {
	long := strings.Repeat("가", corpusDocLimit+100)
	search := &fakeSearcher{
		corpus: []model.Document{{Content: long, Similarity: 0.9}},
	}

	text, _ := newTestContextService(search, 10000).BuildContext(context.Background(), "질문")

	if strings.Contains(text, long) {
		t.Error("document should be truncated to the per-type limit")
	}
	if !strings.Contains(text, strings.Repeat("가", corpusDocLimit)+"...") {
		t.Error("truncated document should end with ellipsis")
	}
}
