package model

// 벡터 인덱스 메타데이터의 source_type 값들.
const (
	SourceTypeCorpus     = "corpus"
	SourceTypeQAQuestion = "qa_question"
	SourceTypeQAAnswer   = "qa_answer"
)

// Document is a single retrieval result. Ephemeral: built per search
// call and never persisted.
type Document struct {
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata"`
	Similarity float64           `json:"similarity"`
	Rank       int               `json:"rank"`
}

// Department returns the department tag, empty when absent.
func (d Document) Department() string {
	return d.Metadata["department"]
}

// SearchStatus reports how a context assembly round went. It is the
// side channel for retrieval degradation: an unreachable index sets
// Connected=false and leaves both counts at zero, it never fails the
// chat turn.
type SearchStatus struct {
	Connected   bool
	CorpusCount int
	QACount     int
	Collection  string
}
