package util

import "errors"

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserIDTaken        = errors.New("이미 사용 중인 사용자 ID입니다")
	ErrEmailRegistered    = errors.New("이미 사용 중인 이메일 주소입니다")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")

	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("no messages found in session")
	ErrModelNotFound   = errors.New("model not found")
	ErrInvalidRequest  = errors.New("invalid request")

	// ErrRetrievalUnavailable 벡터 인덱스 접근 실패. 채팅 턴을 실패시키지
	// 않고 컨텍스트 생략으로 복구한다.
	ErrRetrievalUnavailable = errors.New("vector index unavailable")
)
