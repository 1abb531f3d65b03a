package controller

import (
	"errors"
	"net/http"
	"vetchat_backend/internal/service"
	"vetchat_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type LLMController struct {
	ChatService *service.ChatService
	Registry    *service.ModelRegistryService
}

func NewLLMController(chatService *service.ChatService, registry *service.ModelRegistryService) *LLMController {
	return &LLMController{
		ChatService: chatService,
		Registry:    registry,
	}
}

func respondChatError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrSessionNotFound):
		util.NotFound(ctx, "session not found")
	case errors.Is(err, util.ErrMessageNotFound):
		util.NotFound(ctx, "no messages in session")
	case errors.Is(err, util.ErrModelNotFound):
		util.NotFound(ctx, "model not found")
	case errors.Is(err, util.ErrInvalidRequest):
		util.BadRequest(ctx, err.Error())
	default:
		util.LogInternalError(ctx, err)
	}
}

// streamPlainText 청크 단위 plain-text 응답. 청크마다 flush하고, 클라이언트가
// 끊겨도 채널이 닫힐 때까지 비워서 저장 고루틴이 합류하게 한다.
func streamPlainText(ctx *gin.Context, chunks <-chan string) {
	ctx.Header("Content-Type", "text/plain; charset=utf-8")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("X-Accel-Buffering", "no")
	ctx.Status(http.StatusOK)

	clientGone := false
	for chunk := range chunks {
		if clientGone {
			continue
		}
		if _, err := ctx.Writer.WriteString(chunk); err != nil {
			clientGone = true
			continue
		}
		ctx.Writer.Flush()
	}
}

// ListModels godoc
// @Summary 사용 가능한 모델 목록
// @Tags LLM
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=[]service.ModelInfo}
// @Router /api/llm/models [get]
func (c *LLMController) ListModels(ctx *gin.Context) {
	util.Success(ctx, c.Registry.List())
}

type CreateSessionRequest struct {
	Title string `json:"title"`
}

// CreateSession godoc
// @Summary 새 채팅 세션 생성
// @Tags LLM
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body CreateSessionRequest false "세션 제목(선택)"
// @Success 201 {object} util.Response
// @Router /api/llm/sessions [post]
func (c *LLMController) CreateSession(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var req CreateSessionRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			util.BadRequest(ctx, err.Error())
			return
		}
	}

	session, err := c.ChatService.CreateSession(claims.UserID, req.Title)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Created(ctx, session)
}

// ListSessions godoc
// @Summary 내 채팅 세션 목록
// @Tags LLM
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/llm/sessions [get]
func (c *LLMController) ListSessions(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	sessions, err := c.ChatService.ListSessions(claims.UserID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, sessions)
}

// GetSession godoc
// @Summary 세션 단건 조회
// @Tags LLM
// @Produce json
// @Security BearerAuth
// @Param id path string true "세션 ID"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/llm/sessions/{id} [get]
func (c *LLMController) GetSession(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	session, err := c.ChatService.GetSession(ctx.Param("id"), claims.UserID)
	if err != nil {
		respondChatError(ctx, err)
		return
	}
	util.Success(ctx, session)
}

type RenameSessionRequest struct {
	Title string `json:"title" binding:"required,max=100"`
}

// RenameSession godoc
// @Summary 세션 제목 변경
// @Tags LLM
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "세션 ID"
// @Param body body RenameSessionRequest true "새 제목"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/llm/sessions/{id} [put]
func (c *LLMController) RenameSession(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var req RenameSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if err := c.ChatService.RenameSession(ctx.Param("id"), claims.UserID, req.Title); err != nil {
		respondChatError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// DeleteSession godoc
// @Summary 세션 삭제
// @Tags LLM
// @Produce json
// @Security BearerAuth
// @Param id path string true "세션 ID"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/llm/sessions/{id} [delete]
func (c *LLMController) DeleteSession(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	if err := c.ChatService.DeleteSession(ctx.Param("id"), claims.UserID); err != nil {
		respondChatError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// GetMessages godoc
// @Summary 세션의 메시지 이력 조회
// @Tags LLM
// @Produce json
// @Security BearerAuth
// @Param id path string true "세션 ID"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/llm/sessions/{id}/messages [get]
func (c *LLMController) GetMessages(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	msgs, err := c.ChatService.GetSessionMessages(ctx.Param("id"), claims.UserID)
	if err != nil {
		respondChatError(ctx, err)
		return
	}
	util.Success(ctx, msgs)
}

type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
	ModelID string `json:"model_id"`
}

// SendMessage godoc
// @Summary 질문 전송, 답변 스트리밍
// @Description 답변을 plain-text 청크로 스트리밍하고 완료 후 턴을 저장한다
// @Tags LLM
// @Accept json
// @Produce plain
// @Security BearerAuth
// @Param id path string true "세션 ID"
// @Param body body SendMessageRequest true "질문"
// @Success 200 {string} string "답변 스트림"
// @Failure 404 {object} util.Response
// @Router /api/llm/sessions/{id}/messages [post]
func (c *LLMController) SendMessage(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var req SendMessageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	chunks, err := c.ChatService.SendMessage(ctx.Request.Context(), claims.UserID, ctx.Param("id"), req.Content, req.ModelID)
	if err != nil {
		respondChatError(ctx, err)
		return
	}
	streamPlainText(ctx, chunks)
}

// ReplaceLastMessage godoc
// @Summary 마지막 질문 수정 후 재생성
// @Tags LLM
// @Accept json
// @Produce plain
// @Security BearerAuth
// @Param id path string true "세션 ID"
// @Param body body SendMessageRequest true "수정된 질문"
// @Success 200 {string} string "답변 스트림"
// @Failure 404 {object} util.Response
// @Router /api/llm/sessions/{id}/messages/last [put]
func (c *LLMController) ReplaceLastMessage(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var req SendMessageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	chunks, err := c.ChatService.ReplaceLastMessage(ctx.Request.Context(), claims.UserID, ctx.Param("id"), req.Content, req.ModelID)
	if err != nil {
		respondChatError(ctx, err)
		return
	}
	streamPlainText(ctx, chunks)
}

// DeleteLastMessage godoc
// @Summary 마지막 턴 삭제
// @Tags LLM
// @Produce json
// @Security BearerAuth
// @Param id path string true "세션 ID"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/llm/sessions/{id}/messages/last [delete]
func (c *LLMController) DeleteLastMessage(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	if err := c.ChatService.DeleteLastMessage(ctx.Param("id"), claims.UserID); err != nil {
		respondChatError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

type RegenerateRequest struct {
	ModelID string `json:"model_id"`
}

// Regenerate godoc
// @Summary 마지막 답변 재생성
// @Description 질문은 그대로 두고 답변만 다시 생성한다
// @Tags LLM
// @Accept json
// @Produce plain
// @Security BearerAuth
// @Param id path string true "세션 ID"
// @Param body body RegenerateRequest false "모델 변경(선택)"
// @Success 200 {string} string "답변 스트림"
// @Failure 404 {object} util.Response
// @Router /api/llm/sessions/{id}/messages/regenerate [post]
func (c *LLMController) Regenerate(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var req RegenerateRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			util.BadRequest(ctx, err.Error())
			return
		}
	}

	chunks, err := c.ChatService.RegenerateLastAnswer(ctx.Request.Context(), claims.UserID, ctx.Param("id"), req.ModelID)
	if err != nil {
		respondChatError(ctx, err)
		return
	}
	streamPlainText(ctx, chunks)
}
