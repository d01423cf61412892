package handler

import (
	"github.com/gin-gonic/gin"

	"techcare-server/internal/middleware"
	"techcare-server/internal/service"
	"techcare-server/pkg/response"
)

// ConversationHandler 对话管理请求处理器
type ConversationHandler struct {
	conversationService *service.ConversationService
}

// NewConversationHandler 创建 ConversationHandler 实例
func NewConversationHandler(conversationService *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
	}
}

// ListConversations 获取对话列表
// @Summary 获取对话列表
// @Description 获取全部历史对话，按最近更新排序
// @Tags 对话
// @Security Bearer
// @Produce json
// @Success 200 {object} response.Response{data=ConversationListResponse}
// @Router /api/v1/conversations [get]
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	conversations, err := h.conversationService.List(c.Request.Context())
	if err != nil {
		response.InternalError(c, "Failed to load conversations")
		return
	}

	response.Success(c, gin.H{
		"conversations": conversations,
		"total":         len(conversations),
	})
}

// ConversationListResponse 对话列表响应
type ConversationListResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	Total         int                   `json:"total"`
}

// ConversationSummary 对话摘要
type ConversationSummary struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Category  *string `json:"category"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// SelectConversation 切换到指定对话
// 加载该对话的全部消息并设为会话的活跃对话
// @Summary 切换对话
// @Description 切换到指定对话并返回最新的会话状态
// @Tags 对话
// @Security Bearer
// @Produce json
// @Param id path string true "对话ID"
// @Success 200 {object} response.Response{data=service.StateResponse}
// @Router /api/v1/conversations/{id}/select [post]
func (h *ConversationHandler) SelectConversation(c *gin.Context) {
	sessionID := middleware.SessionID(c)
	conversationID := c.Param("id")
	if conversationID == "" {
		response.BadRequest(c, "Conversation id is required")
		return
	}

	state, err := h.conversationService.Select(c.Request.Context(), sessionID, conversationID)
	if err != nil {
		switch err {
		case service.ErrConversationNotFound:
			response.ConversationNotFound(c)
		default:
			response.InternalError(c, "Failed to load conversation")
		}
		return
	}

	response.Success(c, state)
}

// RenameRequest 重命名对话请求
type RenameRequest struct {
	Title string `json:"title"`
}

// RenameConversation 重命名对话
// @Summary 重命名对话
// @Description 修改指定对话的标题
// @Tags 对话
// @Security Bearer
// @Accept json
// @Produce json
// @Param id path string true "对话ID"
// @Param body body RenameRequest true "新标题"
// @Success 200 {object} response.Response
// @Router /api/v1/conversations/{id} [put]
func (h *ConversationHandler) RenameConversation(c *gin.Context) {
	sessionID := middleware.SessionID(c)
	conversationID := c.Param("id")
	if conversationID == "" {
		response.BadRequest(c, "Conversation id is required")
		return
	}

	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}

	err := h.conversationService.Rename(c.Request.Context(), sessionID, conversationID, req.Title)
	if err != nil {
		switch err {
		case service.ErrEmptyTitle:
			response.BadRequest(c, "Title must not be empty")
		case service.ErrConversationNotFound:
			response.ConversationNotFound(c)
		default:
			response.InternalError(c, "Failed to rename conversation")
		}
		return
	}

	response.SuccessWithMessage(c, "Conversation renamed", nil)
}

// DeleteConversation 删除对话
// 删除活跃对话时同时清空当前会话的本地状态
// @Summary 删除对话
// @Description 删除指定对话及其全部消息
// @Tags 对话
// @Security Bearer
// @Produce json
// @Param id path string true "对话ID"
// @Success 204 "删除成功"
// @Router /api/v1/conversations/{id} [delete]
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	sessionID := middleware.SessionID(c)
	conversationID := c.Param("id")
	if conversationID == "" {
		response.BadRequest(c, "Conversation id is required")
		return
	}

	err := h.conversationService.Delete(c.Request.Context(), sessionID, conversationID)
	if err != nil {
		switch err {
		case service.ErrConversationNotFound:
			response.ConversationNotFound(c)
		default:
			response.InternalError(c, "Failed to delete conversation")
		}
		return
	}

	response.NoContent(c)
}
