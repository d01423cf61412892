// Package handler 提供 HTTP 请求处理器
package handler

import (
	"github.com/gin-gonic/gin"

	"techcare-server/internal/service"
	"techcare-server/pkg/response"
)

// SessionHandler 浏览器会话请求处理器
type SessionHandler struct {
	sessionService *service.SessionService
}

// NewSessionHandler 创建 SessionHandler 实例
func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
	}
}

// CreateSession 创建匿名浏览器会话
// 会话不关联任何账号，凭颁发的令牌访问其余接口
// @Summary 创建会话
// @Description 创建匿名浏览器会话并颁发访问令牌
// @Tags 会话
// @Produce json
// @Success 201 {object} response.Response{data=service.SessionResponse}
// @Router /api/v1/session [post]
func (h *SessionHandler) CreateSession(c *gin.Context) {
	session, err := h.sessionService.CreateSession(c.Request.Context())
	if err != nil {
		response.InternalError(c, "Failed to create session")
		return
	}

	response.Created(c, session)
}
