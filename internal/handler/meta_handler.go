package handler

import (
	"github.com/gin-gonic/gin"

	"techcare-server/internal/middleware"
	"techcare-server/internal/model"
	"techcare-server/internal/service"
	"techcare-server/pkg/response"
)

// MetaHandler 元数据请求处理器
// 提供分类目录、快捷修复目录和诊断面板状态
type MetaHandler struct {
	chatService *service.ChatService
}

// NewMetaHandler 创建 MetaHandler 实例
func NewMetaHandler(chatService *service.ChatService) *MetaHandler {
	return &MetaHandler{
		chatService: chatService,
	}
}

// ListCategories 获取问题分类目录
// @Summary 获取分类目录
// @Description 获取全部问题分类
// @Tags 元数据
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/meta/categories [get]
func (h *MetaHandler) ListCategories(c *gin.Context) {
	response.Success(c, gin.H{
		"categories": model.Categories,
	})
}

// ListQuickFixes 获取快捷修复目录
// @Summary 获取快捷修复目录
// @Description 获取全部快捷修复项
// @Tags 元数据
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/meta/quickfixes [get]
func (h *MetaHandler) ListQuickFixes(c *gin.Context) {
	response.Success(c, gin.H{
		"quick_fixes": model.QuickFixes,
	})
}

// GetDiagnosis 获取诊断面板状态
// @Summary 获取诊断状态
// @Description 获取当前会话的诊断面板状态
// @Tags 元数据
// @Security Bearer
// @Produce json
// @Success 200 {object} response.Response{data=service.DiagnosisResponse}
// @Router /api/v1/diagnosis [get]
func (h *MetaHandler) GetDiagnosis(c *gin.Context) {
	sessionID := middleware.SessionID(c)
	response.Success(c, h.chatService.Diagnosis(c.Request.Context(), sessionID))
}
