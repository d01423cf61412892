package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"techcare-server/internal/middleware"
	"techcare-server/internal/service"
	"techcare-server/pkg/response"
)

// ChatHandler 聊天请求处理器
// 发送接口以 SSE 流的形式向浏览器推送助手回复
type ChatHandler struct {
	chatService    *service.ChatService
	sessionService *service.SessionService
	convService    *service.ConversationService
}

// NewChatHandler 创建 ChatHandler 实例
func NewChatHandler(
	chatService *service.ChatService,
	sessionService *service.SessionService,
	convService *service.ConversationService,
) *ChatHandler {
	return &ChatHandler{
		chatService:    chatService,
		sessionService: sessionService,
		convService:    convService,
	}
}

// GetState 获取当前会话状态
// 本地没有活跃对话时尝试从上次记录的活跃对话恢复
// @Summary 获取会话状态
// @Description 获取当前对话、消息列表和加载状态
// @Tags 聊天
// @Security Bearer
// @Produce json
// @Success 200 {object} response.Response{data=service.StateResponse}
// @Router /api/v1/chat/state [get]
func (h *ChatHandler) GetState(c *gin.Context) {
	sessionID := middleware.SessionID(c)
	state := h.convService.Restore(c.Request.Context(), sessionID)
	response.Success(c, state)
}

// NewChat 开始新对话
// 清空本地状态；新对话本身由下一条消息懒创建
// @Summary 开始新对话
// @Description 清空当前会话状态，回到空白聊天
// @Tags 聊天
// @Security Bearer
// @Produce json
// @Success 200 {object} response.Response{data=service.StateResponse}
// @Router /api/v1/chat/new [post]
func (h *ChatHandler) NewChat(c *gin.Context) {
	sessionID := middleware.SessionID(c)
	h.sessionService.StartNewChat(c.Request.Context(), sessionID)
	response.Success(c, h.sessionService.Snapshot(sessionID))
}

// Send 发送消息
// 响应为 SSE 流：delta 事件携带累积的助手文本，
// done 事件标记完成，error 事件标记流中断。
// 尚未输出任何事件前的失败按普通 JSON 错误返回。
// @Summary 发送消息
// @Description 发送一条用户消息并以 SSE 流返回助手回复
// @Tags 聊天
// @Security Bearer
// @Accept json
// @Produce text/event-stream
// @Param body body service.SendRequest true "消息内容"
// @Success 200 "SSE 流"
// @Router /api/v1/chat/send [post]
func (h *ChatHandler) Send(c *gin.Context) {
	sessionID := middleware.SessionID(c)

	var req service.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}

	started := false
	startStream := func() {
		if started {
			return
		}
		started = true
		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")
		c.Writer.WriteHeader(http.StatusOK)
	}

	final, err := h.chatService.SendMessage(c.Request.Context(), sessionID, &req, func(accumulated string) {
		startStream()
		c.SSEvent("delta", gin.H{"content": accumulated})
		c.Writer.Flush()
	})
	if err != nil {
		// 流已经开始时错误只能作为事件下发
		if started {
			c.SSEvent("error", gin.H{"message": failureMessage(err)})
			c.Writer.Flush()
			return
		}
		switch err {
		case service.ErrEmptyMessage:
			response.BadRequest(c, "Message must not be empty")
		case service.ErrInvalidCategory:
			response.BadRequest(c, "Unknown category")
		case service.ErrSendInFlight:
			response.SendInFlight(c)
		default:
			// 取最具体的错误信息（如上游错误体里的原文）
			response.UpstreamError(c, failureMessage(err))
		}
		return
	}

	// 空回复时流可能尚未开始，补齐响应头后再发 done
	startStream()
	c.SSEvent("done", gin.H{"content": final})
	c.Writer.Flush()
}

// failureMessage 发送失败时展示给用户的文案
// 优先用错误自带的信息，没有则退回通用文案
func failureMessage(err error) string {
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return "Failed to get a response"
}
