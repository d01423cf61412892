// Package response 提供统一的 HTTP 响应格式
// 所有 API 都使用相同的响应结构，便于前端处理
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
// code: 业务状态码（0 表示成功）
// message: 提示信息
// data: 响应数据
type Response struct {
	Code    int         `json:"code"`           // 业务状态码
	Message string      `json:"message"`        // 提示信息
	Data    interface{} `json:"data,omitempty"` // 响应数据，可选
}

// 业务状态码定义
const (
	CodeSuccess              = 0    // 成功
	CodeBadRequest           = 1000 // 请求参数错误
	CodeUnauthorized         = 1001 // 未授权
	CodeForbidden            = 1002 // 禁止访问
	CodeNotFound             = 1003 // 资源不存在
	CodeInternalError        = 1004 // 服务器内部错误
	CodeConversationNotFound = 1101 // 对话不存在
	CodeSendInFlight         = 1201 // 已有发送在进行中
	CodeUpstreamError        = 1301 // 补全服务错误
)

// Success 返回成功响应
// 参数:
//   - c: Gin 上下文
//   - data: 响应数据，可以是任意类型
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// SuccessWithMessage 返回成功响应（带自定义消息）
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: message,
		Data:    data,
	})
}

// BadRequest 返回 400 错误（请求参数错误）
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Code:    CodeBadRequest,
		Message: message,
	})
}

// Unauthorized 返回 401 错误（未授权）
func Unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, Response{
		Code:    CodeUnauthorized,
		Message: message,
	})
}

// Forbidden 返回 403 错误（禁止访问）
func Forbidden(c *gin.Context, message string) {
	c.JSON(http.StatusForbidden, Response{
		Code:    CodeForbidden,
		Message: message,
	})
}

// NotFound 返回 404 错误（资源不存在）
func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Response{
		Code:    CodeNotFound,
		Message: message,
	})
}

// InternalError 返回 500 错误（服务器内部错误）
func InternalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, Response{
		Code:    CodeInternalError,
		Message: message,
	})
}

// ConversationNotFound 返回对话不存在错误
func ConversationNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, Response{
		Code:    CodeConversationNotFound,
		Message: "conversation not found",
	})
}

// SendInFlight 返回 409 错误（已有发送在进行中）
// 发送互斥是策略级的：同一会话同一时间只接受一个发送
func SendInFlight(c *gin.Context) {
	c.JSON(http.StatusConflict, Response{
		Code:    CodeSendInFlight,
		Message: "a message is already being processed",
	})
}

// UpstreamError 返回 502 错误（补全服务失败）
func UpstreamError(c *gin.Context, message string) {
	c.JSON(http.StatusBadGateway, Response{
		Code:    CodeUpstreamError,
		Message: message,
	})
}

// Created 返回 201 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    CodeSuccess,
		Message: "created",
		Data:    data,
	})
}

// NoContent 返回 204 无内容响应（用于删除操作）
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
