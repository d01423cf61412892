// Package model 定义了与数据库表对应的数据结构
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageRole 消息角色常量
const (
	MessageRoleUser      = "user"      // 用户消息
	MessageRoleAssistant = "assistant" // 助手响应
)

// Message 消息模型
// 对应数据库表 messages
// 存储对话中的每一条消息
type Message struct {
	// ID 消息唯一标识，UUID 字符串
	// 未持久化的本地消息此字段为空
	ID string `gorm:"type:char(36);primaryKey" json:"id,omitempty"`

	// ConversationID 所属对话ID，外键关联 conversations.id
	ConversationID string `gorm:"type:char(36);index;not null" json:"-"`

	// Role 消息角色
	// user: 用户发送的消息
	// assistant: 助手的响应
	Role string `gorm:"size:20;not null" json:"role"`

	// Content 消息内容
	// 使用 TEXT 类型存储，流式响应的最终文本可能较长
	Content string `gorm:"type:text;not null" json:"content"`

	// CreatedAt 消息创建时间
	// 加载历史消息时按此字段正序排列
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at,omitempty"`
}

// TableName 指定表名
func (Message) TableName() string {
	return "messages"
}

// BeforeCreate 在插入前生成 UUID 主键
func (m *Message) BeforeCreate(_ *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
