// Package model 定义了与数据库表对应的数据结构
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation 对话模型
// 对应数据库表 conversations
// 表示用户与排障助手的一次完整对话
// 对话在用户发送第一条消息时才会真正创建（懒创建）
type Conversation struct {
	// ID 对话唯一标识
	// 使用 UUID 字符串，由服务端在创建时生成，对客户端不透明
	ID string `gorm:"type:char(36);primaryKey" json:"id"`

	// Title 对话标题
	// 默认为 "New Chat"，在第一条用户消息写入时
	// 由该消息内容截断生成，此后不再自动修改
	Title string `gorm:"size:100;not null;default:'New Chat'" json:"title"`

	// Category 问题分类标签
	// 取值为固定枚举之一（见 Categories），未选择时为 NULL
	// 仅在对话创建时记录一次
	Category *string `gorm:"size:20" json:"category"`

	// CreatedAt 创建时间，由 GORM 自动填充
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	// UpdatedAt 最后更新时间，由 GORM 自动更新
	// 对话列表按此字段倒序排列
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Messages 对话中的所有消息（一对多关系）
	Messages []Message `gorm:"foreignKey:ConversationID" json:"messages,omitempty"`
}

// TableName 指定表名
func (Conversation) TableName() string {
	return "conversations"
}

// BeforeCreate 在插入前生成 UUID 主键
// MySQL 没有 uuid 默认值表达式，在应用层生成
func (c *Conversation) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// DefaultTitle 未提供标题时使用的默认标题
const DefaultTitle = "New Chat"
