// Package repository 提供数据访问层的实现
package repository

import (
	"context"

	"gorm.io/gorm"
	"techcare-server/internal/model"
)

// MessageRepository 消息数据访问层
// 负责消息相关的所有数据库操作
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建 MessageRepository 实例
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create 创建新消息
// 参数:
//   - ctx: 上下文
//   - message: 消息对象，ID 和 CreatedAt 会被自动填充
//
// 返回:
//   - error: 数据库错误
func (r *MessageRepository) Create(ctx context.Context, message *model.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

// ListByConversationID 获取对话的所有消息
// 按创建时间正序排列（最早的在前）
// 参数:
//   - ctx: 上下文
//   - conversationID: 对话ID
//
// 返回:
//   - []model.Message: 消息列表
//   - error: 数据库错误
func (r *MessageRepository) ListByConversationID(ctx context.Context, conversationID string) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC"). // 按时间正序，方便展示对话
		Find(&messages).Error
	return messages, err
}

// CountByConversationID 统计对话的消息数量
// 用于判断是否为对话的第一条消息（决定是否更新标题）
// 参数:
//   - ctx: 上下文
//   - conversationID: 对话ID
//
// 返回:
//   - int64: 消息数量
//   - error: 数据库错误
func (r *MessageRepository) CountByConversationID(ctx context.Context, conversationID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error
	return count, err
}

// CountAssistantByConversationID 统计对话中助手消息的数量
// 诊断面板以此作为"已发现问题"的计数
// 参数:
//   - ctx: 上下文
//   - conversationID: 对话ID
//
// 返回:
//   - int64: 助手消息数量
//   - error: 数据库错误
func (r *MessageRepository) CountAssistantByConversationID(ctx context.Context, conversationID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("conversation_id = ? AND role = ?", conversationID, model.MessageRoleAssistant).
		Count(&count).Error
	return count, err
}
