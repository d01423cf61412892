// Package repository 提供数据访问层的实现
package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"techcare-server/internal/model"
)

// ConversationRepository 对话数据访问层
// 负责对话相关的所有数据库操作
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建 ConversationRepository 实例
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create 创建新对话
// 参数:
//   - ctx: 上下文
//   - conversation: 对话对象，ID 和时间字段会被自动填充
//
// 返回:
//   - error: 数据库错误
func (r *ConversationRepository) Create(ctx context.Context, conversation *model.Conversation) error {
	return r.db.WithContext(ctx).Create(conversation).Error
}

// GetByID 根据 ID 获取对话
// 参数:
//   - ctx: 上下文
//   - id: 对话ID
//
// 返回:
//   - *model.Conversation: 对话对象，未找到返回 nil
//   - error: 数据库错误
func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	var conversation model.Conversation
	err := r.db.WithContext(ctx).First(&conversation, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conversation, nil
}

// List 获取所有对话
// 按最后更新时间倒序排列（最近活跃的在前）
// 参数:
//   - ctx: 上下文
//
// 返回:
//   - []model.Conversation: 对话列表
//   - error: 数据库错误
func (r *ConversationRepository) List(ctx context.Context) ([]model.Conversation, error) {
	var conversations []model.Conversation
	err := r.db.WithContext(ctx).
		Order("updated_at DESC").
		Find(&conversations).Error
	return conversations, err
}

// UpdateTitle 更新对话标题
// 参数:
//   - ctx: 上下文
//   - id: 对话ID
//   - title: 新标题
//
// 返回:
//   - error: 数据库错误
func (r *ConversationRepository) UpdateTitle(ctx context.Context, id, title string) error {
	return r.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("title", title).Error
}

// Touch 刷新对话的最后更新时间
// 每次有新消息写入时调用，保证列表排序正确
// 参数:
//   - ctx: 上下文
//   - id: 对话ID
//
// 返回:
//   - error: 数据库错误
func (r *ConversationRepository) Touch(ctx context.Context, id string) error {
	// 只更新 updated_at，借助 gorm 的 autoUpdateTime
	return r.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("updated_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
}

// Delete 删除对话及其所有消息
// 在同一个事务中先删消息再删对话，保证不留孤儿行
// 参数:
//   - ctx: 上下文
//   - id: 对话ID
//
// 返回:
//   - error: 数据库错误
func (r *ConversationRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.Conversation{}).Error
	})
}
