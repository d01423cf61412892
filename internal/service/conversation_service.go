// Package service 提供业务逻辑层的实现
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"techcare-server/internal/model"
	"techcare-server/internal/repository"
	"techcare-server/pkg/util"
)

// 对话服务相关错误
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidCategory      = errors.New("invalid category")
	ErrEmptyTitle           = errors.New("title must not be empty")
)

// ConversationService 对话服务
// 封装对话的增删查改，并维护会话本地状态与存储的一致
type ConversationService struct {
	conversationRepo *repository.ConversationRepository // 对话数据访问层
	messageRepo      *repository.MessageRepository      // 消息数据访问层
	sessions         *SessionService                    // 会话本地状态
	cache            SessionCache                       // 缓存
	logger           *zap.Logger
}

// NewConversationService 创建 ConversationService 实例
func NewConversationService(
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	sessions *SessionService,
	cache SessionCache,
	logger *zap.Logger,
) *ConversationService {
	return &ConversationService{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		sessions:         sessions,
		cache:            cache,
		logger:           logger,
	}
}

// List 获取所有对话
// 按最后更新时间倒序排列
func (s *ConversationService) List(ctx context.Context) ([]model.Conversation, error) {
	conversations, err := s.conversationRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return conversations, nil
}

// Create 创建新对话
// 标题为空时使用默认标题，分类必须在固定枚举内或为空
// 参数:
//   - ctx: 上下文
//   - title: 标题，可为空
//   - category: 分类，可为空
//
// 返回:
//   - *model.Conversation: 创建的对话（含后端分配的 ID 和时间戳）
//   - error: 校验或数据库错误
func (s *ConversationService) Create(ctx context.Context, title, category string) (*model.Conversation, error) {
	if title == "" {
		title = model.DefaultTitle
	}

	conversation := &model.Conversation{Title: title}
	if category != "" {
		if !model.IsValidCategory(category) {
			return nil, ErrInvalidCategory
		}
		conversation.Category = util.StringPtr(category)
	}

	if err := s.conversationRepo.Create(ctx, conversation); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conversation, nil
}

// Select 选择一个历史对话
// 加载对话及其消息（按创建时间正序）到会话本地状态，
// 并在缓存中记录活跃对话，页面刷新后可以恢复
func (s *ConversationService) Select(ctx context.Context, sessionID, conversationID string) (*StateResponse, error) {
	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conversation == nil {
		return nil, ErrConversationNotFound
	}

	messages, err := s.messageRepo.ListByConversationID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	s.sessions.SetConversation(sessionID, conversation, messages)
	if err := s.cache.SetActiveConversation(ctx, sessionID, conversationID); err != nil {
		// 缓存失败只影响刷新后的恢复，不影响本次选择
		s.logger.Warn("failed to record active conversation", zap.Error(err))
	}

	return s.sessions.Snapshot(sessionID), nil
}

// Restore 恢复会话上次的活跃对话
// 本地状态为空且缓存里记录了活跃对话时，重新加载它；
// 对话已被删除或没有记录时保持空状态
func (s *ConversationService) Restore(ctx context.Context, sessionID string) *StateResponse {
	if s.sessions.Conversation(sessionID) != nil {
		return s.sessions.Snapshot(sessionID)
	}

	conversationID, err := s.cache.GetActiveConversation(ctx, sessionID)
	if err != nil {
		s.logger.Warn("failed to read active conversation", zap.Error(err))
		return s.sessions.Snapshot(sessionID)
	}
	if conversationID == "" {
		return s.sessions.Snapshot(sessionID)
	}

	state, err := s.Select(ctx, sessionID, conversationID)
	if err != nil {
		// 对话可能已经被删除，静默退回空状态
		return s.sessions.Snapshot(sessionID)
	}
	return state
}

// Rename 更新对话标题
// 用户在历史列表里手动重命名时调用
func (s *ConversationService) Rename(ctx context.Context, sessionID, conversationID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}

	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}
	if conversation == nil {
		return ErrConversationNotFound
	}

	if err := s.conversationRepo.UpdateTitle(ctx, conversationID, title); err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}

	s.sessions.UpdateTitleIfActive(sessionID, conversationID, title)
	return nil
}

// UpdateTitleQuiet 更新对话标题（后台路径）
// 第一条用户消息写入后由发送流程调用；
// 失败只记录日志，不向用户反馈
func (s *ConversationService) UpdateTitleQuiet(ctx context.Context, sessionID, conversationID, title string) {
	if err := s.conversationRepo.UpdateTitle(ctx, conversationID, title); err != nil {
		s.logger.Error("failed to update conversation title",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return
	}
	s.sessions.UpdateTitleIfActive(sessionID, conversationID, title)
}

// Delete 删除对话及其消息
// 如果删除的是会话的活跃对话，同时清空本地状态
func (s *ConversationService) Delete(ctx context.Context, sessionID, conversationID string) error {
	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}
	if conversation == nil {
		return ErrConversationNotFound
	}

	if err := s.conversationRepo.Delete(ctx, conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	s.sessions.ClearIfActive(ctx, sessionID, conversationID)
	return nil
}
