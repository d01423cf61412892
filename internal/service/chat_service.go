// Package service 提供业务逻辑层的实现
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"techcare-server/internal/llm"
	"techcare-server/internal/model"
	"techcare-server/internal/repository"
	"techcare-server/pkg/util"
)

// 发送流程相关错误
var (
	ErrEmptyMessage = errors.New("message must not be empty")
	ErrSendInFlight = errors.New("a message is already being processed")
)

// titleMaxRunes 标题截断长度
// 对话标题取第一条用户消息的前 50 个字符
const titleMaxRunes = 50

// systemPrompt 排障助手的系统提示词
// 随每次补全请求一起发送，不持久化、不计入对话历史
const systemPrompt = "You are a helpful technical troubleshooting assistant. " +
	"Help users diagnose and fix software, hardware, network, system, mobile and server issues. " +
	"Ask clarifying questions when the problem is ambiguous, and give concrete, step-by-step fixes."

// Completer 补全服务客户端
// 抽象为接口以便测试时注入假实现
type Completer interface {
	StreamChat(ctx context.Context, messages []llm.ChatMessage, onDelta llm.DeltaFunc) (string, error)
}

// ChatService 发送流程服务
// 驱动一次发送的完整状态机：
// idle -> sending -> streaming -> settled / failed
type ChatService struct {
	completer     Completer
	sessions      *SessionService
	conversations *ConversationService
	messageRepo   *repository.MessageRepository
	convRepo      *repository.ConversationRepository
	cache         SessionCache
	logger        *zap.Logger
	lockTTL       time.Duration // 发送锁的自动过期时间
}

// NewChatService 创建 ChatService 实例
// lockTTL 应大于补全请求的超时，保证锁先于请求超时不会提前失效
func NewChatService(
	completer Completer,
	sessions *SessionService,
	conversations *ConversationService,
	messageRepo *repository.MessageRepository,
	convRepo *repository.ConversationRepository,
	cache SessionCache,
	logger *zap.Logger,
	lockTTL time.Duration,
) *ChatService {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &ChatService{
		completer:     completer,
		sessions:      sessions,
		conversations: conversations,
		messageRepo:   messageRepo,
		convRepo:      convRepo,
		cache:         cache,
		logger:        logger,
		lockTTL:       lockTTL,
	}
}

// SendRequest 发送消息请求
type SendRequest struct {
	Content  string `json:"content"`             // 用户输入的文本
	Category string `json:"category,omitempty"`  // 当前选中的分类，可为空
	QuickFix bool   `json:"quick_fix,omitempty"` // 是否由快捷修复触发
}

// SendMessage 执行一次完整的发送周期
// 每个增量通过 onDelta 回调（参数为累积到当前的完整助手文本），
// 返回值为最终的助手文本。
// 失败时回滚本地的乐观用户消息并返回错误；已持久化的
// 用户消息行不做服务端回滚。
// 参数:
//   - ctx: 上下文
//   - sessionID: 浏览器会话ID
//   - req: 发送请求
//   - onDelta: 增量回调，可以为 nil
//
// 返回:
//   - string: 最终助手文本
//   - error: 发送错误
func (s *ChatService) SendMessage(ctx context.Context, sessionID string, req *SendRequest, onDelta func(accumulated string)) (string, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return "", ErrEmptyMessage
	}
	if req.Category != "" && !model.IsValidCategory(req.Category) {
		return "", ErrInvalidCategory
	}

	// 进入 sending：获取会话的发送互斥锁
	// 同一会话一次只允许一个发送周期；锁带 TTL，
	// 即使流程异常中断也不会永久卡死
	acquired, err := s.cache.AcquireSendLock(ctx, sessionID, s.lockTTL)
	if err != nil {
		return "", fmt.Errorf("failed to acquire send lock: %w", err)
	}
	if !acquired {
		return "", ErrSendInFlight
	}
	// 释放锁必须用脱离请求取消的上下文：
	// 浏览器断开后请求 ctx 已取消，DEL 会被拒绝，锁只能等 TTL 过期
	releaseCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := s.cache.ReleaseSendLock(releaseCtx, sessionID); err != nil {
			s.logger.Warn("failed to release send lock", zap.Error(err))
		}
	}()

	s.sessions.SetLoading(sessionID, true)
	defer s.sessions.SetLoading(sessionID, false)

	// 懒创建对话：没有活跃对话时由第一条消息创建
	// 标题取输入的截断，分类取当前选中的过滤器
	conversation := s.sessions.Conversation(sessionID)
	created := false
	if conversation == nil {
		conversation, err = s.conversations.Create(ctx, util.TruncateRunes(content, titleMaxRunes), req.Category)
		if err != nil {
			// 创建失败中止整个发送，不触碰消息状态
			return "", err
		}
		created = true
		s.sessions.SetConversation(sessionID, conversation, nil)
		if cacheErr := s.cache.SetActiveConversation(ctx, sessionID, conversation.ID); cacheErr != nil {
			s.logger.Warn("failed to record active conversation", zap.Error(cacheErr))
		}
	}

	// 既有对话的第一条消息：补一次标题（只此一次）
	// 懒创建的对话标题已经在创建时生成，跳过
	if !created {
		count, countErr := s.messageRepo.CountByConversationID(ctx, conversation.ID)
		if countErr != nil {
			s.logger.Warn("failed to count messages", zap.Error(countErr))
		} else if count == 0 {
			s.conversations.UpdateTitleQuiet(ctx, sessionID, conversation.ID, util.TruncateRunes(content, titleMaxRunes))
		}
	}

	// 乐观追加用户消息到本地状态，随后持久化
	userMessage := model.Message{
		ConversationID: conversation.ID,
		Role:           model.MessageRoleUser,
		Content:        content,
	}
	s.sessions.AppendMessage(sessionID, userMessage)

	persistedUser := userMessage
	if err = s.messageRepo.Create(ctx, &persistedUser); err != nil {
		s.sessions.RollbackSend(sessionID)
		return "", fmt.Errorf("failed to save message: %w", err)
	}
	if err = s.convRepo.Touch(ctx, conversation.ID); err != nil {
		s.logger.Warn("failed to touch conversation", zap.Error(err))
	}

	// 进入 streaming：历史快照在此刻取定
	// （既有消息 + 刚加入的用户消息），之后不再重读
	history := s.buildHistory(sessionID)

	finalContent, err := s.completer.StreamChat(ctx, history, func(_, accumulated string) {
		s.sessions.ReconcileAssistantDelta(sessionID, accumulated)
		if onDelta != nil {
			onDelta(accumulated)
		}
	})
	if err != nil {
		// 失败：回滚乐观用户消息和未完成的助手消息
		s.logger.Error("completion stream failed",
			zap.String("conversation_id", conversation.ID),
			zap.Error(err))
		s.sessions.RollbackSend(sessionID)
		return "", err
	}

	// settled：累积内容非空时持久化一条助手消息
	// 持久化失败属于后台写入，只记录日志，本地内容保留
	if finalContent != "" {
		assistantMessage := model.Message{
			ConversationID: conversation.ID,
			Role:           model.MessageRoleAssistant,
			Content:        finalContent,
		}
		if persistErr := s.messageRepo.Create(ctx, &assistantMessage); persistErr != nil {
			s.logger.Error("failed to save assistant message",
				zap.String("conversation_id", conversation.ID),
				zap.Error(persistErr))
		} else {
			s.sessions.FinalizeAssistant(sessionID, assistantMessage)
			if touchErr := s.convRepo.Touch(ctx, conversation.ID); touchErr != nil {
				s.logger.Warn("failed to touch conversation", zap.Error(touchErr))
			}
		}
	}

	// 快捷修复发送成功后累积"已应用修复"计数
	if req.QuickFix {
		if _, incrErr := s.cache.IncrFixesApplied(ctx, sessionID); incrErr != nil {
			s.logger.Warn("failed to increment fixes counter", zap.Error(incrErr))
		}
	}

	return finalContent, nil
}

// buildHistory 构造发往补全服务的消息历史
// 系统提示词在最前，之后是本地快照里的全部消息
func (s *ChatService) buildHistory(sessionID string) []llm.ChatMessage {
	snapshot := s.sessions.MessagesSnapshot(sessionID)
	history := make([]llm.ChatMessage, 0, len(snapshot)+1)
	history = append(history, llm.ChatMessage{Role: "system", Content: systemPrompt})
	for _, m := range snapshot {
		history = append(history, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return history
}

// DiagnosisResponse 诊断面板状态
type DiagnosisResponse struct {
	Status       string `json:"status"`        // idle / analyzing / complete
	IssuesFound  int    `json:"issues_found"`  // 本地状态中的助手消息数
	FixesApplied int64  `json:"fixes_applied"` // 快捷修复成功次数
}

// 诊断状态常量
const (
	DiagnosisStatusIdle      = "idle"
	DiagnosisStatusAnalyzing = "analyzing"
	DiagnosisStatusComplete  = "complete"
)

// Diagnosis 返回会话的诊断面板状态
// 正在发送时为 analyzing，有过消息则为 complete，否则 idle
// 已发现问题数取活跃对话中已持久化的助手消息数，
// 没有活跃对话或查询失败时退回本地快照计数
func (s *ChatService) Diagnosis(ctx context.Context, sessionID string) *DiagnosisResponse {
	snapshot := s.sessions.Snapshot(sessionID)

	issues := 0
	for _, m := range snapshot.Messages {
		if m.Role == model.MessageRoleAssistant {
			issues++
		}
	}
	if snapshot.Conversation != nil {
		count, err := s.messageRepo.CountAssistantByConversationID(ctx, snapshot.Conversation.ID)
		if err != nil {
			s.logger.Warn("failed to count assistant messages", zap.Error(err))
		} else {
			issues = int(count)
		}
	}

	status := DiagnosisStatusIdle
	switch {
	case snapshot.IsLoading:
		status = DiagnosisStatusAnalyzing
	case len(snapshot.Messages) > 0:
		status = DiagnosisStatusComplete
	}

	fixes, err := s.cache.GetFixesApplied(ctx, sessionID)
	if err != nil {
		s.logger.Warn("failed to read fixes counter", zap.Error(err))
	}

	return &DiagnosisResponse{
		Status:       status,
		IssuesFound:  issues,
		FixesApplied: fixes,
	}
}
