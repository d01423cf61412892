// Package service 提供业务逻辑层的实现
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"techcare-server/internal/model"
	"techcare-server/pkg/jwt"
)

// SessionCache 会话相关的缓存操作
// 抽象为接口以便测试时注入内存实现
type SessionCache interface {
	SetActiveConversation(ctx context.Context, sessionID, conversationID string) error
	GetActiveConversation(ctx context.Context, sessionID string) (string, error)
	ClearActiveConversation(ctx context.Context, sessionID string) error
	AcquireSendLock(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)
	ReleaseSendLock(ctx context.Context, sessionID string) error
	IncrFixesApplied(ctx context.Context, sessionID string) (int64, error)
	GetFixesApplied(ctx context.Context, sessionID string) (int64, error)
}

// sessionState 单个浏览器会话的本地对话状态
// 对应原页面里的一组前端状态：当前对话、消息快照、加载标记
// 消息列表只会被当前会话的单一发送流程修改（发送锁保证），
// 互斥锁只用于保护并发读（如状态查询接口）
type sessionState struct {
	mu           sync.Mutex
	conversation *model.Conversation // 当前活跃对话，可能为 nil
	messages     []model.Message     // 本地消息快照，按时间正序
	isLoading    bool                // 是否有发送周期在进行中
	lastSeen     time.Time           // 最后一次被访问的时间，供空闲回收用
}

// SessionService 会话服务
// 负责匿名会话令牌的签发和每个会话的本地对话状态
type SessionService struct {
	jwtService *jwt.JWTService
	cache      SessionCache
	logger     *zap.Logger
	stateTTL   time.Duration // 本地状态的空闲回收期限

	mu     sync.RWMutex
	states map[string]*sessionState
}

// sweepInterval 空闲状态回收的扫描间隔
const sweepInterval = time.Hour

// NewSessionService 创建 SessionService 实例
// stateTTL 取令牌有效期：令牌过期后对应的本地状态不会再被访问
func NewSessionService(jwtService *jwt.JWTService, cache SessionCache, logger *zap.Logger, stateTTL time.Duration) *SessionService {
	if stateTTL <= 0 {
		stateTTL = 168 * time.Hour
	}
	return &SessionService{
		jwtService: jwtService,
		cache:      cache,
		logger:     logger,
		stateTTL:   stateTTL,
		states:     make(map[string]*sessionState),
	}
}

// StartSweeper 启动后台回收循环
// states 按会话 ID 惰性创建，不回收会随见过的会话数无限增长
func (s *SessionService) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := s.sweepExpired(time.Now()); removed > 0 {
					s.logger.Info("swept idle session states", zap.Int("removed", removed))
				}
			}
		}
	}()
}

// sweepExpired 清理超过 stateTTL 未被访问的会话状态
// 发送周期进行中的会话跳过
func (s *SessionService) sweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, st := range s.states {
		st.mu.Lock()
		expired := !st.isLoading && now.Sub(st.lastSeen) > s.stateTTL
		st.mu.Unlock()
		if expired {
			delete(s.states, id)
			removed++
		}
	}
	return removed
}

// SessionResponse 会话创建响应
type SessionResponse struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

// CreateSession 创建匿名会话并签发令牌
// 系统没有账号体系，一个令牌就代表一个浏览器标签页
// 返回:
//   - *SessionResponse: 会话 ID 和令牌
//   - error: 签发错误
func (s *SessionService) CreateSession(_ context.Context) (*SessionResponse, error) {
	sessionID := uuid.NewString()
	token, err := s.jwtService.GenerateSessionToken(sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionResponse{SessionID: sessionID, Token: token}, nil
}

// state 获取会话的本地状态，不存在时惰性创建
// 每次访问刷新 lastSeen，空闲回收以此为准
func (s *SessionService) state(sessionID string) *sessionState {
	s.mu.RLock()
	st, ok := s.states[sessionID]
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		if st, ok = s.states[sessionID]; !ok {
			st = &sessionState{}
			s.states[sessionID] = st
		}
		s.mu.Unlock()
	}

	st.mu.Lock()
	st.lastSeen = time.Now()
	st.mu.Unlock()
	return st
}

// StateResponse 本地对话状态响应
type StateResponse struct {
	Conversation *model.Conversation `json:"conversation"`
	Messages     []model.Message     `json:"messages"`
	IsLoading    bool                `json:"is_loading"`
}

// Snapshot 返回会话当前本地状态的副本
func (s *SessionService) Snapshot(sessionID string) *StateResponse {
	st := s.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	messages := make([]model.Message, len(st.messages))
	copy(messages, st.messages)

	return &StateResponse{
		Conversation: st.conversation,
		Messages:     messages,
		IsLoading:    st.isLoading,
	}
}

// Conversation 返回会话当前的活跃对话，可能为 nil
func (s *SessionService) Conversation(sessionID string) *model.Conversation {
	st := s.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.conversation
}

// MessagesSnapshot 返回会话本地消息的副本
// 发送周期在调用时刻取一次快照作为发往补全服务的历史
func (s *SessionService) MessagesSnapshot(sessionID string) []model.Message {
	st := s.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	messages := make([]model.Message, len(st.messages))
	copy(messages, st.messages)
	return messages
}

// SetConversation 设置会话的活跃对话和消息快照
// 选择历史对话或懒创建新对话时调用
func (s *SessionService) SetConversation(sessionID string, conversation *model.Conversation, messages []model.Message) {
	st := s.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.conversation = conversation
	st.messages = messages
}

// StartNewChat 清空会话的本地状态，开始新对话
// 同时清除缓存中记录的活跃对话
func (s *SessionService) StartNewChat(ctx context.Context, sessionID string) {
	st := s.state(sessionID)
	st.mu.Lock()
	st.conversation = nil
	st.messages = nil
	st.mu.Unlock()

	if err := s.cache.ClearActiveConversation(ctx, sessionID); err != nil {
		// 缓存失败不影响本地状态，只记录
		s.logger.Warn("failed to clear active conversation", zap.Error(err))
	}
}

// SetLoading 设置会话的加载标记
func (s *SessionService) SetLoading(sessionID string, loading bool) {
	st := s.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.isLoading = loading
}

// IsLoading 会话是否有发送周期在进行中
func (s *SessionService) IsLoading(sessionID string) bool {
	st := s.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.isLoading
}

// AppendMessage 向会话的本地消息列表追加一条消息
func (s *SessionService) AppendMessage(sessionID string, message model.Message) {
	st := s.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.messages = append(st.messages, message)
}

// ReconcileAssistantDelta 把流式增量合并进本地状态
// 最后一条是助手消息则替换其内容为累积文本，
// 否则追加一条新的助手消息 —— 前端由此获得逐字输出的效果
func (s *SessionService) ReconcileAssistantDelta(sessionID, accumulated string) {
	st := s.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if n := len(st.messages); n > 0 && st.messages[n-1].Role == model.MessageRoleAssistant {
		st.messages[n-1].Content = accumulated
		return
	}
	st.messages = append(st.messages, model.Message{
		Role:    model.MessageRoleAssistant,
		Content: accumulated,
	})
}

// FinalizeAssistant 用持久化后的消息行替换末尾的流式助手消息
// 流结束后调用，本地消息由此获得后端分配的 ID 和时间戳
func (s *SessionService) FinalizeAssistant(sessionID string, persisted model.Message) {
	st := s.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if n := len(st.messages); n > 0 && st.messages[n-1].Role == model.MessageRoleAssistant {
		st.messages[n-1] = persisted
	}
}

// RollbackSend 回滚一次失败的发送
// 移除末尾未持久化的流式助手消息（如果有）和乐观追加的
// 用户消息，使本地状态回到发送前的样子。
// 已写入存储的用户消息行保持不动。
func (s *SessionService) RollbackSend(sessionID string) {
	st := s.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	// 流式助手消息没有 ID（未持久化）
	if n := len(st.messages); n > 0 && st.messages[n-1].Role == model.MessageRoleAssistant && st.messages[n-1].ID == "" {
		st.messages = st.messages[:n-1]
	}
	if n := len(st.messages); n > 0 && st.messages[n-1].Role == model.MessageRoleUser {
		st.messages = st.messages[:n-1]
	}
}

// UpdateTitleIfActive 同步活跃对话的标题到本地状态
func (s *SessionService) UpdateTitleIfActive(sessionID, conversationID, title string) {
	st := s.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.conversation != nil && st.conversation.ID == conversationID {
		st.conversation.Title = title
	}
}

// ClearIfActive 如果指定对话是会话的活跃对话，清空本地状态
// 删除对话后调用
// 返回:
//   - bool: 是否执行了清空
func (s *SessionService) ClearIfActive(ctx context.Context, sessionID, conversationID string) bool {
	st := s.state(sessionID)
	st.mu.Lock()
	active := st.conversation != nil && st.conversation.ID == conversationID
	if active {
		st.conversation = nil
		st.messages = nil
	}
	st.mu.Unlock()

	if active {
		if err := s.cache.ClearActiveConversation(ctx, sessionID); err != nil {
			s.logger.Warn("failed to clear active conversation", zap.Error(err))
		}
	}
	return active
}
