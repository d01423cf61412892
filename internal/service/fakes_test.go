package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"techcare-server/internal/llm"
	"techcare-server/internal/model"
	"techcare-server/internal/repository"
	"techcare-server/pkg/jwt"
)

// fakeCache SessionCache 的内存实现
type fakeCache struct {
	mu      sync.Mutex
	active  map[string]string
	locks   map[string]bool
	fixes   map[string]int64
	failAll bool // 注入缓存故障
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		active: make(map[string]string),
		locks:  make(map[string]bool),
		fixes:  make(map[string]int64),
	}
}

var errCacheDown = errors.New("cache unavailable")

func (f *fakeCache) SetActiveConversation(_ context.Context, sessionID, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errCacheDown
	}
	f.active[sessionID] = conversationID
	return nil
}

func (f *fakeCache) GetActiveConversation(_ context.Context, sessionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return "", errCacheDown
	}
	return f.active[sessionID], nil
}

func (f *fakeCache) ClearActiveConversation(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errCacheDown
	}
	delete(f.active, sessionID)
	return nil
}

func (f *fakeCache) AcquireSendLock(_ context.Context, sessionID string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return false, errCacheDown
	}
	if f.locks[sessionID] {
		return false, nil
	}
	f.locks[sessionID] = true
	return true, nil
}

func (f *fakeCache) ReleaseSendLock(ctx context.Context, sessionID string) error {
	// 与 go-redis 一致：上下文已取消时拒绝执行
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locks, sessionID)
	return nil
}

func (f *fakeCache) lockHeld(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locks[sessionID]
}

func (f *fakeCache) IncrFixesApplied(_ context.Context, sessionID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return 0, errCacheDown
	}
	f.fixes[sessionID]++
	return f.fixes[sessionID], nil
}

func (f *fakeCache) GetFixesApplied(_ context.Context, sessionID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return 0, errCacheDown
	}
	return f.fixes[sessionID], nil
}

// fakeCompleter Completer 的可编程实现
// 按 chunks 逐帧回调增量，记录收到的消息历史
type fakeCompleter struct {
	chunks []string
	err    error
	hook   func() // 回放增量前调用，模拟流中途的外部事件

	mu       sync.Mutex
	received [][]llm.ChatMessage
}

func (f *fakeCompleter) StreamChat(ctx context.Context, messages []llm.ChatMessage, onDelta llm.DeltaFunc) (string, error) {
	f.mu.Lock()
	f.received = append(f.received, messages)
	f.mu.Unlock()

	if f.hook != nil {
		f.hook()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}

	var accumulated strings.Builder
	for _, chunk := range f.chunks {
		accumulated.WriteString(chunk)
		if onDelta != nil {
			onDelta(chunk, accumulated.String())
		}
	}
	return accumulated.String(), nil
}

func (f *fakeCompleter) lastHistory() []llm.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.received) == 0 {
		return nil
	}
	return f.received[len(f.received)-1]
}

// newTestDB 打开内存 sqlite 并迁移表结构
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Conversation{}, &model.Message{}))
	return db
}

// testEnv 一套完整的服务层测试环境
type testEnv struct {
	db            *gorm.DB
	cache         *fakeCache
	completer     *fakeCompleter
	sessions      *SessionService
	conversations *ConversationService
	chat          *ChatService
	convRepo      *repository.ConversationRepository
	msgRepo       *repository.MessageRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	cache := newFakeCache()
	completer := &fakeCompleter{chunks: []string{"Try ", "restarting."}}
	log := zap.NewNop()

	jwtService := jwt.NewJWTService("test-secret-test-secret-test-secret", time.Hour)
	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)

	sessions := NewSessionService(jwtService, cache, log, time.Hour)
	conversations := NewConversationService(convRepo, msgRepo, sessions, cache, log)
	chat := NewChatService(completer, sessions, conversations, msgRepo, convRepo, cache, log, time.Minute)

	return &testEnv{
		db:            db,
		cache:         cache,
		completer:     completer,
		sessions:      sessions,
		conversations: conversations,
		chat:          chat,
		convRepo:      convRepo,
		msgRepo:       msgRepo,
	}
}
