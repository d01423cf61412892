package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"techcare-server/internal/model"
)

func TestChatService_SendMessage_CreatesConversation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var streamed []string
	final, err := env.chat.SendMessage(ctx, "s1", &SendRequest{
		Content:  "My wifi keeps dropping",
		Category: "network",
	}, func(accumulated string) {
		streamed = append(streamed, accumulated)
	})
	require.NoError(t, err)
	assert.Equal(t, "Try restarting.", final)
	assert.Equal(t, []string{"Try ", "Try restarting."}, streamed)

	// 对话被懒创建，标题取自第一条消息，分类取自请求
	conv := env.sessions.Conversation("s1")
	require.NotNil(t, conv)
	assert.Equal(t, "My wifi keeps dropping", conv.Title)
	require.NotNil(t, conv.Category)
	assert.Equal(t, "network", *conv.Category)

	// 用户消息和助手消息都已持久化
	messages, err := env.msgRepo.ListByConversationID(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, model.MessageRoleUser, messages[0].Role)
	assert.Equal(t, model.MessageRoleAssistant, messages[1].Role)
	assert.Equal(t, "Try restarting.", messages[1].Content)

	// 本地末尾的助手消息换成了持久化后的行
	local := env.sessions.MessagesSnapshot("s1")
	require.Len(t, local, 2)
	assert.NotEmpty(t, local[1].ID)

	// 活跃对话被记录
	active, err := env.cache.GetActiveConversation(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, active)
}

func TestChatService_SendMessage_TruncatesLongTitle(t *testing.T) {
	env := newTestEnv(t)

	long := strings.Repeat("a", 60)
	_, err := env.chat.SendMessage(context.Background(), "s1", &SendRequest{Content: long}, nil)
	require.NoError(t, err)

	conv := env.sessions.Conversation("s1")
	require.NotNil(t, conv)
	assert.Equal(t, strings.Repeat("a", 50)+"...", conv.Title)
}

func TestChatService_SendMessage_ReusesConversation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.chat.SendMessage(ctx, "s1", &SendRequest{Content: "first message"}, nil)
	require.NoError(t, err)
	firstConv := env.sessions.Conversation("s1")

	_, err = env.chat.SendMessage(ctx, "s1", &SendRequest{Content: "second message"}, nil)
	require.NoError(t, err)

	// 没有创建新对话，标题保持第一条消息的样子
	conv := env.sessions.Conversation("s1")
	assert.Equal(t, firstConv.ID, conv.ID)
	assert.Equal(t, "first message", conv.Title)

	list, err := env.conversations.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	messages, err := env.msgRepo.ListByConversationID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 4)
}

// 选中一个还没有任何消息的既有对话后发送：
// 第一条消息把默认标题换成消息内容的截断
func TestChatService_SendMessage_TitlesEmptyConversation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	conv, err := env.conversations.Create(ctx, "", "")
	require.NoError(t, err)
	_, err = env.conversations.Select(ctx, "s1", conv.ID)
	require.NoError(t, err)

	_, err = env.chat.SendMessage(ctx, "s1", &SendRequest{Content: "Screen flickers on boot"}, nil)
	require.NoError(t, err)

	stored, err := env.convRepo.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Screen flickers on boot", stored.Title)
	assert.Equal(t, "Screen flickers on boot", env.sessions.Conversation("s1").Title)
}

func TestChatService_SendMessage_HistoryIncludesSystemPrompt(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.chat.SendMessage(context.Background(), "s1", &SendRequest{Content: "help me"}, nil)
	require.NoError(t, err)

	history := env.completer.lastHistory()
	require.NotEmpty(t, history)
	assert.Equal(t, "system", history[0].Role)
	assert.Equal(t, "user", history[len(history)-1].Role)
	assert.Equal(t, "help me", history[len(history)-1].Content)
}

func TestChatService_SendMessage_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.chat.SendMessage(ctx, "s1", &SendRequest{Content: "   "}, nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = env.chat.SendMessage(ctx, "s1", &SendRequest{Content: "hi", Category: "cooking"}, nil)
	assert.ErrorIs(t, err, ErrInvalidCategory)
}

func TestChatService_SendMessage_RejectsConcurrentSend(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 锁已被占用：另一个发送还在进行中
	acquired, err := env.cache.AcquireSendLock(ctx, "s1", 0)
	require.NoError(t, err)
	require.True(t, acquired)

	_, err = env.chat.SendMessage(ctx, "s1", &SendRequest{Content: "hi"}, nil)
	assert.ErrorIs(t, err, ErrSendInFlight)

	// 其他会话不受影响
	_, err = env.chat.SendMessage(ctx, "s2", &SendRequest{Content: "hi"}, nil)
	assert.NoError(t, err)
}

func TestChatService_SendMessage_StreamFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.completer.err = errors.New("upstream exploded")

	_, err := env.chat.SendMessage(ctx, "s1", &SendRequest{Content: "doomed message"}, nil)
	require.Error(t, err)

	// 本地状态回滚：乐观追加的用户消息被移除
	assert.Empty(t, env.sessions.MessagesSnapshot("s1"))

	// 失败前写入存储的用户消息行保留，没有助手消息
	conv := env.sessions.Conversation("s1")
	require.NotNil(t, conv)
	messages, listErr := env.msgRepo.ListByConversationID(ctx, conv.ID)
	require.NoError(t, listErr)
	require.Len(t, messages, 1)
	assert.Equal(t, model.MessageRoleUser, messages[0].Role)

	// 锁已释放，重试可以进行
	env.completer.err = nil
	_, err = env.chat.SendMessage(ctx, "s1", &SendRequest{Content: "retry"}, nil)
	assert.NoError(t, err)
}

func TestChatService_SendMessage_ReleasesLockAfterDisconnect(t *testing.T) {
	env := newTestEnv(t)

	// 浏览器断开：流进行到一半时请求上下文被取消
	ctx, cancel := context.WithCancel(context.Background())
	env.completer.hook = cancel

	_, err := env.chat.SendMessage(ctx, "s1", &SendRequest{Content: "my wifi keeps dropping"}, nil)
	require.Error(t, err)

	// 锁不能跟着取消一起失效，否则同会话要等 TTL 过期才能重试
	assert.False(t, env.cache.lockHeld("s1"))

	env.completer.hook = nil
	reply, err := env.chat.SendMessage(context.Background(), "s1", &SendRequest{Content: "trying again"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Try restarting.", reply)
}

func TestChatService_SendMessage_LoadingFlagLifecycle(t *testing.T) {
	env := newTestEnv(t)

	var loadingDuringStream bool
	_, err := env.chat.SendMessage(context.Background(), "s1", &SendRequest{Content: "hi"}, func(string) {
		loadingDuringStream = env.sessions.IsLoading("s1")
	})
	require.NoError(t, err)

	assert.True(t, loadingDuringStream)
	assert.False(t, env.sessions.IsLoading("s1"))
}

func TestChatService_Diagnosis(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 新会话：空闲
	diag := env.chat.Diagnosis(ctx, "s1")
	assert.Equal(t, DiagnosisStatusIdle, diag.Status)
	assert.Zero(t, diag.IssuesFound)
	assert.Zero(t, diag.FixesApplied)

	// 一次快捷修复发送后：完成，计数各加一
	_, err := env.chat.SendMessage(ctx, "s1", &SendRequest{
		Content:  "Help me with: Clear Cache & Cookies",
		QuickFix: true,
	}, nil)
	require.NoError(t, err)

	diag = env.chat.Diagnosis(ctx, "s1")
	assert.Equal(t, DiagnosisStatusComplete, diag.Status)
	assert.Equal(t, 1, diag.IssuesFound)
	assert.Equal(t, int64(1), diag.FixesApplied)

	// 标题不超过 50 字符，原样保留，不截断
	assert.Equal(t, "Help me with: Clear Cache & Cookies", env.sessions.Conversation("s1").Title)

	// 普通发送不增加修复计数
	_, err = env.chat.SendMessage(ctx, "s1", &SendRequest{Content: "still broken"}, nil)
	require.NoError(t, err)

	diag = env.chat.Diagnosis(ctx, "s1")
	assert.Equal(t, 2, diag.IssuesFound)
	assert.Equal(t, int64(1), diag.FixesApplied)
}

// 发送锁是强制的：缓存不可用时发送直接失败，
// 而不是绕过互斥继续
func TestChatService_SendMessage_CacheFailureRejectsSend(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.cache.failAll = true
	defer func() { env.cache.failAll = false }()

	_, err := env.chat.SendMessage(ctx, "s1", &SendRequest{Content: "hi"}, nil)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSendInFlight)
}
