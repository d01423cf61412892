package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"techcare-server/internal/model"
	"techcare-server/pkg/jwt"
)

func TestSessionService_CreateSession(t *testing.T) {
	jwtService := jwt.NewJWTService("test-secret-test-secret-test-secret", time.Hour)
	s := NewSessionService(jwtService, newFakeCache(), zap.NewNop(), time.Hour)

	resp, err := s.CreateSession(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
	assert.NotEmpty(t, resp.Token)

	// 令牌能被验证并解出同一个会话 ID
	claims, err := jwtService.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.SessionID, claims.SessionID)
}

func TestSessionService_SnapshotEmpty(t *testing.T) {
	env := newTestEnv(t)

	state := env.sessions.Snapshot("s1")
	assert.Nil(t, state.Conversation)
	assert.Empty(t, state.Messages)
	assert.False(t, state.IsLoading)
}

func TestSessionService_ReconcileAssistantDelta(t *testing.T) {
	env := newTestEnv(t)

	env.sessions.AppendMessage("s1", model.Message{Role: model.MessageRoleUser, Content: "help"})

	// 第一个增量追加新的助手消息
	env.sessions.ReconcileAssistantDelta("s1", "Try")
	messages := env.sessions.MessagesSnapshot("s1")
	require.Len(t, messages, 2)
	assert.Equal(t, model.MessageRoleAssistant, messages[1].Role)
	assert.Equal(t, "Try", messages[1].Content)

	// 后续增量替换末尾助手消息的内容
	env.sessions.ReconcileAssistantDelta("s1", "Try restarting")
	messages = env.sessions.MessagesSnapshot("s1")
	require.Len(t, messages, 2)
	assert.Equal(t, "Try restarting", messages[1].Content)
}

func TestSessionService_FinalizeAssistant(t *testing.T) {
	env := newTestEnv(t)

	env.sessions.AppendMessage("s1", model.Message{Role: model.MessageRoleUser, Content: "help"})
	env.sessions.ReconcileAssistantDelta("s1", "Try restarting")

	persisted := model.Message{ID: "m-42", Role: model.MessageRoleAssistant, Content: "Try restarting"}
	env.sessions.FinalizeAssistant("s1", persisted)

	messages := env.sessions.MessagesSnapshot("s1")
	require.Len(t, messages, 2)
	assert.Equal(t, "m-42", messages[1].ID)
}

func TestSessionService_RollbackSend(t *testing.T) {
	env := newTestEnv(t)

	env.sessions.AppendMessage("s1", model.Message{ID: "old", Role: model.MessageRoleUser, Content: "earlier"})
	env.sessions.AppendMessage("s1", model.Message{ID: "old-a", Role: model.MessageRoleAssistant, Content: "earlier reply"})
	env.sessions.AppendMessage("s1", model.Message{Role: model.MessageRoleUser, Content: "failing send"})
	env.sessions.ReconcileAssistantDelta("s1", "half a rep")

	env.sessions.RollbackSend("s1")

	// 只有本次发送的两条被移除
	messages := env.sessions.MessagesSnapshot("s1")
	require.Len(t, messages, 2)
	assert.Equal(t, "old", messages[0].ID)
	assert.Equal(t, "old-a", messages[1].ID)
}

func TestSessionService_RollbackSend_NoStreamingMessage(t *testing.T) {
	env := newTestEnv(t)

	env.sessions.AppendMessage("s1", model.Message{Role: model.MessageRoleUser, Content: "failing send"})
	env.sessions.RollbackSend("s1")

	assert.Empty(t, env.sessions.MessagesSnapshot("s1"))
}

func TestSessionService_StartNewChat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	conv := &model.Conversation{ID: "c1", Title: "Printer trouble"}
	env.sessions.SetConversation("s1", conv, []model.Message{{Role: model.MessageRoleUser, Content: "hi"}})
	require.NoError(t, env.cache.SetActiveConversation(ctx, "s1", "c1"))

	env.sessions.StartNewChat(ctx, "s1")

	state := env.sessions.Snapshot("s1")
	assert.Nil(t, state.Conversation)
	assert.Empty(t, state.Messages)

	active, err := env.cache.GetActiveConversation(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSessionService_ClearIfActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	conv := &model.Conversation{ID: "c1", Title: "Printer trouble"}
	env.sessions.SetConversation("s1", conv, nil)

	// 非活跃对话不触发清空
	assert.False(t, env.sessions.ClearIfActive(ctx, "s1", "other"))
	assert.NotNil(t, env.sessions.Conversation("s1"))

	assert.True(t, env.sessions.ClearIfActive(ctx, "s1", "c1"))
	assert.Nil(t, env.sessions.Conversation("s1"))
}

func TestSessionService_SweepExpiredStates(t *testing.T) {
	env := newTestEnv(t)

	env.sessions.AppendMessage("s-idle", model.Message{Role: model.MessageRoleUser, Content: "old"})
	env.sessions.AppendMessage("s-busy", model.Message{Role: model.MessageRoleUser, Content: "in flight"})
	env.sessions.SetLoading("s-busy", true)

	// 未过期不回收
	assert.Equal(t, 0, env.sessions.sweepExpired(time.Now()))

	// 超过 TTL：空闲状态回收，发送中的保留
	future := time.Now().Add(2 * time.Hour)
	assert.Equal(t, 1, env.sessions.sweepExpired(future))
	assert.Empty(t, env.sessions.MessagesSnapshot("s-idle"))
	assert.Len(t, env.sessions.MessagesSnapshot("s-busy"), 1)
}

func TestSessionService_StatesAreIsolated(t *testing.T) {
	env := newTestEnv(t)

	env.sessions.AppendMessage("s1", model.Message{Role: model.MessageRoleUser, Content: "from s1"})

	assert.Len(t, env.sessions.MessagesSnapshot("s1"), 1)
	assert.Empty(t, env.sessions.MessagesSnapshot("s2"))
}
