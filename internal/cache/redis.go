// Package cache 提供 Redis 缓存操作的封装
// 处理会话的活跃对话、发送互斥锁、诊断计数等需要快速访问的数据
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"techcare-server/internal/config"
)

// RedisCache 封装 Redis 客户端，提供业务相关的缓存操作
type RedisCache struct {
	client *redis.Client // Redis 客户端实例
}

// NewRedisCache 创建 RedisCache 实例
// 参数:
//   - cfg: 应用配置（包含 Redis 连接信息）
//
// 返回:
//   - *RedisCache: 缓存实例
//   - error: 连接错误
func NewRedisCache(cfg *config.Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Username: cfg.Redis.Username, // 云 Redis 需要用户名
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Close 关闭 Redis 连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// ==================== 活跃对话管理 ====================
// 记录每个浏览器会话当前选中的对话，页面刷新后可以恢复

// SetActiveConversation 记录会话的活跃对话
// 参数:
//   - ctx: 上下文
//   - sessionID: 浏览器会话ID
//   - conversationID: 对话ID
//
// 返回:
//   - error: Redis 操作错误
func (c *RedisCache) SetActiveConversation(ctx context.Context, sessionID, conversationID string) error {
	return c.client.Set(ctx, activeConversationKey(sessionID), conversationID, 0).Err()
}

// GetActiveConversation 获取会话的活跃对话
// 没有活跃对话时返回空字符串
func (c *RedisCache) GetActiveConversation(ctx context.Context, sessionID string) (string, error) {
	id, err := c.client.Get(ctx, activeConversationKey(sessionID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return id, err
}

// ClearActiveConversation 清除会话的活跃对话
// 开始新对话或删除活跃对话时调用
func (c *RedisCache) ClearActiveConversation(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, activeConversationKey(sessionID)).Err()
}

// ==================== 发送互斥锁 ====================
// 每个会话同一时间只允许一个发送周期在执行
// 锁带 TTL：即使上游挂起导致发送流程没有走到释放，
// 锁也会自动过期，会话不会被永久卡死

// AcquireSendLock 尝试获取会话的发送锁
// 参数:
//   - ctx: 上下文
//   - sessionID: 浏览器会话ID
//   - ttl: 锁的自动过期时间
//
// 返回:
//   - bool: 是否获取成功（false 表示已有发送在进行中）
//   - error: Redis 操作错误
func (c *RedisCache) AcquireSendLock(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	// SETNX：已存在则返回 false
	return c.client.SetNX(ctx, sendLockKey(sessionID), time.Now().Unix(), ttl).Result()
}

// ReleaseSendLock 释放会话的发送锁
func (c *RedisCache) ReleaseSendLock(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, sendLockKey(sessionID)).Err()
}

// ==================== 诊断计数 ====================
// 诊断面板的"已应用修复"计数：快捷修复发送成功后自增

// IncrFixesApplied 自增会话的已应用修复计数
// 返回:
//   - int64: 自增后的计数
//   - error: Redis 操作错误
func (c *RedisCache) IncrFixesApplied(ctx context.Context, sessionID string) (int64, error) {
	return c.client.Incr(ctx, fixesAppliedKey(sessionID)).Result()
}

// GetFixesApplied 获取会话的已应用修复计数
func (c *RedisCache) GetFixesApplied(ctx context.Context, sessionID string) (int64, error) {
	count, err := c.client.Get(ctx, fixesAppliedKey(sessionID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

// ==================== Key 构造 ====================

func activeConversationKey(sessionID string) string {
	return fmt.Sprintf("session:%s:active_conversation", sessionID)
}

func sendLockKey(sessionID string) string {
	return fmt.Sprintf("session:%s:sending", sessionID)
}

func fixesAppliedKey(sessionID string) string {
	return fmt.Sprintf("session:%s:fixes_applied", sessionID)
}
