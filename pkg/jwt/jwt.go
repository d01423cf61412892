// Package jwt 提供会话令牌的生成和验证功能
// 系统没有用户账号，令牌只用于标识一个匿名的浏览器会话
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 定义错误类型
var (
	ErrInvalidToken = errors.New("invalid token")     // 令牌无效
	ErrExpiredToken = errors.New("token has expired") // 令牌已过期
)

// SessionClaims 会话令牌的声明（Payload）
type SessionClaims struct {
	SessionID string `json:"session_id"` // 会话 ID（UUID）
	jwt.RegisteredClaims
}

// JWTService 提供会话令牌相关操作
type JWTService struct {
	secret []byte        // 签名密钥
	expire time.Duration // 令牌过期时间
}

// NewJWTService 创建 JWTService 实例
// 参数:
//   - secret: 签名密钥，至少 32 个字符
//   - expire: 令牌过期时间
//
// 返回:
//   - *JWTService: JWT 服务实例
func NewJWTService(secret string, expire time.Duration) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		expire: expire,
	}
}

// GenerateSessionToken 生成会话令牌
// 参数:
//   - sessionID: 会话 ID
//
// 返回:
//   - string: JWT Token 字符串
//   - error: 生成错误
func (s *JWTService) GenerateSessionToken(sessionID string) (string, error) {
	claims := SessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.expire)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "techcare",
			Subject:   "session",
		},
	}

	// jwt.SigningMethodHS256: 使用 HMAC SHA256 算法签名
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken 解析并验证会话令牌
// 验证签名算法、签名和时间声明
// 参数:
//   - tokenString: JWT Token 字符串
//
// 返回:
//   - *SessionClaims: 令牌声明
//   - error: 验证错误
func (s *JWTService) ValidateToken(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		// 只接受 HMAC 签名，防止算法替换攻击
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.SessionID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
