// Package token 提供了用于生成和验证 JSON Web Tokens (JWT) 的功能。
// 令牌由站点的身份服务签发，这里只把它还原为调用方的 Profile。
package token

import (
	"errors"
	"fmt"
	"time"

	"estate-assist-go/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

// JWTManager 负责管理 JWT 的生成和验证。
type JWTManager struct {
	secretKey      []byte
	accessTokenDur time.Duration
}

// CustomClaims 定义了 JWT 中携带的用户资料。
type CustomClaims struct {
	UserID   string `json:"userId"`
	IsAdmin  bool   `json:"isAdmin"`
	UserType string `json:"userType,omitempty"`
	jwt.RegisteredClaims
}

// NewJWTManager 创建一个新的 JWTManager 实例。
func NewJWTManager(secret string, accessTokenExpireHours int) *JWTManager {
	return &JWTManager{
		secretKey:      []byte(secret),
		accessTokenDur: time.Hour * time.Duration(accessTokenExpireHours),
	}
}

// GenerateToken 为给定的资料签发一个 access token。服务本身不登录用户，chatcli 和测试会用到它。
func (m *JWTManager) GenerateToken(p model.Profile) (string, error) {
	if len(m.secretKey) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	claims := CustomClaims{
		UserID:   p.UserID,
		IsAdmin:  p.Admin,
		UserType: string(p.Type),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTokenDur)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// VerifyToken 验证 token 并返回其中的 Profile。
func (m *JWTManager) VerifyToken(tokenString string) (*model.Profile, error) {
	if len(m.secretKey) == 0 {
		return nil, errors.New("jwt secret is not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no userId")
	}
	userType, err := model.ParseUserType(claims.UserType)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return &model.Profile{UserID: claims.UserID, Admin: claims.IsAdmin, Type: userType}, nil
}
