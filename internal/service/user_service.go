// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"double-ai-go/internal/model"
	"double-ai-go/internal/repository"
	"double-ai-go/pkg/hash"
	"double-ai-go/pkg/log"
	"double-ai-go/pkg/token"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// UserService 接口定义了所有与用户相关的业务操作。
type UserService interface {
	Register(ctx context.Context, email, name, password string) (*model.User, error)
	Login(ctx context.Context, email, password string) (accessToken, refreshToken string, err error)
	GetProfile(userID uint) (*model.User, error)
	Logout(ctx context.Context, tokenString string) error
	IsTokenRevoked(ctx context.Context, tokenString string) bool
	RefreshToken(refreshTokenString string) (newAccessToken, newRefreshToken string, err error)
}

// userService 是 UserService 接口的实现。
type userService struct {
	userRepo     repository.UserRepository
	resolver     SettingsResolver
	sessionCache repository.SessionCacheRepository
	jwtManager   *token.JWTManager
	redisClient  *redis.Client
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo repository.UserRepository, resolver SettingsResolver, sessionCache repository.SessionCacheRepository, jwtManager *token.JWTManager, redisClient *redis.Client) UserService {
	return &userService{
		userRepo:     userRepo,
		resolver:     resolver,
		sessionCache: sessionCache,
		jwtManager:   jwtManager,
		redisClient:  redisClient,
	}
}

// Register 处理用户注册的业务逻辑。
func (s *userService) Register(ctx context.Context, email, name, password string) (*model.User, error) {
	// 1. 检查邮箱是否已被占用
	_, err := s.userRepo.FindByEmail(email)
	if err == nil {
		return nil, errors.New("该邮箱已被注册")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 2. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	// 3. 创建新用户
	newUser := &model.User{
		Email:    email,
		Name:     name,
		Password: hashedPassword,
		Role:     "USER", // 默认角色
		IsActive: true,
	}
	if err := s.userRepo.Create(newUser); err != nil {
		return nil, err
	}

	// 4. 为新用户落一行默认设置；失败不阻塞注册，登录后首次读取还会兜底
	if err := s.resolver.EnsureUserSettings(ctx, newUser.ID); err != nil {
		log.Warnf("[UserService] 初始化用户设置失败, email: %s, error: %v", email, err)
	}

	return newUser, nil
}

// Login 处理用户登录的业务逻辑。
func (s *userService) Login(ctx context.Context, email, password string) (accessToken, refreshToken string, err error) {
	// 1. 查找用户
	user, err := s.userRepo.FindByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", errors.New("invalid credentials")
		}
		return "", "", err
	}

	// 2. 验证密码
	if !hash.CheckPasswordHash(password, user.Password) {
		return "", "", errors.New("invalid credentials")
	}

	// 3. 账号状态检查
	if user.IsBanned {
		return "", "", errors.New("账号已被封禁")
	}
	if !user.IsActive {
		return "", "", errors.New("账号未激活")
	}

	// 4. 生成 access token 和 refresh token
	accessToken, err = s.jwtManager.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		return "", "", err
	}
	refreshToken, err = s.jwtManager.GenerateRefreshToken(user.ID, user.Email, user.Role)
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

// GetProfile 根据用户 ID 获取用户信息。
func (s *userService) GetProfile(userID uint) (*model.User, error) {
	return s.userRepo.FindByID(userID)
}

// Logout 将 token 加入 Redis 黑名单直至其自然过期。
// 信任决策完全在服务端：客户端丢弃 token 不算登出。
func (s *userService) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.jwtManager.VerifyToken(tokenString)
	if err != nil {
		// token 已经无效，视为登出成功
		return nil
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	key := blacklistKey(tokenString)
	if err := s.redisClient.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}

	// 登出即丢弃该用户的会话快照缓存，下次加载强制走远端
	if err := s.sessionCache.Invalidate(ctx, claims.UserID); err != nil {
		log.Warnf("登出时清理会话快照缓存失败: userID=%d, err=%v", claims.UserID, err)
	}
	return nil
}

// IsTokenRevoked 检查 token 是否已被登出。
// Redis 不可用时保守放行（token 本身仍需通过签名校验）。
func (s *userService) IsTokenRevoked(ctx context.Context, tokenString string) bool {
	exists, err := s.redisClient.Exists(ctx, blacklistKey(tokenString)).Result()
	if err != nil {
		log.Warnf("检查 token 黑名单失败: %v", err)
		return false
	}
	return exists > 0
}

// RefreshToken 校验 refresh token 并签发一对新的 token。
func (s *userService) RefreshToken(refreshTokenString string) (string, string, error) {
	claims, err := s.jwtManager.VerifyToken(refreshTokenString)
	if err != nil {
		return "", "", errors.New("invalid refresh token")
	}

	// 确认用户仍然存在且未被封禁
	user, err := s.userRepo.FindByID(claims.UserID)
	if err != nil {
		return "", "", errors.New("用户不存在")
	}
	if user.IsBanned || !user.IsActive {
		return "", "", errors.New("账号不可用")
	}

	newAccessToken, err := s.jwtManager.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		return "", "", err
	}
	newRefreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Email, user.Role)
	if err != nil {
		return "", "", err
	}
	return newAccessToken, newRefreshToken, nil
}

func blacklistKey(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return "auth:blacklist:" + hex.EncodeToString(sum[:])
}
