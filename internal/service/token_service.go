package service

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/MorseWayne/caseshop/internal/config"
	"github.com/MorseWayne/caseshop/internal/domain"
)

// 令牌校验错误
var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenNotReady = errors.New("token used before valid")
)

const tokenTypeAccess = "access"

// Claims 访问令牌载荷，与认证服务签发的格式一致
type Claims struct {
	UserID int64           `json:"user_id"`
	Role   domain.UserRole `json:"role"`
	Type   string          `json:"type"`
	jwt.RegisteredClaims
}

// Principal 转换为调用者信息
func (c *Claims) Principal() *domain.Principal {
	return &domain.Principal{UserID: c.UserID, Role: c.Role}
}

// TokenService 访问令牌校验。令牌由外部认证服务签发，本服务只校验。
type TokenService interface {
	ValidateAccessToken(tokenString string) (*Claims, error)
	// IssueAccessToken 签发访问令牌，用于内部调用与测试
	IssueAccessToken(userID int64, role domain.UserRole, ttl time.Duration) (string, error)
}

type tokenService struct {
	secret []byte
	issuer string
	logger *zap.Logger
}

// NewTokenService 创建令牌服务
func NewTokenService(cfg config.JWTConfig, logger *zap.Logger) TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &tokenService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		logger: logger,
	}
}

func (s *tokenService) IssueAccessToken(userID int64, role domain.UserRole, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		Type:   tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken 校验签名、有效期、类型与签发者
func (s *tokenService) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		if errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, ErrTokenNotReady
		}
		s.logger.Warn("token validation failed", zap.Error(err))
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != tokenTypeAccess {
		s.logger.Warn("token type mismatch", zap.String("actual", claims.Type))
		return nil, ErrInvalidToken
	}
	if claims.Issuer != s.issuer {
		s.logger.Warn("token issuer mismatch",
			zap.String("expected", s.issuer),
			zap.String("actual", claims.Issuer),
		)
		return nil, ErrInvalidToken
	}
	if claims.UserID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
