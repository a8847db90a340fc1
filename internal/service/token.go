package service

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wenwu/saas-platform/panel-service/internal/models"
)

// Claims carries the user id as "uid" and, for standard clients, "sub".
type Claims struct {
	UserID int64 `json:"uid"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256 session tokens.
type TokenManager struct {
	secret []byte
	expire time.Duration
	issuer string
}

func NewTokenManager(secret string, expire time.Duration, issuer string) *TokenManager {
	if expire <= 0 {
		expire = 24 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), expire: expire, issuer: issuer}
}

func (m *TokenManager) Issue(user *models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expire)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies the token and returns the user id it was issued for.
func (m *TokenManager) Parse(raw string) (int64, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return 0, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	if claims.UserID > 0 {
		return claims.UserID, nil
	}
	// 兼容只带 sub 的令牌
	if id, err := strconv.ParseInt(claims.Subject, 10, 64); err == nil && id > 0 {
		return id, nil
	}
	return 0, errors.Join(ErrUnauthorized, errors.New("token has no user id"))
}
