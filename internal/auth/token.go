package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
)

var ErrInvalidToken = errors.New("auth: невалидный токен")

// claims - access-токен identity-сервиса: sub - ID пользователя, role - роль.
type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager проверяет access-токены, выпущенные identity-сервисом, и
// превращает их в Actor. Issue нужен для тестов и локальной разработки.
type TokenManager struct {
	secret []byte
}

func NewTokenManager(secret string) *TokenManager {
	return &TokenManager{secret: []byte(secret)}
}

// ParseActor проверяет подпись и срок токена и извлекает Actor.
// Роль system через токен не выдаётся.
func (m *TokenManager) ParseActor(token string) (valueobject.Actor, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return valueobject.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(c.Subject)
	if err != nil || userID == uuid.Nil {
		return valueobject.Actor{}, fmt.Errorf("%w: sub", ErrInvalidToken)
	}

	role := valueobject.ActorRole(c.Role)
	switch role {
	case valueobject.RolePassenger, valueobject.RoleDriver, valueobject.RoleAdmin:
	default:
		return valueobject.Actor{}, fmt.Errorf("%w: роль %q", ErrInvalidToken, c.Role)
	}
	return valueobject.Actor{ID: userID, Role: role}, nil
}

// Issue выпускает access-токен для actor.
func (m *TokenManager) Issue(actor valueobject.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(m.secret)
}
