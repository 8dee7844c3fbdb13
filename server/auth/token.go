package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/cookgpt/cookgpt/store"
)

const (
	// Issuer is the issuer of access tokens.
	Issuer = "cookgpt"
	// AccessTokenDuration is the lifetime of tokens minted by the CLI.
	AccessTokenDuration = 7 * 24 * time.Hour
)

var (
	// ErrTokenExpired is returned when the token has expired.
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidToken is returned when the token is invalid for any reason.
	ErrInvalidToken = errors.New("invalid token")
)

// ClaimsMessage is the payload of a cookgpt access token.
type ClaimsMessage struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
	// MaxChatCost overrides the server's per-thread budget when positive.
	MaxChatCost int `json:"max_chat_cost,omitempty"`
}

// GenerateAccessToken signs an HS256 token for the owner.
func GenerateAccessToken(owner *store.Owner, expirationTime time.Time, secret []byte) (string, error) {
	if owner.ID == "" {
		return "", errors.New("owner id is required")
	}
	now := time.Now()
	claims := &ClaimsMessage{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   owner.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			ID:        uuid.NewString(),
		},
		Name:        owner.DisplayName,
		MaxChatCost: owner.MaxChatCost,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign access token")
	}
	return signed, nil
}

func parseAccessToken(tokenString string, secret []byte) (*ClaimsMessage, error) {
	claims := &ClaimsMessage{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Name {
			return nil, errors.Errorf("unexpected access token signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.Issuer != Issuer {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
