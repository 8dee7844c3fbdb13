package auth

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/cookgpt/cookgpt/store"
)

// Authenticator turns bearer tokens into owners.
type Authenticator struct {
	secret      []byte
	maxChatCost int
}

// NewAuthenticator returns an authenticator verifying tokens signed with
// secret. Tokens without a budget claim get maxChatCost.
func NewAuthenticator(secret string, maxChatCost int) *Authenticator {
	return &Authenticator{
		secret:      []byte(secret),
		maxChatCost: maxChatCost,
	}
}

// AuthenticateToOwner verifies the Authorization header and returns the owner
// it names.
func (a *Authenticator) AuthenticateToOwner(authHeader string) (*store.Owner, error) {
	token := ExtractBearerToken(authHeader)
	if token == "" {
		return nil, errors.New("missing bearer token")
	}
	claims, err := parseAccessToken(token, a.secret)
	if err != nil {
		return nil, err
	}
	owner := &store.Owner{
		ID:          claims.Subject,
		DisplayName: claims.Name,
		MaxChatCost: claims.MaxChatCost,
	}
	if owner.MaxChatCost <= 0 {
		owner.MaxChatCost = a.maxChatCost
	}
	return owner, nil
}

// ExtractBearerToken returns the token of a "Bearer <token>" header value.
func ExtractBearerToken(authHeader string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
