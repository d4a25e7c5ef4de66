package auth

import (
	"errors"
	"strings"
)

var (
	ErrMissingToken  = errors.New("missing authorization header")
	ErrMalformed     = errors.New("invalid authorization header format")
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrNotConfigured = errors.New("authentication not configured")
)

// Identity is the authenticated caller
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// Authenticator checks bearer tokens against Zitadel first, then the legacy HMAC secret
type Authenticator struct {
	verifier     TokenVerifier
	legacySecret string
}

// NewAuthenticator creates an authenticator. Either source may be empty.
func NewAuthenticator(verifier TokenVerifier, legacySecret string) *Authenticator {
	return &Authenticator{
		verifier:     verifier,
		legacySecret: legacySecret,
	}
}

// Authenticate resolves an Authorization header value to an identity
func (a *Authenticator) Authenticate(authHeader string) (*Identity, error) {
	if authHeader == "" {
		return nil, ErrMissingToken
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return nil, ErrMalformed
	}
	tokenString := parts[1]

	if a.verifier == nil && a.legacySecret == "" {
		return nil, ErrNotConfigured
	}

	if a.verifier != nil {
		if claims, err := a.verifier.Validate(tokenString); err == nil {
			return &Identity{UserID: claims.UserID, Email: claims.Email, Name: claims.Name}, nil
		}
	}

	if a.legacySecret != "" {
		if claims, err := ValidateLegacyToken(tokenString, a.legacySecret); err == nil {
			return &Identity{UserID: claims.UserID, Email: claims.Email, Name: claims.Name}, nil
		}
	}

	return nil, ErrInvalidToken
}
