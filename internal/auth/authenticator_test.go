package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	token string
}

func (s stubVerifier) Validate(tokenString string) (*Claims, error) {
	if tokenString != s.token {
		return nil, errors.New("bad signature")
	}
	return &Claims{UserID: "zitadel-user", Email: "z@example.com", Name: "Zed"}, nil
}

func (stubVerifier) Close() error { return nil }

func TestAuthenticator(t *testing.T) {
	legacy, err := IssueLegacyToken("secret", "legacy-user", "l@example.com", time.Hour)
	require.NoError(t, err)
	expired, err := IssueLegacyToken("secret", "legacy-user", "l@example.com", -time.Minute)
	require.NoError(t, err)

	a := NewAuthenticator(stubVerifier{token: "zitadel-token"}, "secret")

	id, err := a.Authenticate("Bearer zitadel-token")
	require.NoError(t, err)
	assert.Equal(t, &Identity{UserID: "zitadel-user", Email: "z@example.com", Name: "Zed"}, id)

	id, err = a.Authenticate("bearer " + legacy)
	require.NoError(t, err)
	assert.Equal(t, "legacy-user", id.UserID)

	_, err = a.Authenticate("")
	assert.ErrorIs(t, err, ErrMissingToken)
	_, err = a.Authenticate("Basic abc")
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = a.Authenticate("Bearer " + expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = a.Authenticate("Bearer garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewAuthenticator(nil, "").Authenticate("Bearer x")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestValidateLegacyToken_RejectsOtherAlgorithms(t *testing.T) {
	claims := LegacyClaims{UserID: "u", RegisteredClaims: jwt.RegisteredClaims{Issuer: LegacyIssuer}}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ValidateLegacyToken(none, "secret")
	assert.Error(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = ValidateLegacyToken(hs512, "secret")
	assert.Error(t, err)
}
