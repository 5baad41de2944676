package token

import (
	"testing"
	"time"

	"estate-assist-go/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_RoundTrip(t *testing.T) {
	m := NewJWTManager("secret", 1)
	tok, err := m.GenerateToken(model.Profile{UserID: "u1", Admin: true, Type: model.UserTypeOwner})
	require.NoError(t, err)

	p, err := m.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
	assert.True(t, p.Admin)
	assert.Equal(t, model.UserTypeOwner, p.Type)
}

func TestJWTManager_RejectsWrongSecret(t *testing.T) {
	tok, err := NewJWTManager("one", 1).GenerateToken(model.Profile{UserID: "u1"})
	require.NoError(t, err)

	_, err = NewJWTManager("two", 1).VerifyToken(tok)
	assert.Error(t, err)
}

func TestJWTManager_RejectsExpired(t *testing.T) {
	m := NewJWTManager("secret", 1)
	claims := CustomClaims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = m.VerifyToken(tok)
	assert.Error(t, err)
}

func TestJWTManager_RejectsUnknownUserType(t *testing.T) {
	claims := CustomClaims{UserID: "u1", UserType: "landlord"}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewJWTManager("secret", 1).VerifyToken(tok)
	assert.Error(t, err)
}

func TestJWTManager_EmptySecret(t *testing.T) {
	m := NewJWTManager("", 1)
	_, err := m.GenerateToken(model.Profile{UserID: "u1"})
	assert.Error(t, err)
	_, err = m.VerifyToken("anything")
	assert.Error(t, err)
}
