package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessToken_RoundTrip(t *testing.T) {
	token, expiresAt, err := GenerateAccessToken("ops@example.com", RoleOperator, "secret", "phonehub", 5)
	require.NoError(t, err)
	assert.False(t, expiresAt.IsZero())

	claims, err := ParseToken(token, "secret", "phonehub")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.Equal(t, RoleOperator, claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestParseToken_Rejects(t *testing.T) {
	good, _, err := GenerateAccessToken("ops", RoleOperator, "secret", "phonehub", 5)
	require.NoError(t, err)

	wrongType, err := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		Role:      RoleOperator,
		TokenType: "refresh",
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		secret string
		issuer string
	}{
		{"wrong secret", good, "other", "phonehub"},
		{"wrong issuer", good, "secret", "someone-else"},
		{"garbage", "not.a.token", "secret", ""},
		{"wrong token type", wrongType, "secret", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret, tt.issuer)
			assert.Error(t, err)
		})
	}
}
