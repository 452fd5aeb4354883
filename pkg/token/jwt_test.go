package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerifyToken(t *testing.T) {
	manager := NewJWTManager("test-jwt-secret", 1, 7)

	tokenString, err := manager.GenerateToken(42, "user@example.com", "USER")
	require.NoError(t, err)
	require.NotEmpty(t, tokenString)

	claims, err := manager.VerifyToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, "USER", claims.Role)
}

func TestVerifyTokenWithWrongSecret(t *testing.T) {
	manager := NewJWTManager("test-jwt-secret", 1, 7)
	other := NewJWTManager("different-secret", 1, 7)

	tokenString, err := manager.GenerateToken(1, "user@example.com", "USER")
	require.NoError(t, err)

	_, err = other.VerifyToken(tokenString)
	assert.Error(t, err)
}

func TestVerifyMalformedToken(t *testing.T) {
	manager := NewJWTManager("test-jwt-secret", 1, 7)

	_, err := manager.VerifyToken("not.a.token")
	assert.Error(t, err)
}

func TestGenerateRandomStringLength(t *testing.T) {
	// 长度参数是随机字节数，hex 编码后字符串长度翻倍
	s := GenerateRandomString(16)
	assert.Len(t, s, 32)
	assert.NotEqual(t, s, GenerateRandomString(16))
}
