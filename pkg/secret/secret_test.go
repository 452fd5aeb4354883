package secret

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	cipher := NewCipher("test-secret", "test-salt")

	plaintext := "sk-proj-abcdef1234567890"
	encrypted, err := cipher.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, encrypted)

	decrypted, err := cipher.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptProducesDifferentCiphertexts(t *testing.T) {
	cipher := NewCipher("test-secret", "test-salt")

	// GCM 的随机 nonce 保证相同明文每次加密结果不同
	first, err := cipher.Encrypt("same-value")
	require.NoError(t, err)
	second, err := cipher.Encrypt("same-value")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestEmptyStringPassthrough(t *testing.T) {
	cipher := NewCipher("test-secret", "test-salt")

	encrypted, err := cipher.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, encrypted)

	decrypted, err := cipher.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, decrypted)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	cipher := NewCipher("test-secret", "test-salt")
	other := NewCipher("another-secret", "test-salt")

	encrypted, err := cipher.Encrypt("sk-value")
	require.NoError(t, err)

	_, err = other.Decrypt(encrypted)
	assert.Error(t, err)
}

func TestDecryptGarbageFails(t *testing.T) {
	cipher := NewCipher("test-secret", "test-salt")

	_, err := cipher.Decrypt("not-base64!!!")
	assert.Error(t, err)
}
