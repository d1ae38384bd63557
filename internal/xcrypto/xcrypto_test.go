package xcrypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSalt(seed byte) [SaltSize]byte {
	var s [SaltSize]byte
	for i := range s {
		s[i] = seed + byte(i)
	}
	return s
}

func TestDeriveKeyLengthMatchesKeySize(t *testing.T) {
	salt := testSalt(0)

	k128, err := DeriveKey([]byte("secret"), salt, KeySize128)
	require.NoError(t, err)
	assert.Len(t, k128, 16)

	k256, err := DeriveKey([]byte("secret"), salt, KeySize256)
	require.NoError(t, err)
	assert.Len(t, k256, 32)
}

func TestDeriveKeyRejectsKeySizeNone(t *testing.T) {
	_, err := DeriveKey([]byte("secret"), testSalt(0), KeySizeNone)
	assert.Error(t, err)
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	salt := testSalt(7)
	k1, err := DeriveKey([]byte("secret"), salt, KeySize128)
	require.NoError(t, err)
	k2, err := DeriveKey([]byte("secret"), salt, KeySize128)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	salt := testSalt(1)
	key, err := DeriveKey([]byte("secret"), salt, KeySize128)
	require.NoError(t, err)
	c, err := New(key, salt)
	require.NoError(t, err)

	plaintext := []byte("data block payload")
	ciphertext := c.Encrypt(42, 7, plaintext)
	assert.NotEqual(t, plaintext, ciphertext)

	decoded, err := c.Decrypt(42, 7, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decoded)
}

func TestEncryptVariesBySequenceToAvoidKeystreamReuse(t *testing.T) {
	salt := testSalt(2)
	key, err := DeriveKey([]byte("secret"), salt, KeySize128)
	require.NoError(t, err)
	c, err := New(key, salt)
	require.NoError(t, err)

	plaintext := []byte("same payload")
	c1 := c.Encrypt(1, 1, plaintext)
	c2 := c.Encrypt(1, 2, plaintext)
	assert.NotEqual(t, c1, c2)
}
