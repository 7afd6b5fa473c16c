package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyPair_DecryptRoundTrip(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	nonce := []byte("the-challenge-nonce")
	ciphertext, err := keys.Encrypt(nonce)
	require.NoError(t, err)

	plaintext, err := keys.Decrypt(base64.StdEncoding.EncodeToString(ciphertext))
	require.NoError(t, err)
	assert.Equal(t, nonce, plaintext)
}

func TestKeyPair_DecryptTamperedCiphertext(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	ciphertext, err := keys.Encrypt([]byte("nonce"))
	require.NoError(t, err)

	ciphertext[len(ciphertext)/2] ^= 0xff

	_, err = keys.Decrypt(base64.StdEncoding.EncodeToString(ciphertext))
	assert.Error(t, err)
}

func TestKeyPair_DecryptBadBase64(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	_, err = keys.Decrypt("not base64!!!")
	assert.Error(t, err)
}

func TestKeyPair_EncodedPublicKeyIsDER(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	encoded, err := keys.EncodedPublicKey()
	require.NoError(t, err)

	der, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.NotEmpty(t, der)
}

func TestNonceProof(t *testing.T) {
	nonce := []byte("known-nonce")
	digest := sha256.Sum256(nonce)
	expected := base64.RawURLEncoding.EncodeToString(digest[:])

	assert.Equal(t, expected, NonceProof(nonce))
	// URL-safe and unpadded
	assert.NotContains(t, NonceProof(nonce), "=")
	assert.NotContains(t, NonceProof(nonce), "+")
	assert.NotContains(t, NonceProof(nonce), "/")
}
