// Package crypto implements the ephemeral RSA handshake primitives used by
// the remote-auth flow: key generation, SPKI export, OAEP decryption and the
// nonce-proof digest.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
)

const keyBits = 2048

// KeyPair is a single-use RSA-OAEP key pair. It is generated per login
// attempt and discarded when the flow terminates.
type KeyPair struct {
	private *rsa.PrivateKey
}

// GenerateKeyPair creates a fresh 2048-bit RSA key pair.
func GenerateKeyPair() (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return &KeyPair{private: key}, nil
}

// EncodedPublicKey returns the public key as base64-encoded DER (SPKI),
// the format the remote-auth gateway expects in the init payload.
func (k *KeyPair) EncodedPublicKey() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&k.private.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to export public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// Decrypt decodes a standard-base64 ciphertext and decrypts it with
// RSA-OAEP over SHA-256.
func (k *KeyPair) Decrypt(ciphertextB64 string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, k.private, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// Encrypt encrypts plaintext with the pair's public key. Only used by tests
// to play the gateway's side of the handshake.
func (k *KeyPair) Encrypt(plaintext []byte) ([]byte, error) {
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &k.private.PublicKey, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}
	return ciphertext, nil
}

// NonceProof computes the challenge response for a decrypted nonce: the
// URL-safe, unpadded base64 encoding of its SHA-256 digest.
func NonceProof(nonce []byte) string {
	digest := sha256.Sum256(nonce)
	return base64.RawURLEncoding.EncodeToString(digest[:])
}
