// Package crypto implements native WireGuard key generation. Keys are
// Curve25519 scalars, clamped per the WireGuard paper, and handled everywhere
// else in the tool as opaque base64 strings.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeyPair holds a WireGuard private/public key pair as base64 strings.
type KeyPair struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
}

// Provider is the injectable key source. The zero value generates real keys
// from system entropy; tests substitute deterministic fakes.
type Provider struct{}

func (Provider) GenerateKeyPair() (*KeyPair, error) {
	return GenerateKeyPair()
}

// GenerateKeyPair generates a new WireGuard key pair from system entropy.
func GenerateKeyPair() (*KeyPair, error) {
	priv := make([]byte, 32)
	if _, err := rand.Read(priv); err != nil {
		return nil, fmt.Errorf("failed to read entropy for private key: %w", err)
	}

	clampPrivateKey(priv)

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to compute public key: %w", err)
	}

	return &KeyPair{
		PrivateKey: base64.StdEncoding.EncodeToString(priv),
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
	}, nil
}

// DerivePublicKey recomputes the public key for a stored private key. Used to
// recover the server identity from key material on disk.
func DerivePublicKey(privateKey string) (string, error) {
	priv, err := base64.StdEncoding.DecodeString(privateKey)
	if err != nil {
		return "", fmt.Errorf("private key is not valid base64: %w", err)
	}
	if len(priv) != 32 {
		return "", fmt.Errorf("private key has incorrect length: expected 32 bytes, got %d", len(priv))
	}

	clampPrivateKey(priv)

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("failed to compute public key: %w", err)
	}

	return base64.StdEncoding.EncodeToString(pub), nil
}

// clampPrivateKey applies the WireGuard clamping rules in place.
func clampPrivateKey(key []byte) {
	key[0] &= 248
	key[31] &= 127
	key[31] |= 64
}

// IsValidKey reports whether key looks like a WireGuard key: base64 that
// decodes to exactly 32 bytes.
func IsValidKey(key string) bool {
	// 32 bytes of standard base64 is always 44 characters.
	if len(key) != 44 {
		return false
	}

	raw, err := base64.StdEncoding.DecodeString(key)
	return err == nil && len(raw) == 32
}
