package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	AlgorithmRS256 = "RS256"
	AlgorithmES256 = "ES256"
	AlgorithmEdDSA = "EdDSA"

	rsaKeyBits = 2048
)

// KeyPair is the process-wide signing key. It is generated once at startup,
// kept in memory only and never rotated while the process lives.
type KeyPair struct {
	method  jwt.SigningMethod
	private crypto.Signer
}

func (k *KeyPair) Algorithm() string {
	return k.method.Alg()
}

func (k *KeyPair) PublicKey() crypto.PublicKey {
	return k.private.Public()
}

// GenerateKeyPair creates a key pair for one of RS256, ES256 or EdDSA.
func GenerateKeyPair(algorithm string) (*KeyPair, error) {
	switch strings.TrimSpace(algorithm) {
	case AlgorithmRS256:
		key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
		if err != nil {
			return nil, fmt.Errorf("generate rsa key: %w", err)
		}
		return &KeyPair{method: jwt.SigningMethodRS256, private: key}, nil
	case AlgorithmES256:
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ecdsa key: %w", err)
		}
		return &KeyPair{method: jwt.SigningMethodES256, private: key}, nil
	case AlgorithmEdDSA:
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
		return &KeyPair{method: jwt.SigningMethodEdDSA, private: key}, nil
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", algorithm)
	}
}
