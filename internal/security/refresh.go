package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const DefaultRefreshTokenBytes = 32

// RefreshGenerator produces opaque refresh tokens. They carry no structure;
// their only property is unpredictability.
type RefreshGenerator struct {
	size int
}

func NewRefreshGenerator(size int) *RefreshGenerator {
	if size < DefaultRefreshTokenBytes {
		size = DefaultRefreshTokenBytes
	}
	return &RefreshGenerator{size: size}
}

func (g *RefreshGenerator) Generate() (string, error) {
	b := make([]byte, g.size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
