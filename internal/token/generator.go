// Package token issues opaque identifiers for upload sessions and share links.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

const (
	// SessionBytes matches 128 bits of entropy, 22 URL-safe characters.
	SessionBytes = 16
	// ShareBytes yields 16 URL-safe characters.
	ShareBytes = 12
)

// Generator produces fixed-length URL-safe tokens from a cryptographically strong source.
// It performs no I/O besides reading entropy; collision handling is the caller's job.
type Generator struct {
	size   int
	source io.Reader
}

func NewGenerator(size int) *Generator {
	if size <= 0 {
		size = SessionBytes
	}
	return &Generator{size: size, source: rand.Reader}
}

// WithSource swaps the entropy source; tests use it to force collisions.
func (g *Generator) WithSource(r io.Reader) *Generator {
	return &Generator{size: g.size, source: r}
}

func (g *Generator) Generate() (string, error) {
	buf := make([]byte, g.size)
	if _, err := io.ReadFull(g.source, buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Len reports the encoded token length.
func (g *Generator) Len() int {
	return base64.RawURLEncoding.EncodedLen(g.size)
}
