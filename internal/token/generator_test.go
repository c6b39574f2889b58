package token

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var urlSafe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func TestGenerator_FixedLengthURLSafe(t *testing.T) {
	g := NewGenerator(SessionBytes)

	seen := make(map[string]struct{}, 200)
	for range 200 {
		tok, err := g.Generate()
		require.NoError(t, err)
		assert.Len(t, tok, g.Len())
		assert.Regexp(t, urlSafe, tok)
		_, dup := seen[tok]
		require.False(t, dup, "duplicate token %s", tok)
		seen[tok] = struct{}{}
	}
	assert.Equal(t, 22, g.Len())
	assert.Equal(t, 16, NewGenerator(ShareBytes).Len())
}

func TestGenerator_DefaultsSize(t *testing.T) {
	g := NewGenerator(0)
	tok, err := g.Generate()
	require.NoError(t, err)
	assert.Len(t, tok, 22)
}

func TestGenerator_ShortSourceFails(t *testing.T) {
	g := NewGenerator(SessionBytes).WithSource(bytes.NewReader([]byte{1, 2, 3}))
	_, err := g.Generate()
	require.Error(t, err)
}

func TestGenerator_DeterministicSource(t *testing.T) {
	src := bytes.NewReader(bytes.Repeat([]byte{0xff}, 2*ShareBytes))
	g := NewGenerator(ShareBytes).WithSource(src)

	a, err := g.Generate()
	require.NoError(t, err)
	b, err := g.Generate()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "________________", a)
}
