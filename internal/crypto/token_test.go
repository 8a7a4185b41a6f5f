package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintTokenHasPrefixAndLength(t *testing.T) {
	tok, err := MintToken(TokenPrefix)
	require.NoError(t, err)
	assert.Contains(t, tok, TokenPrefix)
	assert.True(t, len(tok) > len(TokenPrefix)+32)
}

func TestMintTokenUnique(t *testing.T) {
	a, err := MintToken(TokenPrefix)
	require.NoError(t, err)
	b, err := MintToken(TokenPrefix)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHashTokenDeterministic(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
}

func TestValidTokenFormat(t *testing.T) {
	tok, err := MintToken(TokenPrefix)
	require.NoError(t, err)

	assert.True(t, ValidTokenFormat(tok, TokenPrefix))
	assert.False(t, ValidTokenFormat(tok, AdminTokenPrefix))
	assert.False(t, ValidTokenFormat(TokenPrefix+"tooshort", TokenPrefix))
	assert.False(t, ValidTokenFormat("no-prefix-at-all", TokenPrefix))
}
