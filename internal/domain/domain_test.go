package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidNamespace(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"simple", "github", true},
		{"dotted", "my.server-1", true},
		{"double-underscore rejected", "foo__bar", false},
		{"empty rejected", "", false},
		{"too long rejected", string(make([]byte, 65)), false},
		{"leading underscore rejected", "_foo", false},
		{"leading dash rejected", "-foo", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ValidNamespace(tc.in))
		})
	}
}

func TestAuthConfigNormalize(t *testing.T) {
	a := AuthConfig{Method: AuthMethodAPIKey, Key: "k"}.Normalize()
	assert.Equal(t, "X-API-Key", a.Header)

	b := AuthConfig{Method: AuthMethodAPIKey, Key: "k", Header: "X-Custom"}.Normalize()
	assert.Equal(t, "X-Custom", b.Header)

	c := AuthConfig{Method: AuthMethodBearer, Token: "t"}.Normalize()
	assert.Empty(t, c.Header)
}

func TestNoneAuth(t *testing.T) {
	assert.Equal(t, AuthConfig{Method: AuthMethodNone}, NoneAuth())
}

func TestCreator(t *testing.T) {
	b := Bundle{CreatedByID: "u1"}
	assert.Equal(t, "u1", b.Creator())

	m := Mcp{CreatedByID: "u2"}
	assert.Equal(t, "u2", m.Creator())
}

func TestTokenValid(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	assert.True(t, Token{}.Valid(now), "no expiry, not revoked")
	assert.False(t, Token{Revoked: true}.Valid(now))
	assert.True(t, Token{ExpiresAt: &future}.Valid(now))
	assert.False(t, Token{ExpiresAt: &past}.Valid(now))
}
