package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidMask(t *testing.T) {
	valid := []string{
		"*!*@*",
		"troll!*@*",
		"*!*@evil.example.com",
		"tr?ll!user@*.example.com",
		"nick!user@host",
	}
	for _, mask := range valid {
		assert.True(t, isValidMask(mask), "mask %q", mask)
	}

	invalid := []string{
		"",
		"troll",
		"troll!user",
		"user@host",
		"a!b@c d",
		"a!!b@c",
	}
	for _, mask := range invalid {
		assert.False(t, isValidMask(mask), "mask %q", mask)
	}
}

func TestMatchesMask(t *testing.T) {
	tests := []struct {
		mask  string
		nick  string
		user  string
		host  string
		match bool
	}{
		{"*!*@*", "anyone", "anything", "anywhere", true},
		{"troll!*@*", "troll", "u", "h", true},
		{"troll!*@*", "Troll", "u", "h", false}, // nick section is case-sensitive
		{"tr?ll!*@*", "troll", "u", "h", true},
		{"tr?ll!*@*", "trll", "u", "h", false},
		{"*!*@evil.example.com", "x", "y", "EVIL.Example.COM", true}, // host is not
		{"*!*@*.example.com", "x", "y", "shell.example.com", true},
		{"*!*@*.example.com", "x", "y", "example.com", false},
		{"troll!spam*@*", "troll", "spambot", "h", true},
		{"troll!spam*@*", "troll", "bot", "h", false},
	}

	for _, tt := range tests {
		got := matchesMask(tt.mask, tt.nick, tt.user, tt.host)
		assert.Equal(t, tt.match, got, "mask %q against %s!%s@%s", tt.mask, tt.nick, tt.user, tt.host)
	}
}

func TestGlobMatch(t *testing.T) {
	assert.True(t, globMatch("abc", "*"))
	assert.True(t, globMatch("", "*"))
	assert.True(t, globMatch("abc", "a*c"))
	assert.True(t, globMatch("ac", "a*c"))
	assert.True(t, globMatch("abc", "a?c"))
	assert.False(t, globMatch("ac", "a?c"))
	assert.False(t, globMatch("abc", "b*"))
	assert.True(t, globMatch("aaa", "*a"))
}
