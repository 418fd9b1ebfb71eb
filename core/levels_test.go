package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelOrdering(t *testing.T) {
	assert.True(t, LevelNone < LevelVoice)
	assert.True(t, LevelVoice < LevelOperator)
	assert.True(t, LevelOperator < LevelAdmin)
	assert.True(t, LevelAdmin < LevelOwner)
}

func TestParseLevel(t *testing.T) {
	for _, name := range []string{"none", "voice", "operator", "admin", "owner"} {
		level, err := ParseLevel(name)
		require.NoError(t, err)
		assert.Equal(t, name, level.String())
		assert.True(t, level.Valid())
	}

	_, err := ParseLevel("sysop")
	assert.Error(t, err)
	assert.False(t, Level(42).Valid())
}
