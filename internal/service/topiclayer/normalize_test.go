package topiclayer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeText(t *testing.T) {
	t.Run("collapses whitespace and appends period", func(t *testing.T) {
		got, err := NormalizeText("  Remote   work\tincreases\n productivity  ")
		require.NoError(t, err)
		assert.Equal(t, "Remote work increases productivity.", got)
	})

	t.Run("keeps existing terminator", func(t *testing.T) {
		got, err := NormalizeText("I love winters!")
		require.NoError(t, err)
		assert.Equal(t, "I love winters!", got)
	})

	t.Run("idempotent", func(t *testing.T) {
		once, err := NormalizeText("Cats are   better than dogs")
		require.NoError(t, err)
		twice, err := NormalizeText(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := NormalizeText("hi")
		assert.ErrorIs(t, err, ErrInvalidLength)
	})

	t.Run("too long", func(t *testing.T) {
		_, err := NormalizeText(strings.Repeat("a", 321))
		assert.ErrorIs(t, err, ErrInvalidLength)
	})

	t.Run("whitespace only", func(t *testing.T) {
		_, err := NormalizeText("   \t\n ")
		assert.ErrorIs(t, err, ErrInvalidLength)
	})
}

func TestTextKey(t *testing.T) {
	t.Run("strips terminators and lowercases", func(t *testing.T) {
		assert.Equal(t, "remote work increases productivity",
			TextKey("Remote work increases productivity."))
	})

	t.Run("terminator runs collapse", func(t *testing.T) {
		assert.Equal(t, "really", TextKey("Really?!?"))
	})

	t.Run("same key across punctuation variants", func(t *testing.T) {
		assert.Equal(t, TextKey("I love winters."), TextKey("I love winters!"))
	})

	t.Run("idempotent", func(t *testing.T) {
		key := TextKey("Snow days make me happy.")
		assert.Equal(t, key, TextKey(key))
	})
}
