package prune

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestHeadTail(t *testing.T) {
	t.Parallel()

	t.Run("within budget", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "short", HeadTail("short", Config{MaxBytes: 100, MaxLines: 10}))
	})

	t.Run("bytes", func(t *testing.T) {
		t.Parallel()
		s := "HEAD" + strings.Repeat("x", 1000) + "TAIL"
		got := HeadTail(s, Config{MaxBytes: 200, MaxLines: 10})
		assert.LessOrEqual(t, len(got), 200)
		assert.True(t, strings.HasPrefix(got, "HEAD"))
		assert.True(t, strings.HasSuffix(got, "TAIL"))
		assert.Contains(t, got, "[truncated] (bytes=1008, lines=1)")
	})

	t.Run("lines", func(t *testing.T) {
		t.Parallel()
		var lines []string
		for i := 0; i < 500; i++ {
			lines = append(lines, "frame")
		}
		got := HeadTail(strings.Join(lines, "\n"), Config{MaxBytes: 1 << 20, MaxLines: 21})
		assert.LessOrEqual(t, CountLines(got), 21)
	})

	t.Run("utf8 safe", func(t *testing.T) {
		t.Parallel()
		s := strings.Repeat("ü", 400)
		got := HeadTail(s, Config{MaxBytes: 101, MaxLines: 10, Marker: "…"})
		assert.True(t, utf8.ValidString(got))
	})

	t.Run("tiny budget", func(t *testing.T) {
		t.Parallel()
		got := HeadTail(strings.Repeat("a", 100), Config{MaxBytes: 5, MaxLines: 10})
		assert.Equal(t, "[trun", got)
	})
}

func TestCountLines(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, CountLines(""))
	assert.Equal(t, 1, CountLines("a"))
	assert.Equal(t, 3, CountLines("a\nb\nc"))
}
