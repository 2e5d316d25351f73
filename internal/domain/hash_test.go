package domain

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCommitHash(t *testing.T) {
	tests := []struct {
		name    string
		content string
		millis  int64
		want    string
	}{
		{"plain ascii", "BTC will close above $100k this Friday", 1700000000000, "5c30710b"},
		{"spread pick", "Lakers -4.5 vs Celtics", 1712345678901, "5e9a965e"},
		{"empty content", "", 0, "00000030"},
		{"non-ascii", "über pick ✅", 1700000000123, "2be405b9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := time.UnixMilli(tt.millis)
			assert.Equal(t, tt.want, CommitHash(tt.content, ts))
		})
	}
}

func TestCommitHashDeterministic(t *testing.T) {
	ts := time.Now()
	a := CommitHash("same content", ts)
	b := CommitHash("same content", ts)
	assert.Equal(t, a, b)

	// A different timestamp must change the hash even for identical content.
	c := CommitHash("same content", ts.Add(time.Millisecond))
	assert.NotEqual(t, a, c)
}

func TestCommitHashFormat(t *testing.T) {
	hexRe := regexp.MustCompile(`^[0-9a-f]{8}$`)
	for i, content := range []string{"x", "a longer piece of content", "", "0"} {
		h := CommitHash(content, time.UnixMilli(int64(i)*997))
		assert.Regexp(t, hexRe, h)
	}
}
