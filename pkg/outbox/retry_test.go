package outbox

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	maxBackoff := 60 * time.Second
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 0, want: 0},
		{attempts: 1, want: time.Second},
		{attempts: 2, want: 2 * time.Second},
		{attempts: 3, want: 4 * time.Second},
		{attempts: 7, want: maxBackoff},
		{attempts: 200, want: maxBackoff},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, backoff(tc.attempts, maxBackoff), "attempts=%d", tc.attempts)
	}
}

func TestJitter(t *testing.T) {
	t.Parallel()

	maxJitter := 200 * time.Millisecond
	got := jitter(rand.New(rand.NewSource(1)), maxJitter)
	require.GreaterOrEqual(t, got, time.Duration(0))
	require.LessOrEqual(t, got, maxJitter)
	assert.Equal(t, got, jitter(rand.New(rand.NewSource(1)), maxJitter))

	assert.Zero(t, jitter(nil, maxJitter))
	assert.Zero(t, jitter(rand.New(rand.NewSource(1)), 0))
}

func TestTruncateError(t *testing.T) {
	t.Parallel()

	assert.Empty(t, truncateError(nil, 10))
	assert.Equal(t, "hello", truncateError(errors.New("hello world"), 5))
	assert.Equal(t, "hello world", truncateError(errors.New("hello world"), 64))
	// "é" is two bytes; cutting inside it drops the partial rune.
	assert.Equal(t, "caf", truncateString("café", 4))
	assert.Empty(t, truncateString("abc", 0))
}
