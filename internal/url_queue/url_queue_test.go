package urlqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLQueue_FIFO(t *testing.T) {
	q := NewURLQueue("example.org")
	require.True(t, q.Add("https://example.org/"))
	require.True(t, q.Add("https://example.org/careers"))
	require.True(t, q.Add("https://example.org/jobs"))

	var order []string
	for {
		u, ok := q.Get()
		if !ok {
			break
		}
		order = append(order, u)
	}
	assert.Equal(t, []string{
		"https://example.org/",
		"https://example.org/careers",
		"https://example.org/jobs",
	}, order)
	assert.Equal(t, 0, q.Size())
}

func TestURLQueue_RejectsQueuedAndVisited(t *testing.T) {
	q := NewURLQueue("example.org")
	require.True(t, q.Add("https://example.org/jobs"))
	assert.False(t, q.Add("https://example.org/jobs"))
	assert.False(t, q.Add("https://example.org/jobs#top"), "fragment variants are the same URL")

	u, ok := q.Get()
	require.True(t, ok)
	q.MarkVisited(u)

	assert.True(t, q.Visited("https://example.org/jobs"))
	assert.False(t, q.Add("https://example.org/jobs"))
	assert.Equal(t, 1, q.VisitedCount())
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://example.org/a#b", "https://example.org/a"},
		{"//example.org/a", "https://example.org/a"},
		{"http://www.example.org/a?x=1", "http://www.example.org/a?x=1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeURL(tt.in), tt.in)
	}
}
