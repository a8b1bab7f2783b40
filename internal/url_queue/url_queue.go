package urlqueue

import (
	"net/url"
	"sync"
)

// URLQueue is the FIFO frontier of one domain crawl. A URL is accepted
// at most once: after it has been queued it is never queued again, even
// once popped and visited.
type URLQueue struct {
	queued  map[string]bool
	visited map[string]bool
	queue   []string
	Source  string
	mu      sync.Mutex
}

func NewURLQueue(source string) *URLQueue {
	return &URLQueue{
		queued:  make(map[string]bool),
		visited: make(map[string]bool),
		queue:   make([]string, 0),
		Source:  source,
	}
}

// Add appends urlStr to the back of the queue unless it was seen before.
func (q *URLQueue) Add(urlStr string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	normalized := NormalizeURL(urlStr)
	if q.queued[normalized] || q.visited[normalized] {
		return false
	}
	q.queued[normalized] = true
	q.queue = append(q.queue, normalized)
	return true
}

func (q *URLQueue) Get() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.queue) == 0 {
		return "", false
	}
	u := q.queue[0]
	q.queue = q.queue[1:]
	return u, true
}

func (q *URLQueue) MarkVisited(urlStr string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.visited[NormalizeURL(urlStr)] = true
}

func (q *URLQueue) Visited(urlStr string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.visited[NormalizeURL(urlStr)]
}

func (q *URLQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

func (q *URLQueue) VisitedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.visited)
}

// NormalizeURL drops the fragment and defaults the scheme to https.
func NormalizeURL(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return urlStr
	}

	parsed.Fragment = ""
	parsed.RawFragment = ""

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}

	return parsed.String()
}
