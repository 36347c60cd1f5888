package api

import (
	"strings"
	"sync"
)

// Likes counts likes per salesperson for the lifetime of the server.
// Counts are not persisted.
type Likes struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewLikes() *Likes {
	return &Likes{counts: make(map[string]int)}
}

// Add records one like and returns the new count.
func (l *Likes) Add(name string) int {
	name = strings.TrimSpace(name)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[name]++
	return l.counts[name]
}

// All returns a snapshot of every count.
func (l *Likes) All() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int, len(l.counts))
	for k, v := range l.counts {
		out[k] = v
	}
	return out
}
