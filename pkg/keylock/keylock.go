// Package keylock provides striped mutexes keyed by string ids.
package keylock

import (
	"hash/fnv"
	"sync"
)

const defaultStripes = 64

// Striped maps keys onto a fixed set of mutexes. Operations on the same key
// are serialised; distinct keys rarely contend.
type Striped struct {
	stripes []sync.Mutex
}

// New returns a Striped lock with n stripes (a default is used when n <= 0).
func New(n int) *Striped {
	if n <= 0 {
		n = defaultStripes
	}
	return &Striped{stripes: make([]sync.Mutex, n)}
}

func (s *Striped) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.stripes[h.Sum32()%uint32(len(s.stripes))]
}

// Lock acquires the stripe of key and returns its unlock func.
func (s *Striped) Lock(key string) func() {
	mu := s.stripe(key)
	mu.Lock()
	return mu.Unlock
}

// Do runs fn while holding the stripe of key.
func (s *Striped) Do(key string, fn func() error) error {
	unlock := s.Lock(key)
	defer unlock()
	return fn()
}
