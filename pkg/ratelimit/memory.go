package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultMaxKeys = 10_000

type visitor struct {
	key     string
	limiter *rate.Limiter
}

// MemoryStore keeps one limiter per key in process. Keys are held in
// recency order; when MaxKeys is reached the least recently seen key is
// evicted in constant time, so memory stays bounded without a sweeper.
type MemoryStore struct {
	mu       sync.Mutex
	visitors map[string]*list.Element
	recency  *list.List // front is most recent
	maxKeys  int
	now      func() time.Time
}

func NewMemoryStore(maxKeys int) *MemoryStore {
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	return &MemoryStore{
		visitors: make(map[string]*list.Element),
		recency:  list.New(),
		maxKeys:  maxKeys,
		now:      time.Now,
	}
}

func (s *MemoryStore) Allow(_ context.Context, key string, p Policy) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.visitors[key]
	if ok {
		s.recency.MoveToFront(el)
	} else {
		if s.recency.Len() >= s.maxKeys {
			s.evictOldest()
		}
		el = s.recency.PushFront(&visitor{key: key, limiter: rate.NewLimiter(rate.Limit(p.RPS), p.Burst)})
		s.visitors[key] = el
	}
	return el.Value.(*visitor).limiter.AllowN(s.now(), 1), nil
}

// Len reports the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recency.Len()
}

func (s *MemoryStore) evictOldest() {
	el := s.recency.Back()
	if el == nil {
		return
	}
	s.recency.Remove(el)
	delete(s.visitors, el.Value.(*visitor).key)
}
