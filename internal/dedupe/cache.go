// ABOUTME: Thread-safe TTL cache that remembers recently used signature keys
// ABOUTME: Rejects a key seen within the window so signed requests cannot be replayed

package dedupe

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

// ErrFull is returned when every remembered key is still inside its window.
var ErrFull = errors.New("replay cache full")

// sweepInterval is how often expired keys are dropped in the background.
const sweepInterval = time.Minute

type entry struct {
	key    string
	seenAt time.Time
}

// Cache remembers keys for ttl, holding at most maxSize of them. A key is
// never forgotten before its window ends; when no expired key can make room,
// new keys are refused with ErrFull.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // *entry values, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// New creates a cache and starts its background sweeper. Call Close to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	c := newCache(ttl, maxSize, time.Now)
	go c.sweepLoop()
	return c
}

func newCache(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
}

// CheckAndMark reports whether key was already seen inside the window.
// A new or expired key is recorded and false is returned. If the cache is
// full of live keys, key is not recorded and ErrFull is returned.
func (c *Cache) CheckAndMark(key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.index[key]; ok {
		e := elem.Value.(*entry)
		if now.Sub(e.seenAt) < c.ttl {
			return true, nil
		}
		e.seenAt = now
		c.order.MoveToBack(elem)
		return false, nil
	}

	if len(c.index) >= c.maxSize {
		c.dropExpired(now)
		if len(c.index) >= c.maxSize {
			return false, ErrFull
		}
	}
	c.index[key] = c.order.PushBack(&entry{key: key, seenAt: now})
	return false, nil
}

// Len returns the number of remembered keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropExpired(c.now())
}

// dropExpired removes keys whose window has ended. Entries are ordered by
// seenAt, so it stops at the first live one.
func (c *Cache) dropExpired(now time.Time) {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		e := front.Value.(*entry)
		if now.Sub(e.seenAt) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.index, e.key)
	}
}

// Close stops the background sweeper. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
