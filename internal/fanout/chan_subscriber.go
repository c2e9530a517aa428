package fanout

import "sync"

// ChanSubscriber is a Subscriber backed by a buffered channel. The channel is
// closed on eviction so a consumer ranging over it stops.
type ChanSubscriber[M any] struct {
	id   string
	ch   chan M
	once sync.Once

	mu      sync.Mutex
	evicted string
}

func NewChanSubscriber[M any](id string, size int) *ChanSubscriber[M] {
	return &ChanSubscriber[M]{id: id, ch: make(chan M, size)}
}

func (c *ChanSubscriber[M]) ID() string { return c.id }

func (c *ChanSubscriber[M]) C() <-chan M { return c.ch }

func (c *ChanSubscriber[M]) Offer(msg M) (ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.evicted != "" {
		return false
	}
	select {
	case c.ch <- msg:
		return true
	default:
		return false
	}
}

func (c *ChanSubscriber[M]) Evict(reason string) {
	c.once.Do(func() {
		c.mu.Lock()
		c.evicted = reason
		close(c.ch)
		c.mu.Unlock()
	})
}

// EvictedReason returns the eviction reason, or "" while still subscribed.
func (c *ChanSubscriber[M]) EvictedReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}
