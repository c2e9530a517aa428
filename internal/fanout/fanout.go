// Package fanout delivers one message to many subscribers without ever
// blocking the publisher. A subscriber whose buffer is full is evicted.
package fanout

import "sync"

// Subscriber receives published messages. Offer must not block; it reports
// false when the subscriber cannot take the message right now.
type Subscriber[M any] interface {
	ID() string
	Offer(msg M) bool
	// Evict is called once after the group drops a slow subscriber.
	Evict(reason string)
}

// Group is a set of subscribers keyed by ID.
type Group[M any] struct {
	mu   sync.Mutex
	subs map[string]Subscriber[M]
	// OnEvict, when set, observes every eviction (logging, metrics).
	OnEvict func(id string)
}

func NewGroup[M any]() *Group[M] {
	return &Group[M]{subs: make(map[string]Subscriber[M])}
}

// Add registers sub, replacing any subscriber with the same ID.
func (g *Group[M]) Add(sub Subscriber[M]) {
	if sub == nil {
		return
	}
	g.mu.Lock()
	g.subs[sub.ID()] = sub
	g.mu.Unlock()
}

// Remove forgets the subscriber without evicting it.
func (g *Group[M]) Remove(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.subs[id]
	delete(g.subs, id)
	return ok
}

func (g *Group[M]) Has(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.subs[id]
	return ok
}

func (g *Group[M]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// Publish offers msg to every subscriber.
func (g *Group[M]) Publish(msg M) {
	g.publish(msg, "")
}

// PublishExcept offers msg to every subscriber other than skipID.
func (g *Group[M]) PublishExcept(skipID string, msg M) {
	g.publish(msg, skipID)
}

// Send offers msg to a single subscriber. Unknown IDs are ignored.
func (g *Group[M]) Send(id string, msg M) bool {
	g.mu.Lock()
	sub, ok := g.subs[id]
	g.mu.Unlock()
	if !ok {
		return false
	}
	if sub.Offer(msg) {
		return true
	}
	g.evict([]Subscriber[M]{sub})
	return false
}

// Clear forgets every subscriber without evicting them.
func (g *Group[M]) Clear() {
	g.mu.Lock()
	clear(g.subs)
	g.mu.Unlock()
}

func (g *Group[M]) publish(msg M, skipID string) {
	var slow []Subscriber[M]
	g.mu.Lock()
	for id, sub := range g.subs {
		if id == skipID {
			continue
		}
		if !sub.Offer(msg) {
			slow = append(slow, sub)
		}
	}
	g.mu.Unlock()
	g.evict(slow)
}

func (g *Group[M]) evict(slow []Subscriber[M]) {
	if len(slow) == 0 {
		return
	}
	g.mu.Lock()
	for _, sub := range slow {
		if cur, ok := g.subs[sub.ID()]; ok && cur == sub {
			delete(g.subs, sub.ID())
		}
	}
	g.mu.Unlock()
	// Evict runs outside the lock; subscribers may call back into the group.
	for _, sub := range slow {
		sub.Evict("slow consumer")
		if g.OnEvict != nil {
			g.OnEvict(sub.ID())
		}
	}
}
