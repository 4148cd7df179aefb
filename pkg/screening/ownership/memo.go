package ownership

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Mindburn-Labs/exposure/pkg/screening/normalize"
)

// Memo caches lookups for the lifetime of one batch run. Entries are keyed
// by normalized name; concurrent lookups of the same key share one call.
// Failures are cached too, except cancellations of the caller's context.
type Memo struct {
	next  Lookup
	cache memoCache[Ownership]
}

func NewMemo(next Lookup) *Memo {
	return &Memo{next: next}
}

func (m *Memo) Lookup(ctx context.Context, name string) (Ownership, error) {
	o, err := m.cache.do(ctx, name, func() (Ownership, error) {
		return m.next.Lookup(ctx, name)
	})
	return withSubject(o, name), err
}

// Calls returns how many lookups reached the wrapped Lookup.
func (m *Memo) Calls() int { return m.cache.callCount() }

// Len returns the number of cached entries.
func (m *Memo) Len() int { return m.cache.size() }

// SiblingMemo is Memo for sibling listings.
type SiblingMemo struct {
	next  SiblingLister
	cache memoCache[[]string]
}

func NewSiblingMemo(next SiblingLister) *SiblingMemo {
	return &SiblingMemo{next: next}
}

func (m *SiblingMemo) Siblings(ctx context.Context, name string) ([]string, error) {
	sibs, err := m.cache.do(ctx, name, func() ([]string, error) {
		return m.next.Siblings(ctx, name)
	})
	return append(sibs[:0:0], sibs...), err
}

// Calls returns how many listings reached the wrapped SiblingLister.
func (m *SiblingMemo) Calls() int { return m.cache.callCount() }

// memoCache is the shared singleflight-backed store behind both memos.
type memoCache[T any] struct {
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]memoEntry[T]
	calls   int
}

type memoEntry[T any] struct {
	v   T
	err error
}

func (c *memoCache[T]) do(ctx context.Context, name string, call func() (T, error)) (T, error) {
	key := normalize.Company(name)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return e.v, e.err
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.Lock()
		c.calls++
		c.mu.Unlock()

		v, err := call()
		if err != nil && ctx.Err() != nil {
			return v, err
		}
		c.mu.Lock()
		if c.entries == nil {
			c.entries = make(map[string]memoEntry[T])
		}
		c.entries[key] = memoEntry[T]{v: v, err: err}
		c.mu.Unlock()
		return v, err
	})
	out, _ := v.(T)
	return out, err
}

func (c *memoCache[T]) callCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calls
}

func (c *memoCache[T]) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// withSubject returns a copy of o addressed to name, with its own edge slice.
func withSubject(o Ownership, name string) Ownership {
	if o.Subject == "" && o.Edges == nil {
		return o
	}
	o.Subject = name
	o.Edges = append(o.Edges[:0:0], o.Edges...)
	return o
}
