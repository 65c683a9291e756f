// Package lock serializes work on individual sales, returns, orders and the ledger.
package lock

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Locker acquires every key or none. Keys are taken in sorted order so two
// callers asking for overlapping sets never deadlock.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

func SaleKey(ticket int64) string { return fmt.Sprintf("sale:%d", ticket) }

func ReturnKey(id int64) string { return fmt.Sprintf("return:%d", id) }

func OrderKey(id int64) string { return fmt.Sprintf("order:%d", id) }

const LedgerKey = "ledger"

func normalize(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}

// Memory is an in-process Locker.
type Memory struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewMemory() *Memory {
	return &Memory{slots: make(map[string]*slot)}
}

func (m *Memory) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	held := make([]string, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			m.release(held[i])
		}
	}
	for _, key := range keys {
		if err := m.acquire(ctx, key); err != nil {
			release()
			return nil, err
		}
		held = append(held, key)
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (m *Memory) acquire(ctx context.Context, key string) error {
	m.mu.Lock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	m.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		m.drop(key, s)
		return ctx.Err()
	}
}

func (m *Memory) release(key string) {
	m.mu.Lock()
	s := m.slots[key]
	m.mu.Unlock()
	<-s.ch
	m.drop(key, s)
}

func (m *Memory) drop(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}
