package events

import (
	"context"
	"sync"
)

// Local fans changes out to in-process subscribers. Each subscriber receives
// changes in publish order on its own goroutine.
type Local struct {
	mu     sync.RWMutex
	subs   map[int]*localSub
	nextID int
	closed bool
	done   chan struct{}
}

type localSub struct {
	ch   chan Change
	quit chan struct{}
}

const localBuffer = 64

func NewLocal() *Local {
	return &Local{
		subs: make(map[int]*localSub),
		done: make(chan struct{}),
	}
}

func (b *Local) Publish(ctx context.Context, c Change) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := make([]*localSub, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.ch <- c:
		case <-s.quit:
		case <-b.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *Local) Subscribe(ctx context.Context, handler Handler) error {
	s := &localSub{ch: make(chan Change, localBuffer), quit: make(chan struct{})}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(s.quit)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return ErrClosed
		case c := <-s.ch:
			// In-process handlers have no redelivery; errors are theirs to log.
			_ = handler(ctx, c)
		}
	}
}

func (b *Local) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}
