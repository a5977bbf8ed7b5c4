package gateway

import (
	"sync"
	"time"
)

// DefaultNoticeDuration is how long a notice stays up.
const DefaultNoticeDuration = 3 * time.Second

type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notice is a transient message for the user.
type Notice struct {
	Kind     NoticeKind
	Text     string
	Duration time.Duration
}

// Milliseconds is the display time in the form the browser expects.
func (n Notice) Milliseconds() int64 { return n.Duration.Milliseconds() }

// Timer is the part of *time.Timer a Board needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d; time.AfterFunc satisfies it once wrapped.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Board holds the notice currently shown to one client. Posting replaces the
// previous notice; each notice clears itself after its Duration.
type Board struct {
	afterFunc AfterFunc

	mu      sync.Mutex
	current *Notice
	timer   Timer
}

// NewBoard returns an empty board. A nil afterFunc uses time.AfterFunc.
func NewBoard(afterFunc AfterFunc) *Board {
	if afterFunc == nil {
		afterFunc = realAfterFunc
	}
	return &Board{afterFunc: afterFunc}
}

// Post shows n until its Duration passes or another notice is posted.
func (b *Board) Post(n Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	posted := &n
	b.current = posted
	if n.Duration > 0 {
		b.timer = b.afterFunc(n.Duration, func() { b.expire(posted) })
	}
}

func (b *Board) expire(n *Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current != n {
		return
	}
	b.current = nil
	b.timer = nil
}

// Current returns the notice on display, if any.
func (b *Board) Current() (Notice, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return Notice{}, false
	}
	return *b.current, true
}

// Close cancels the pending clear.
func (b *Board) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
