package feed

import (
	"context"
	"sync"

	"spendly/internal/identity"
	"spendly/internal/session"
)

// Update is what a Tracker reports: the identity it follows and either that
// identity's latest snapshot or the failure that stopped its feed.
type Update struct {
	User     *identity.User
	Snapshot Snapshot
	Err      error
}

// Tracker keeps one Subscription open for whoever is signed in on a session.
type Tracker struct {
	feed    *Feed
	state   *session.State
	updates chan Update
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Track follows state until ctx is done or Close is called. state must
// already be initialized.
func (f *Feed) Track(ctx context.Context, state *session.State) *Tracker {
	t := &Tracker{
		feed:    f,
		state:   state,
		updates: make(chan Update, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go t.run(ctx)
	return t
}

// Updates delivers the newest Update; older undelivered ones are dropped.
func (t *Tracker) Updates() <-chan Update { return t.updates }

// Done is closed once the tracker has released its subscription.
func (t *Tracker) Done() <-chan struct{} { return t.done }

// Close stops tracking and waits for the current subscription to be released.
func (t *Tracker) Close() {
	t.once.Do(func() { close(t.stop) })
	<-t.done
}

func (t *Tracker) run(ctx context.Context) {
	defer close(t.done)

	var (
		user *identity.User
		sub  *Subscription
	)
	defer func() {
		if sub != nil {
			sub.Close()
		}
	}()

	follow := func(u *identity.User) {
		if sub != nil {
			sub.Close()
			sub = nil
		}
		user = u
		// Nothing from the previous identity may be read after a switch.
		t.drain()
		if u == nil {
			t.emit(Update{})
			return
		}
		sub = t.feed.Subscribe(ctx, u.ID)
	}

	current, _ := t.state.Current()
	follow(current)

	for {
		var (
			snaps <-chan Snapshot
			ended <-chan struct{}
		)
		if sub != nil {
			snaps, ended = sub.Updates(), sub.Done()
		}

		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case u := <-t.state.Changes():
			if sameUser(u, user) {
				continue
			}
			follow(u)
		case snap := <-snaps:
			t.emit(Update{User: user, Snapshot: snap})
		case <-ended:
			if err := sub.Err(); err != nil {
				t.emit(Update{User: user, Err: err})
			}
			sub = nil
		}
	}
}

func (t *Tracker) drain() {
	select {
	case <-t.updates:
	default:
	}
}

// emit is only called from run, so drain then send cannot block.
func (t *Tracker) emit(u Update) {
	t.drain()
	t.updates <- u
}

func sameUser(a, b *identity.User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}
