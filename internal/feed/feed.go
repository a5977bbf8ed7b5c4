// Package feed keeps a live, owner-scoped list of expenses.
//
// A Subscription watches the "expenses" collection for one owner, ordered by
// date descending, and republishes the full normalized snapshot after every
// change. A Tracker follows a client's identity and swaps subscriptions when
// the identity changes.
package feed

import (
	"context"
	"sync"
	"time"

	"spendly/internal/core"
	"spendly/internal/log"
	"spendly/internal/store"
)

const Collection = "expenses"

// Snapshot is the complete list of an owner's readable expenses.
type Snapshot struct {
	Expenses []core.Expense
	// Skipped counts stored records that could not be normalized.
	Skipped int
}

// Watcher runs live queries; *store.Live implements it.
type Watcher interface {
	Watch(ctx context.Context, q store.Query, onSnapshot func([]store.Document), onError func(error)) (unsubscribe func())
}

type Feed struct {
	watcher Watcher
	logger  *log.Logger
	now     func() time.Time
}

func New(w Watcher, logger *log.Logger) *Feed {
	return &Feed{
		watcher: w,
		logger:  logger.WithComponent(log.ComponentFeed),
		now:     time.Now,
	}
}

// OwnerQuery is the live query backing an owner's feed.
func OwnerQuery(ownerID string) store.Query {
	return store.Query{
		Collection: Collection,
		Where:      []store.Condition{{Field: FieldOwnerID, Value: ownerID}},
		OrderBy:    FieldDate,
		Descending: true,
	}
}

// Subscribe starts watching ownerID's expenses. The subscription ends when
// ctx is done, Close is called or the live query fails.
func (f *Feed) Subscribe(ctx context.Context, ownerID string) *Subscription {
	s := &Subscription{
		updates: make(chan Snapshot, 1),
		done:    make(chan struct{}),
	}
	unsubscribe := f.watcher.Watch(ctx, OwnerQuery(ownerID),
		func(docs []store.Document) { s.deliver(f.snapshot(ctx, ownerID, docs)) },
		func(err error) {
			f.logger.ErrorContext(ctx, "Expense feed stopped", log.FieldOwnerID, ownerID, log.FieldError, err)
			s.fail(err)
		})
	s.mu.Lock()
	closed := s.closed
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
	if closed {
		unsubscribe()
	}

	f.logger.DebugContext(ctx, "Expense feed started", log.FieldOwnerID, ownerID, log.FieldOperation, log.OpWatch)
	return s
}

// Load returns ownerID's current snapshot without keeping a watch open.
func (f *Feed) Load(ctx context.Context, ownerID string) (Snapshot, error) {
	sub := f.Subscribe(ctx, ownerID)
	defer sub.Close()

	select {
	case snap := <-sub.Updates():
		return snap, nil
	case <-sub.Done():
		if err := sub.Err(); err != nil {
			return Snapshot{}, err
		}
		return Snapshot{}, ctx.Err()
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (f *Feed) snapshot(ctx context.Context, ownerID string, docs []store.Document) Snapshot {
	now := f.now()
	snap := Snapshot{Expenses: make([]core.Expense, 0, len(docs))}
	for _, doc := range docs {
		e, defaulted, err := Normalize(doc, now)
		if err != nil {
			snap.Skipped++
			f.logger.WarnContext(ctx, "Skipping unreadable expense",
				log.FieldOwnerID, ownerID,
				log.FieldDocumentID, doc.ID,
				log.FieldOperation, log.OpNormalize,
				log.FieldError, err)
			continue
		}
		if defaulted {
			f.logger.WarnContext(ctx, "Expense has no date, using current time",
				log.FieldOwnerID, ownerID,
				log.FieldDocumentID, doc.ID,
				log.FieldOperation, log.OpNormalize)
		}
		snap.Expenses = append(snap.Expenses, e)
	}
	return snap
}

// Subscription is one owner's live expense feed.
type Subscription struct {
	updates     chan Snapshot
	done        chan struct{}
	unsubscribe func()

	mu     sync.Mutex
	closed bool
	err    error
}

// Updates delivers snapshots. A reader that falls behind only sees the most
// recent one.
func (s *Subscription) Updates() <-chan Snapshot { return s.updates }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns the live query failure that ended the subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) deliver(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case <-s.updates:
	default:
	}
	s.updates <- snap
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.err = err
	s.mu.Unlock()
	s.Close()
}

// Close releases the live query. It is safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	close(s.done)
	if unsubscribe != nil {
		unsubscribe()
	}
}
