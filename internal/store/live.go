package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"spendly/internal/events"
	"spendly/internal/log"
)

// liveQueryTimeout bounds a single re-query triggered by a change.
const liveQueryTimeout = 10 * time.Second

// Live adds change notification and live queries on top of a Store.
//
// Every committed mutation is announced on the event bus. Watchers on this
// instance are notified directly; changes from other instances arrive through
// Run. A watcher re-runs its query whenever a relevant change lands and hands
// the complete result to its callback. Rapid changes coalesce into fewer
// snapshots; the last delivered snapshot always reflects the latest query.
type Live struct {
	Store
	bus    events.Bus
	origin string
	logger *log.Logger
	group  singleflight.Group

	mu       sync.Mutex
	watchers map[uint64]*watcher
	nextID   uint64
}

type watcher struct {
	q          Query
	onSnapshot func([]Document)
	onError    func(error)
	dirty      chan struct{}
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewLive(s Store, bus events.Bus, logger *log.Logger) *Live {
	return &Live{
		Store:    s,
		bus:      bus,
		origin:   uuid.NewString(),
		logger:   logger.WithComponent(log.ComponentStore),
		watchers: make(map[uint64]*watcher),
	}
}

// Run consumes changes published by other instances until ctx is done.
func (l *Live) Run(ctx context.Context) error {
	return l.bus.Subscribe(ctx, func(_ context.Context, c events.Change) error {
		if c.Origin == l.origin {
			return nil
		}
		l.dispatch(c)
		return nil
	})
}

func (l *Live) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	id, err := l.Store.Add(ctx, collection, fields)
	if err != nil {
		return "", err
	}
	l.announce(ctx, events.Change{Collection: collection, DocumentID: id, Op: events.OpAdd, Match: StringFields(fields)})
	return id, nil
}

func (l *Live) Update(ctx context.Context, collection, id string, fields Fields) error {
	if err := l.Store.Update(ctx, collection, id, fields); err != nil {
		return err
	}
	match := StringFields(fields)
	if doc, err := l.Store.Get(ctx, collection, id); err == nil {
		match = StringFields(doc.Fields)
	}
	l.announce(ctx, events.Change{Collection: collection, DocumentID: id, Op: events.OpUpdate, Match: match})
	return nil
}

func (l *Live) Delete(ctx context.Context, collection, id string) error {
	var match map[string]string
	if doc, err := l.Store.Get(ctx, collection, id); err == nil {
		match = StringFields(doc.Fields)
	}
	if err := l.Store.Delete(ctx, collection, id); err != nil {
		return err
	}
	l.announce(ctx, events.Change{Collection: collection, DocumentID: id, Op: events.OpDelete, Match: match})
	return nil
}

// announce runs after commit; a publish failure is logged, never returned,
// because the write itself already succeeded.
func (l *Live) announce(ctx context.Context, c events.Change) {
	c.Origin = l.origin
	c.At = time.Now().UTC()
	l.dispatch(c)
	if err := l.bus.Publish(ctx, c); err != nil {
		l.logger.WarnContext(ctx, "Change publish failed",
			log.FieldOperation, log.OpPublish,
			log.FieldCollection, c.Collection,
			log.FieldDocumentID, c.DocumentID,
			log.FieldError, err)
	}
}

// Watch starts a live query. onSnapshot receives the initial result and a
// fresh one after every relevant change; the slice is shared and must not be
// modified. If a query fails, onError is called once and the watch ends.
// Callbacks for one watch never run concurrently. The returned function
// releases the watch and may be called any number of times.
func (l *Live) Watch(ctx context.Context, q Query, onSnapshot func([]Document), onError func(error)) (unsubscribe func()) {
	w := &watcher{
		q:          q,
		onSnapshot: onSnapshot,
		onError:    onError,
		dirty:      make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.watchers[id] = w
	l.mu.Unlock()

	w.poke()
	go l.runWatcher(ctx, id, w)

	return func() { l.release(id, w) }
}

// Watchers returns the number of active watches.
func (l *Live) Watchers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.watchers)
}

func (l *Live) release(id uint64, w *watcher) {
	w.stopOnce.Do(func() { close(w.stop) })
	l.mu.Lock()
	delete(l.watchers, id)
	l.mu.Unlock()
}

func (l *Live) runWatcher(ctx context.Context, id uint64, w *watcher) {
	defer l.release(id, w)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-w.dirty:
		}

		docs, err := l.query(ctx, w.q)
		if w.stopped() {
			return
		}
		if err != nil {
			l.logger.ErrorContext(ctx, "Live query failed",
				log.FieldOperation, log.OpWatch,
				log.FieldCollection, w.q.Collection,
				log.FieldError, err)
			w.onError(err)
			return
		}
		w.onSnapshot(docs)
	}
}

// query coalesces identical concurrent queries. The shared call must outlive
// any single watcher's context. dispatch forgets the key of every query a
// change touches, so a caller poked after a commit never joins a call that
// started before it.
func (l *Live) query(ctx context.Context, q Query) ([]Document, error) {
	v, err, _ := l.group.Do(q.Key(), func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), liveQueryTimeout)
		defer cancel()
		return l.Store.Query(qctx, q)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Document), nil
}

func (l *Live) dispatch(c events.Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.watchers {
		if w.q.Collection == c.Collection && changeMatches(w.q.Where, c.Match) {
			l.group.Forget(w.q.Key())
			w.poke()
		}
	}
}

// changeMatches is conservative: conditions on non-string values always match.
func changeMatches(where []Condition, match map[string]string) bool {
	for _, cond := range where {
		want, ok := cond.Value.(string)
		if !ok {
			continue
		}
		if got, ok := match[cond.Field]; ok && got != want {
			return false
		}
	}
	return true
}

func (w *watcher) poke() {
	select {
	case w.dirty <- struct{}{}:
	default:
	}
}

func (w *watcher) stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// Close releases every watch and closes the underlying store.
func (l *Live) Close() error {
	l.mu.Lock()
	ws := make([]*watcher, 0, len(l.watchers))
	for _, w := range l.watchers {
		ws = append(ws, w)
	}
	l.watchers = make(map[uint64]*watcher)
	l.mu.Unlock()

	for _, w := range ws {
		w.stopOnce.Do(func() { close(w.stop) })
	}
	return l.Store.Close()
}
