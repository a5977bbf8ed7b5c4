package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"spendly/internal/events"
	"spendly/internal/identity"
	"spendly/internal/log"
	"spendly/internal/session"
	"spendly/internal/store"
	"spendly/internal/store/memory"
)

// fakeWatcher hands the test the callbacks of every Watch call.
type fakeWatcher struct {
	mu      sync.Mutex
	watches []*fakeWatch
	started chan *fakeWatch
}

type fakeWatch struct {
	q          store.Query
	onSnapshot func([]store.Document)
	onError    func(error)
	released   bool
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{started: make(chan *fakeWatch, 16)}
}

func (f *fakeWatcher) Watch(ctx context.Context, q store.Query, onSnapshot func([]store.Document), onError func(error)) func() {
	w := &fakeWatch{q: q, onSnapshot: onSnapshot, onError: onError}
	f.mu.Lock()
	f.watches = append(f.watches, w)
	f.mu.Unlock()
	f.started <- w
	return func() {
		f.mu.Lock()
		w.released = true
		f.mu.Unlock()
	}
}

func (f *fakeWatcher) isReleased(w *fakeWatch) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return w.released
}

func (f *fakeWatcher) next(t *testing.T) *fakeWatch {
	t.Helper()
	select {
	case w := <-f.started:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("no watch started")
		return nil
	}
}

func expenseDoc(id, owner, amount, date string) store.Document {
	f := store.Fields{"ownerId": owner, "amount": json.Number(amount), "category": "Food"}
	if date != "" {
		f["date"] = date
	}
	return store.Document{ID: id, Fields: f}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
		var zero T
		return zero
	}
}

func TestSubscribe_DeliversSnapshots(t *testing.T) {
	fw := newFakeWatcher()
	f := New(fw, log.Discard())

	sub := f.Subscribe(context.Background(), "u1")
	defer sub.Close()
	w := fw.next(t)

	if w.q.Key() != OwnerQuery("u1").Key() {
		t.Errorf("query = %s", w.q.Key())
	}

	w.onSnapshot([]store.Document{
		expenseDoc("a", "u1", "12.50", "2024-03-02"),
		expenseDoc("b", "u1", "oops", "2024-03-01"),
		expenseDoc("c", "u1", "40", ""),
	})
	snap := recv(t, sub.Updates())
	if len(snap.Expenses) != 2 || snap.Skipped != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Expenses[0].ID != "a" || snap.Expenses[1].ID != "c" {
		t.Errorf("order changed: %+v", snap.Expenses)
	}
}

func TestSubscribe_LatestWins(t *testing.T) {
	fw := newFakeWatcher()
	sub := New(fw, log.Discard()).Subscribe(context.Background(), "u1")
	defer sub.Close()
	w := fw.next(t)

	w.onSnapshot(nil)
	w.onSnapshot([]store.Document{expenseDoc("a", "u1", "1", "2024-01-01")})

	if snap := recv(t, sub.Updates()); len(snap.Expenses) != 1 {
		t.Errorf("got stale snapshot %+v", snap)
	}
}

func TestSubscribe_FailureStops(t *testing.T) {
	fw := newFakeWatcher()
	sub := New(fw, log.Discard()).Subscribe(context.Background(), "u1")
	w := fw.next(t)

	boom := errors.New("permission denied")
	w.onError(boom)

	recv(t, sub.Done())
	if !errors.Is(sub.Err(), boom) {
		t.Errorf("Err = %v", sub.Err())
	}
	if !fw.isReleased(w) {
		t.Error("watch not released after failure")
	}

	w.onSnapshot([]store.Document{expenseDoc("a", "u1", "1", "2024-01-01")})
	select {
	case snap := <-sub.Updates():
		t.Errorf("snapshot after failure: %+v", snap)
	default:
	}
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	fw := newFakeWatcher()
	sub := New(fw, log.Discard()).Subscribe(context.Background(), "u1")
	w := fw.next(t)

	sub.Close()
	sub.Close()
	if !fw.isReleased(w) {
		t.Error("watch not released")
	}
	if sub.Err() != nil {
		t.Errorf("Err after Close = %v", sub.Err())
	}
}

type identitySource struct {
	mu sync.Mutex
	fn func(*identity.User)
}

func (s *identitySource) Subscribe(sid string, fn func(*identity.User)) func() {
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
	return func() {}
}

func (s *identitySource) emit(u *identity.User) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	fn(u)
}

func TestTracker_FollowsIdentity(t *testing.T) {
	fw := newFakeWatcher()
	f := New(fw, log.Discard())
	src := &identitySource{}
	ana := &identity.User{ID: "u1"}
	state := session.New(src, "sid", ana)
	state.Init()

	tr := f.Track(context.Background(), state)
	defer tr.Close()

	first := fw.next(t)
	first.onSnapshot([]store.Document{expenseDoc("a", "u1", "5", "2024-01-01")})
	up := recv(t, tr.Updates())
	if up.User != ana || len(up.Snapshot.Expenses) != 1 {
		t.Fatalf("first update = %+v", up)
	}

	// Signing out releases the feed and yields an empty snapshot.
	src.emit(nil)
	up = recv(t, tr.Updates())
	if up.User != nil || len(up.Snapshot.Expenses) != 0 {
		t.Fatalf("sign-out update = %+v", up)
	}
	if !fw.isReleased(first) {
		t.Error("first watch not released on sign-out")
	}

	// Late callbacks from the released watch are ignored.
	first.onSnapshot([]store.Document{expenseDoc("b", "u1", "5", "2024-01-02")})

	bob := &identity.User{ID: "u2"}
	src.emit(bob)
	second := fw.next(t)
	if second.q.Where[0].Value != "u2" {
		t.Errorf("second watch query = %s", second.q.Key())
	}
	second.onSnapshot(nil)
	up = recv(t, tr.Updates())
	if up.User != bob || len(up.Snapshot.Expenses) != 0 {
		t.Fatalf("bob update = %+v", up)
	}

	tr.Close()
	if !fw.isReleased(second) {
		t.Error("second watch not released on Close")
	}
}

func TestTracker_NoIdentity(t *testing.T) {
	fw := newFakeWatcher()
	state := session.New(&identitySource{}, "sid", nil)
	state.Init()

	tr := New(fw, log.Discard()).Track(context.Background(), state)
	defer tr.Close()

	up := recv(t, tr.Updates())
	if up.User != nil || len(up.Snapshot.Expenses) != 0 || up.Err != nil {
		t.Fatalf("update = %+v", up)
	}
	if len(fw.started) != 0 {
		t.Error("no watch should start without an identity")
	}
}

func TestTracker_ReportsFailure(t *testing.T) {
	fw := newFakeWatcher()
	state := session.New(&identitySource{}, "sid", &identity.User{ID: "u1"})
	state.Init()

	tr := New(fw, log.Discard()).Track(context.Background(), state)
	defer tr.Close()

	fw.next(t).onError(errors.New("network down"))
	up := recv(t, tr.Updates())
	if up.Err == nil || up.Err.Error() != "network down" {
		t.Fatalf("update = %+v", up)
	}
}

func TestFeed_WithLiveStore(t *testing.T) {
	live := store.NewLive(memory.New(), events.NewLocal(), log.Discard())
	defer live.Close()
	ctx := context.Background()

	sub := New(live, log.Discard()).Subscribe(ctx, "u1")
	defer sub.Close()

	if snap := recv(t, sub.Updates()); len(snap.Expenses) != 0 {
		t.Fatalf("initial snapshot = %+v", snap)
	}

	if _, err := live.Add(ctx, Collection, store.Fields{"ownerId": "u2", "amount": 1, "date": "2024-01-01"}); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{"2024-01-01", "2024-02-01"} {
		if _, err := live.Add(ctx, Collection, store.Fields{"ownerId": "u1", "amount": 1, "date": d}); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-sub.Updates():
			if len(snap.Expenses) == 2 {
				if snap.Expenses[0].Date.Month() != time.February {
					t.Errorf("not ordered by date desc: %+v", snap.Expenses)
				}
				return
			}
		case <-deadline:
			t.Fatal("never saw both expenses")
		}
	}
}

func TestFeed_Load(t *testing.T) {
	live := store.NewLive(memory.New(), events.NewLocal(), log.Discard())
	defer live.Close()
	ctx := context.Background()

	if _, err := live.Add(ctx, Collection, store.Fields{"ownerId": "u1", "amount": json.Number("4.50"), "category": "Food", "date": "2024-01-01"}); err != nil {
		t.Fatal(err)
	}

	snap, err := New(live, log.Discard()).Load(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Expenses) != 1 || snap.Expenses[0].Amount.Cents != 450 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if n := live.Watchers(); n != 0 {
		t.Errorf("Load left %d watchers open", n)
	}
}

func TestFeed_LoadFailure(t *testing.T) {
	boom := errors.New("disk gone")
	mem := memory.New()
	mem.FailWith(boom)
	live := store.NewLive(mem, events.NewLocal(), log.Discard())
	defer live.Close()

	if _, err := New(live, log.Discard()).Load(context.Background(), "u1"); !errors.Is(err, boom) {
		t.Fatalf("Load err = %v", err)
	}
}
