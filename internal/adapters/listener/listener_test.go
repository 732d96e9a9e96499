package listener_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/staffrate/internal/adapters/listener"
	"github.com/okian/staffrate/internal/adapters/repository"
	"github.com/okian/staffrate/internal/domain/model"
	"github.com/okian/staffrate/pkg/logger"
)

func init() {
	_ = logger.Init()
}

// recorder collects callbacks in arrival order.
type recorder struct {
	mu         sync.Mutex
	snaps      []model.Snapshot
	lost       []error
	inFlight   int
	overlapped bool
}

func (r *recorder) onSnapshot(_ context.Context, s model.Snapshot) {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > 1 {
		r.overlapped = true
	}
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()

	time.Sleep(time.Millisecond)

	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
}

func (r *recorder) onLost(_ context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lost = append(r.lost, err)
}

func (r *recorder) versions() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, 0, len(r.snaps))
	for _, s := range r.snaps {
		out = append(out, s.Version)
	}
	return out
}

func (r *recorder) lostCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lost)
}

func (r *recorder) firstLost() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lost) == 0 {
		return nil
	}
	return r.lost[0]
}

func (r *recorder) lastVersion() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return 0
	}
	return r.snaps[len(r.snaps)-1].Version
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// scriptedSource hands out one prepared feed per Watch call.
type scriptedSource struct {
	mu    sync.Mutex
	feeds []chan model.Snapshot
	errs  []error
	calls int
}

func (s *scriptedSource) Watch(_ context.Context) (<-chan model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.feeds) {
		return s.feeds[i], nil
	}
	return make(chan model.Snapshot), nil
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestListenerWithMemoryStore(t *testing.T) {
	convey.Convey("Given a listener on a memory store", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore(model.Entity{ID: "1"}, model.Entity{ID: "2"})
		l := listener.New(store, listener.WithReconnectInterval(10*time.Millisecond))
		rec := &recorder{}

		sub := l.Subscribe(ctx, rec.onSnapshot, listener.WithSyncLost(rec.onLost))
		defer sub.Cancel()

		convey.Convey("Then the current state is delivered first", func() {
			convey.So(eventually(func() bool { return len(rec.versions()) >= 1 }), convey.ShouldBeTrue)
			convey.So(rec.versions()[0], convey.ShouldEqual, 0)
		})

		convey.Convey("When votes are applied", func() {
			convey.So(eventually(func() bool { return len(rec.versions()) >= 1 }), convey.ShouldBeTrue)
			for i := 0; i < 20; i++ {
				convey.So(store.ApplyVote(ctx, "1", 5), convey.ShouldBeNil)
			}

			convey.Convey("Then the latest state arrives, in order, one callback at a time", func() {
				convey.So(eventually(func() bool { return rec.lastVersion() == 20 }), convey.ShouldBeTrue)
				vs := rec.versions()
				for i := 1; i < len(vs); i++ {
					convey.So(vs[i], convey.ShouldBeGreaterThanOrEqualTo, vs[i-1])
				}
				rec.mu.Lock()
				overlapped := rec.overlapped
				rec.mu.Unlock()
				convey.So(overlapped, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When the connection drops", func() {
			convey.So(eventually(func() bool { return len(rec.versions()) >= 1 }), convey.ShouldBeTrue)
			store.Disconnect()

			convey.Convey("Then sync loss is reported and the listener resubscribes", func() {
				convey.So(eventually(func() bool { return rec.lostCount() == 1 }), convey.ShouldBeTrue)
				convey.So(errors.Is(rec.firstLost(), listener.ErrSyncLost), convey.ShouldBeTrue)

				convey.So(store.ApplyVote(ctx, "2", 3), convey.ShouldBeNil)
				convey.So(eventually(func() bool { return rec.lastVersion() == 1 }), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the store stays unreachable across several retries", func() {
			convey.So(eventually(func() bool { return len(rec.versions()) >= 1 }), convey.ShouldBeTrue)
			store.SetAvailable(false)
			store.Disconnect()
			time.Sleep(60 * time.Millisecond)

			convey.Convey("Then the outage is reported once", func() {
				convey.So(rec.lostCount(), convey.ShouldEqual, 1)
				store.SetAvailable(true)
				convey.So(store.ApplyVote(ctx, "1", 4), convey.ShouldBeNil)
				convey.So(eventually(func() bool { return rec.lastVersion() == 1 }), convey.ShouldBeTrue)
			})
		})
	})
}

func TestListenerOrdering(t *testing.T) {
	convey.Convey("Given a source whose reconnect returns an older snapshot", t, func() {
		first := make(chan model.Snapshot, 2)
		second := make(chan model.Snapshot, 2)
		first <- model.Snapshot{Version: 5}
		close(first)
		second <- model.Snapshot{Version: 3}
		second <- model.Snapshot{Version: 6}

		src := &scriptedSource{feeds: []chan model.Snapshot{first, second}}
		l := listener.New(src, listener.WithReconnectInterval(time.Millisecond))
		rec := &recorder{}
		sub := l.Subscribe(context.Background(), rec.onSnapshot, listener.WithSyncLost(rec.onLost))
		defer sub.Cancel()

		convey.Convey("Then the older snapshot is never delivered", func() {
			convey.So(eventually(func() bool { return rec.lastVersion() == 6 }), convey.ShouldBeTrue)
			convey.So(rec.versions(), convey.ShouldResemble, []uint64{5, 6})
			convey.So(rec.lostCount(), convey.ShouldEqual, 1)
		})
	})

	convey.Convey("Given a source that fails before connecting", t, func() {
		src := &scriptedSource{
			errs:  []error{repository.ErrStoreUnavailable},
			feeds: []chan model.Snapshot{nil, make(chan model.Snapshot, 1)},
		}
		src.feeds[1] <- model.Snapshot{Version: 1}
		l := listener.New(src, listener.WithReconnectInterval(time.Millisecond))
		rec := &recorder{}
		sub := l.Subscribe(context.Background(), rec.onSnapshot, listener.WithSyncLost(rec.onLost))
		defer sub.Cancel()

		convey.Convey("Then the failure is reported and the retry succeeds", func() {
			convey.So(eventually(func() bool { return rec.lastVersion() == 1 }), convey.ShouldBeTrue)
			convey.So(rec.lostCount(), convey.ShouldEqual, 1)
			convey.So(errors.Is(rec.firstLost(), repository.ErrStoreUnavailable), convey.ShouldBeTrue)
			convey.So(errors.Is(rec.firstLost(), listener.ErrSyncLost), convey.ShouldBeTrue)
		})
	})
}

// lockedBuffer is a bytes.Buffer safe for the delivery goroutine to write to.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestListenerUsesSuppliedLogger(t *testing.T) {
	convey.Convey("Given a named listener with its own logger", t, func() {
		out := &lockedBuffer{}
		src := &scriptedSource{
			errs:  []error{repository.ErrStoreUnavailable},
			feeds: []chan model.Snapshot{nil, make(chan model.Snapshot, 1)},
		}
		src.feeds[1] <- model.Snapshot{Version: 1}
		l := listener.New(src,
			listener.WithName("kiosk"),
			listener.WithLogger(logger.New(logger.WithWriter(out))),
			listener.WithReconnectInterval(time.Millisecond),
		)
		rec := &recorder{}
		sub := l.Subscribe(context.Background(), rec.onSnapshot)

		convey.Convey("Then sync changes are logged there under its name", func() {
			convey.So(eventually(func() bool { return rec.lastVersion() == 1 }), convey.ShouldBeTrue)
			sub.Cancel()

			text := out.String()
			convey.So(text, convey.ShouldContainSubstring, "sync lost")
			convey.So(text, convey.ShouldContainSubstring, "sync restored")
			convey.So(text, convey.ShouldContainSubstring, "component=kiosk")
		})
	})
}

func TestSubscriptionCancel(t *testing.T) {
	convey.Convey("Given an active subscription", t, func() {
		src := &scriptedSource{}
		l := listener.New(src)
		rec := &recorder{}
		sub := l.Subscribe(context.Background(), rec.onSnapshot)
		convey.So(eventually(func() bool { return src.callCount() == 1 }), convey.ShouldBeTrue)

		convey.Convey("When it is cancelled", func() {
			sub.Cancel()

			convey.Convey("Then the loop has exited", func() {
				exited := false
				select {
				case <-sub.Done():
					exited = true
				default:
				}
				convey.So(exited, convey.ShouldBeTrue)
				convey.So(rec.versions(), convey.ShouldBeEmpty)
			})
		})
	})

	convey.Convey("Given a subscription whose parent context ends", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		sub := listener.New(&scriptedSource{}).Subscribe(ctx, func(context.Context, model.Snapshot) {})
		cancel()

		convey.Convey("Then Done closes", func() {
			closed := false
			select {
			case <-sub.Done():
				closed = true
			case <-time.After(time.Second):
			}
			convey.So(closed, convey.ShouldBeTrue)
		})
	})
}
