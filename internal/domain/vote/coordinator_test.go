package vote_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/staffrate/internal/adapters/repository"
	"github.com/okian/staffrate/internal/domain/ledger"
	"github.com/okian/staffrate/internal/domain/model"
	"github.com/okian/staffrate/internal/domain/vote"
	"github.com/okian/staffrate/pkg/logger"
)

func init() {
	_ = logger.Init()
}

// countingStore records calls and can block or fail on demand.
type countingStore struct {
	calls   atomic.Int32
	err     error
	release chan struct{}
	entered chan struct{}
}

func (s *countingStore) ApplyVote(ctx context.Context, _ string, _ int) error {
	s.calls.Add(1)
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

func openLedger(ids ...string) (*ledger.Ledger, *ledger.MemoryPersister) {
	p := ledger.NewMemoryPersister(ids...)
	l, err := ledger.Open(context.Background(), p)
	if err != nil {
		panic(err)
	}
	return l, p
}

func TestCoordinatorVote(t *testing.T) {
	Convey("Given a coordinator over a memory store", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore(model.Entity{ID: "7"}, model.Entity{ID: "8"})
		l, p := openLedger()
		fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		c := vote.NewCoordinator(l, store, vote.WithClock(func() time.Time { return fixed }))

		Convey("When a valid first vote is cast", func() {
			receipt, err := c.Vote(ctx, "7", 4)
			So(err, ShouldBeNil)

			Convey("Then the store, the ledger and the receipt reflect it", func() {
				snap, _ := store.Snapshot(ctx)
				e, _ := snap.Find("7")
				So(e.RatingSum, ShouldEqual, 4)
				So(e.VoteCount, ShouldEqual, 1)
				So(l.HasVoted(ctx, "7"), ShouldBeTrue)
				ids, _ := p.Load(ctx)
				So(ids, ShouldResemble, []string{"7"})

				So(receipt.EntityID, ShouldEqual, "7")
				So(receipt.Value, ShouldEqual, 4)
				So(receipt.At, ShouldEqual, fixed)
				So(receipt.ID.String(), ShouldNotBeEmpty)
				So(c.Stats().Accepted, ShouldEqual, 1)
			})

			Convey("And the same entity is voted again", func() {
				_, err := c.Vote(ctx, "7", 5)

				Convey("Then it is rejected without touching the store", func() {
					So(errors.Is(err, vote.ErrAlreadyVoted), ShouldBeTrue)
					snap, _ := store.Snapshot(ctx)
					e, _ := snap.Find("7")
					So(e.VoteCount, ShouldEqual, 1)
					So(e.RatingSum, ShouldEqual, 4)
				})
			})
		})

		Convey("When the value is out of range", func() {
			for _, v := range []int{0, 6, -1} {
				_, err := c.Vote(ctx, "7", v)
				So(errors.Is(err, vote.ErrInvalidValue), ShouldBeTrue)
			}

			Convey("Then nothing changes", func() {
				snap, _ := store.Snapshot(ctx)
				e, _ := snap.Find("7")
				So(e.VoteCount, ShouldEqual, 0)
				So(l.HasVoted(ctx, "7"), ShouldBeFalse)
				So(c.Stats().Rejected, ShouldEqual, 3)
			})
		})

		Convey("When the store is unreachable", func() {
			store.SetAvailable(false)
			_, err := c.Vote(ctx, "8", 3)

			Convey("Then the vote fails and can be retried later", func() {
				So(errors.Is(err, vote.ErrVoteFailed), ShouldBeTrue)
				So(errors.Is(err, repository.ErrStoreUnavailable), ShouldBeTrue)
				So(l.HasVoted(ctx, "8"), ShouldBeFalse)

				store.SetAvailable(true)
				_, err = c.Vote(ctx, "8", 3)
				So(err, ShouldBeNil)
				So(l.HasVoted(ctx, "8"), ShouldBeTrue)
			})
		})

		Convey("When the entity does not exist", func() {
			_, err := c.Vote(ctx, "404", 3)

			Convey("Then the failure wraps ErrNotFound", func() {
				So(errors.Is(err, vote.ErrVoteFailed), ShouldBeTrue)
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				So(l.HasVoted(ctx, "404"), ShouldBeFalse)
			})
		})

		Convey("When the ledger cannot be saved", func() {
			p.FailSaves(errors.New("read-only filesystem"))
			_, err := c.Vote(ctx, "8", 5)

			Convey("Then the vote still stands", func() {
				So(err, ShouldBeNil)
				So(l.HasVoted(ctx, "8"), ShouldBeTrue)
				snap, _ := store.Snapshot(ctx)
				e, _ := snap.Find("8")
				So(e.VoteCount, ShouldEqual, 1)
			})
		})
	})
}

func TestCoordinatorUsesSuppliedLogger(t *testing.T) {
	Convey("Given a coordinator built with its own logger", t, func() {
		var buf bytes.Buffer
		store := repository.NewMemoryStore(model.Entity{ID: "4"})
		l, p := openLedger()
		c := vote.NewCoordinator(l, store, vote.WithLogger(logger.New(logger.WithWriter(&buf))))

		Convey("When a counted vote cannot be saved to the ledger", func() {
			p.FailSaves(errors.New("disk full"))
			_, err := c.Vote(context.Background(), "4", 2)

			Convey("Then the warning goes to the supplied logger", func() {
				So(err, ShouldBeNil)
				So(buf.String(), ShouldContainSubstring, "vote counted but ledger not saved")
				So(buf.String(), ShouldContainSubstring, "disk full")
			})
		})
	})
}

func TestCoordinatorLedgerPreloaded(t *testing.T) {
	Convey("Given a ledger that already holds an entity", t, func() {
		store := &countingStore{}
		l, _ := openLedger("3")
		c := vote.NewCoordinator(l, store)

		_, err := c.Vote(context.Background(), "3", 5)

		Convey("Then the store is never called", func() {
			So(errors.Is(err, vote.ErrAlreadyVoted), ShouldBeTrue)
			So(store.calls.Load(), ShouldEqual, 0)
		})
	})
}

func TestCoordinatorInFlight(t *testing.T) {
	Convey("Given a vote blocked inside the store", t, func() {
		store := &countingStore{release: make(chan struct{}), entered: make(chan struct{}, 1)}
		l, _ := openLedger()
		c := vote.NewCoordinator(l, store)
		ctx := context.Background()

		var wg sync.WaitGroup
		var firstErr error
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, firstErr = c.Vote(ctx, "1", 5)
		}()
		<-store.entered

		Convey("When the device votes for the same entity again", func() {
			_, err := c.Vote(ctx, "1", 2)
			pending := c.Pending("1")
			close(store.release)
			wg.Wait()

			Convey("Then the second vote is refused and only one increment happens", func() {
				So(errors.Is(err, vote.ErrVotePending), ShouldBeTrue)
				So(pending, ShouldBeTrue)
				So(firstErr, ShouldBeNil)
				So(store.calls.Load(), ShouldEqual, 1)
				So(c.Pending("1"), ShouldBeFalse)
			})
		})
	})

	Convey("Given many concurrent votes for one entity from one device", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore(model.Entity{ID: "1"})
		l, _ := openLedger()
		c := vote.NewCoordinator(l, store)

		var wg sync.WaitGroup
		var ok atomic.Int32
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := c.Vote(ctx, "1", 4); err == nil {
					ok.Add(1)
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly one vote is counted", func() {
			So(ok.Load(), ShouldEqual, 1)
			snap, _ := store.Snapshot(ctx)
			e, _ := snap.Find("1")
			So(e.VoteCount, ShouldEqual, 1)
			So(e.RatingSum, ShouldEqual, 4)
		})
	})
}
