package store

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/auctionops/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	return NewMemoryStore(func() time.Time { return t0 })
}

func fundedWallet(t *testing.T, s *MemoryStore, userID string, amount int64) {
	t.Helper()
	ctx := context.Background()
	_, err := s.OpenWallet(ctx, userID, "INR")
	require.NoError(t, err)
	if amount > 0 {
		_, err = s.TopUp(ctx, userID, amount, "seed")
		require.NoError(t, err)
	}
}

func standardAuction(t *testing.T, s *MemoryStore, id string) domain.Snapshot {
	t.Helper()
	snap, err := s.CreateAuction(context.Background(), domain.Auction{
		ID:            id,
		Format:        domain.FormatStandard,
		Currency:      "INR",
		StartingPrice: 10000,
		BidIncrement:  1000,
		CreatedAt:     t0,
		EndsAt:        t0.Add(time.Hour),
	})
	require.NoError(t, err)
	return snap
}

func sumEntries(t *testing.T, s *MemoryStore, userID string) int64 {
	t.Helper()
	entries, err := s.Entries(context.Background(), userID)
	require.NoError(t, err)
	var sum int64
	for _, e := range entries {
		sum += e.Delta
	}
	return sum
}

func TestMemoryStore_CreateAuction(t *testing.T) {
	s := newTestStore(t)
	snap := standardAuction(t, s, "a1")

	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, int64(10000), snap.DisplayedPrice)
	assert.False(t, snap.HasLeader())

	_, err := s.CreateAuction(context.Background(), snap.Auction)
	assert.ErrorIs(t, err, domain.ErrInvalidAuction)

	_, err = s.Snapshot(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrAuctionNotFound)
}

func TestMemoryStore_Wallets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fundedWallet(t, s, "alice", 5000)

	_, err := s.OpenWallet(ctx, "alice", "INR")
	assert.ErrorIs(t, err, domain.ErrWalletExists)

	_, err = s.TopUp(ctx, "alice", 0, "zero")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = s.TopUp(ctx, "bob", 100, "none")
	assert.ErrorIs(t, err, domain.ErrWalletNotFound)

	acc, err := s.Wallet(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), acc.Balance)
	assert.Equal(t, "INR", acc.Currency)
}

func TestMemoryStore_HoldAndReleaseApplyTogether(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fundedWallet(t, s, "alice", 20000)
	fundedWallet(t, s, "bob", 20000)
	snap := standardAuction(t, s, "a1")

	err := s.InTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.LockWallets(ctx, "bob", "alice"))
		if _, err := tx.Hold(ctx, "bob", 12000, "bid-2"); err != nil {
			return err
		}
		if _, err := tx.Release(ctx, "alice", 11000, "bid-1"); err != nil {
			return err
		}
		p := snap.Projection
		p.DisplayedPrice, p.LeadingBidID, p.LeaderID, p.LeaderHold = 12000, "bid-2", "bob", 12000
		if _, err := tx.Commit(ctx, "a1", snap.Version, p); err != nil {
			return err
		}
		return tx.AppendBid(ctx, domain.Bid{ID: "bid-2", AuctionID: "a1", BidderID: "bob", Amount: 12000, Outcome: domain.OutcomeLeading})
	})
	require.NoError(t, err)

	bob, _ := s.Balance(ctx, "bob")
	alice, _ := s.Balance(ctx, "alice")
	assert.Equal(t, int64(8000), bob)
	assert.Equal(t, int64(31000), alice)
	assert.Equal(t, bob, sumEntries(t, s, "bob"))
	assert.Equal(t, alice, sumEntries(t, s, "alice"))

	got, _ := s.Snapshot(ctx, "a1")
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "bid-2", got.LeadingBidID)

	bids, _ := s.AuctionBids(ctx, "a1")
	require.Len(t, bids, 1)
}

func TestMemoryStore_VersionConflictDiscardsUnit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fundedWallet(t, s, "bob", 20000)
	snap := standardAuction(t, s, "a1")

	err := s.InTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.LockWallets(ctx, "bob"))
		_, err := tx.Hold(ctx, "bob", 12000, "bid-1")
		require.NoError(t, err)
		require.NoError(t, tx.AppendBid(ctx, domain.Bid{ID: "bid-1", AuctionID: "a1", BidderID: "bob"}))
		_, err = tx.Commit(ctx, "a1", snap.Version+1, snap.Projection)
		return err
	})
	require.ErrorIs(t, err, domain.ErrVersionConflict)

	balance, _ := s.Balance(ctx, "bob")
	assert.Equal(t, int64(20000), balance)
	assert.Equal(t, balance, sumEntries(t, s, "bob"))
	bids, _ := s.AuctionBids(ctx, "a1")
	assert.Empty(t, bids)
	got, _ := s.Snapshot(ctx, "a1")
	assert.Equal(t, snap, got)
}

func TestMemoryStore_HoldInsufficientBalance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fundedWallet(t, s, "carol", 5000)

	err := s.InTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.LockWallets(ctx, "carol"))
		_, err := tx.Hold(ctx, "carol", 6000, "bid-1")
		return err
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	entries, _ := s.Entries(ctx, "carol")
	assert.Len(t, entries, 1, "only the top-up")
}

func TestMemoryStore_ReleaseBeforeHoldCoversDifference(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fundedWallet(t, s, "alice", 3000)

	err := s.InTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.LockWallets(ctx, "alice"))
		if _, err := tx.Release(ctx, "alice", 11000, "bid-1"); err != nil {
			return err
		}
		_, err := tx.Hold(ctx, "alice", 12000, "bid-2")
		return err
	})
	require.NoError(t, err)

	balance, _ := s.Balance(ctx, "alice")
	assert.Equal(t, int64(2000), balance)
}

func TestMemoryStore_LockRequiredForHold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fundedWallet(t, s, "alice", 3000)

	err := s.InTx(ctx, func(tx Tx) error {
		_, err := tx.Hold(ctx, "alice", 100, "bid-1")
		return err
	})
	assert.Error(t, err)

	err = s.InTx(ctx, func(tx Tx) error {
		return tx.LockWallets(ctx, "alice", "ghost")
	})
	assert.ErrorIs(t, err, domain.ErrWalletNotFound)
}

func TestMemoryStore_OppositeLockOrderDoesNotDeadlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fundedWallet(t, s, "alice", 1_000_000)
	fundedWallet(t, s, "bob", 1_000_000)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := "alice", "bob"
			if i%2 == 0 {
				from, to = to, from
			}
			_ = s.InTx(ctx, func(tx Tx) error {
				if err := tx.LockWallets(ctx, from, to); err != nil {
					return err
				}
				if _, err := tx.Hold(ctx, from, 10, "x"); err != nil {
					return err
				}
				_, err := tx.Release(ctx, to, 10, "x")
				return err
			})
		}(i)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("units deadlocked")
	}

	alice, _ := s.Balance(ctx, "alice")
	bob, _ := s.Balance(ctx, "bob")
	assert.Equal(t, int64(2_000_000), alice+bob)
	assert.Equal(t, alice, sumEntries(t, s, "alice"))
	assert.Equal(t, bob, sumEntries(t, s, "bob"))
}

func TestMemoryStore_ConcurrentCommitsOneWinnerPerVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	snap := standardAuction(t, s, "a1")

	const n = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(ctx, func(tx Tx) error {
				p := snap.Projection
				p.BidCount++
				_, err := tx.Commit(ctx, "a1", snap.Version, p)
				return err
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, domain.ErrVersionConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	got, _ := s.Snapshot(ctx, "a1")
	assert.Equal(t, int64(2), got.Version)
}

func TestMemoryStore_NewLeaderVisibleOnlyWithBalances(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	snap := standardAuction(t, s, "a1")

	const (
		steps   = 200
		funding = int64(1_000_000)
	)
	bidder := func(k int) string { return fmt.Sprintf("w%d", k) }
	for k := 1; k <= steps; k++ {
		fundedWallet(t, s, bidder(k), funding)
	}

	ack := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		var last int64 = snap.Version
		for last < snap.Version+steps {
			cur, err := s.Snapshot(ctx, "a1")
			if err != nil {
				t.Errorf("snapshot: %v", err)
				return
			}
			if cur.Version == last {
				runtime.Gosched()
				continue
			}
			k := int(cur.Version - snap.Version)
			if got, _ := s.Balance(ctx, cur.LeaderID); got != funding-cur.LeaderHold {
				t.Errorf("v%d: leader %s balance %d, want %d", cur.Version, cur.LeaderID, got, funding-cur.LeaderHold)
			}
			if k > 1 {
				if got, _ := s.Balance(ctx, bidder(k-1)); got != funding {
					t.Errorf("v%d: outbid %s balance %d, want %d", cur.Version, bidder(k-1), got, funding)
				}
			}
			last = cur.Version
			ack <- struct{}{}
		}
	}()

	prev := snap
	for k := 1; k <= steps; k++ {
		amount := snap.StartingPrice + int64(k)*snap.BidIncrement
		err := s.InTx(ctx, func(tx Tx) error {
			ids := []string{bidder(k)}
			if prev.HasLeader() {
				ids = append(ids, prev.LeaderID)
			}
			if err := tx.LockWallets(ctx, ids...); err != nil {
				return err
			}
			if prev.HasLeader() {
				if _, err := tx.Release(ctx, prev.LeaderID, prev.LeaderHold, prev.LeadingBidID); err != nil {
					return err
				}
			}
			if _, err := tx.Hold(ctx, bidder(k), amount, fmt.Sprintf("bid-%d", k)); err != nil {
				return err
			}
			p := prev.Projection
			p.DisplayedPrice, p.LeadingBidID, p.LeaderID, p.LeaderHold = amount, fmt.Sprintf("bid-%d", k), bidder(k), amount
			next, err := tx.Commit(ctx, "a1", prev.Version, p)
			prev = next
			return err
		})
		require.NoError(t, err)
		<-ack
	}
	<-done
}

func TestMemoryStore_ExpiredOpen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	standardAuction(t, s, "a1")
	standardAuction(t, s, "a2")

	got, err := s.ExpiredOpen(ctx, t0.Add(30*time.Minute), nil, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.ExpiredOpen(ctx, t0.Add(time.Hour), nil, 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// excluded ids do not count toward the limit
	got, err = s.ExpiredOpen(ctx, t0.Add(time.Hour), []string{"a1"}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a2", got[0].ID)
}

func TestMemoryStore_BidHistoryOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendBid(ctx, domain.Bid{ID: "b", AuctionID: "a1", BidderID: "x", SubmittedAt: t0}))
	require.NoError(t, s.AppendBid(ctx, domain.Bid{ID: "c", AuctionID: "a1", BidderID: "y", SubmittedAt: t0.Add(-time.Second)}))
	require.NoError(t, s.AppendBid(ctx, domain.Bid{ID: "a", AuctionID: "a1", BidderID: "x", SubmittedAt: t0}))

	bids, _ := s.AuctionBids(ctx, "a1")
	require.Len(t, bids, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{bids[0].ID, bids[1].ID, bids[2].ID})

	mine, _ := s.BidderBids(ctx, "x")
	assert.Len(t, mine, 2)
}

func TestMemoryStore_IdempotencyKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.LookupKey(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, s.ReserveKey(ctx, "k1", "hash"))
	assert.ErrorIs(t, s.ReserveKey(ctx, "k1", "hash"), domain.ErrIdempotencyConflict)

	require.NoError(t, s.CompleteKey(ctx, "k1", 201, []byte(`{"ok":true}`)))
	rec, err = s.LookupKey(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, rec.Completed)
	assert.Equal(t, 201, rec.ResponseStatus)
	assert.JSONEq(t, `{"ok":true}`, string(rec.ResponseBody))

	require.NoError(t, s.ReserveKey(ctx, "k2", "hash"))
	require.NoError(t, s.ReleaseKey(ctx, "k2"))
	require.NoError(t, s.ReserveKey(ctx, "k2", "hash"))
}
