package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/punchamoorthee/auctionops/internal/domain"
)

// MemoryStore keeps all state in process. Auction snapshots and wallet
// balances are published through atomic pointers and counters, so reads never
// block on an admission in flight.
type MemoryStore struct {
	now func() time.Time

	auctions sync.Map // auction id -> *auctionRecord
	wallets  sync.Map // user id -> *walletRecord

	bidsMu    sync.RWMutex
	bids      []domain.Bid
	byAuction map[string][]int
	byBidder  map[string][]int

	keysMu sync.Mutex
	keys   map[string]*IdempotencyRecord
}

type auctionRecord struct {
	mu   sync.Mutex // serialises commits to this auction only
	snap atomic.Pointer[domain.Snapshot]
}

type walletRecord struct {
	mu      sync.Mutex
	account domain.WalletAccount
	balance atomic.Int64
	entries []domain.LedgerEntry
}

// NewMemoryStore creates an empty store. now defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:       now,
		byAuction: make(map[string][]int),
		byBidder:  make(map[string][]int),
		keys:      make(map[string]*IdempotencyRecord),
	}
}

func (s *MemoryStore) Close() {}

// CreateAuction registers a validated auction at version 1.
func (s *MemoryStore) CreateAuction(_ context.Context, a domain.Auction) (domain.Snapshot, error) {
	if err := a.Validate(); err != nil {
		return domain.Snapshot{}, err
	}
	snap := &domain.Snapshot{Auction: a, Projection: a.InitialProjection(), Version: 1}
	rec := &auctionRecord{}
	rec.snap.Store(snap)
	if _, loaded := s.auctions.LoadOrStore(a.ID, rec); loaded {
		return domain.Snapshot{}, fmt.Errorf("%w: auction %s already exists", domain.ErrInvalidAuction, a.ID)
	}
	return *snap, nil
}

func (s *MemoryStore) Snapshot(_ context.Context, auctionID string) (domain.Snapshot, error) {
	rec, ok := s.auction(auctionID)
	if !ok {
		return domain.Snapshot{}, domain.ErrAuctionNotFound
	}
	return *rec.snap.Load(), nil
}

func (s *MemoryStore) ExpiredOpen(_ context.Context, now time.Time, exclude []string, limit int) ([]domain.Snapshot, error) {
	var out []domain.Snapshot
	s.auctions.Range(func(_, v any) bool {
		snap := v.(*auctionRecord).snap.Load()
		if !snap.Closed && !now.Before(snap.EndsAt) && !slices.Contains(exclude, snap.ID) {
			out = append(out, *snap)
		}
		return true
	})
	slices.SortFunc(out, func(a, b domain.Snapshot) int { return a.EndsAt.Compare(b.EndsAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) auction(id string) (*auctionRecord, bool) {
	v, ok := s.auctions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*auctionRecord), true
}

// Wallets

func (s *MemoryStore) OpenWallet(_ context.Context, userID, currency string) (domain.WalletAccount, error) {
	rec := &walletRecord{account: domain.WalletAccount{UserID: userID, Currency: currency, CreatedAt: s.now().UTC()}}
	if _, loaded := s.wallets.LoadOrStore(userID, rec); loaded {
		return domain.WalletAccount{}, domain.ErrWalletExists
	}
	return rec.account, nil
}

func (s *MemoryStore) Wallet(_ context.Context, userID string) (domain.WalletAccount, error) {
	w, ok := s.wallet(userID)
	if !ok {
		return domain.WalletAccount{}, domain.ErrWalletNotFound
	}
	acc := w.account
	acc.Balance = w.balance.Load()
	return acc, nil
}

// Balance is lock-free; it observes the balance as of the last applied unit.
func (s *MemoryStore) Balance(_ context.Context, userID string) (int64, error) {
	w, ok := s.wallet(userID)
	if !ok {
		return 0, domain.ErrWalletNotFound
	}
	return w.balance.Load(), nil
}

func (s *MemoryStore) Entries(_ context.Context, userID string) ([]domain.LedgerEntry, error) {
	w, ok := s.wallet(userID)
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.entries), nil
}

func (s *MemoryStore) TopUp(_ context.Context, userID string, amount int64, reference string) (domain.LedgerEntry, error) {
	if amount <= 0 {
		return domain.LedgerEntry{}, domain.ErrInvalidAmount
	}
	w, ok := s.wallet(userID)
	if !ok {
		return domain.LedgerEntry{}, domain.ErrWalletNotFound
	}
	entry := domain.LedgerEntry{
		ID:           domain.NewID(),
		WalletUserID: userID,
		Delta:        amount,
		Reason:       domain.EntryTopUp,
		Reference:    reference,
		CreatedAt:    s.now().UTC(),
	}
	w.mu.Lock()
	w.entries = append(w.entries, entry)
	w.balance.Add(amount)
	w.mu.Unlock()
	return entry, nil
}

func (s *MemoryStore) wallet(userID string) (*walletRecord, bool) {
	v, ok := s.wallets.Load(userID)
	if !ok {
		return nil, false
	}
	return v.(*walletRecord), true
}

// Bid ledger

func (s *MemoryStore) AppendBid(_ context.Context, b domain.Bid) error {
	s.appendBids(b)
	return nil
}

func (s *MemoryStore) appendBids(bids ...domain.Bid) {
	s.bidsMu.Lock()
	defer s.bidsMu.Unlock()
	for _, b := range bids {
		idx := len(s.bids)
		s.bids = append(s.bids, b)
		s.byAuction[b.AuctionID] = append(s.byAuction[b.AuctionID], idx)
		s.byBidder[b.BidderID] = append(s.byBidder[b.BidderID], idx)
	}
}

func (s *MemoryStore) AuctionBids(_ context.Context, auctionID string) ([]domain.Bid, error) {
	return s.collect(func() []int { return s.byAuction[auctionID] }), nil
}

func (s *MemoryStore) BidderBids(_ context.Context, bidderID string) ([]domain.Bid, error) {
	return s.collect(func() []int { return s.byBidder[bidderID] }), nil
}

func (s *MemoryStore) collect(index func() []int) []domain.Bid {
	s.bidsMu.RLock()
	idx := index()
	out := make([]domain.Bid, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.bids[i])
	}
	s.bidsMu.RUnlock()
	slices.SortFunc(out, domain.CompareBids)
	return out
}

// Idempotency

func (s *MemoryStore) LookupKey(_ context.Context, key string) (*IdempotencyRecord, error) {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	rec, ok := s.keys[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	cp.ResponseBody = slices.Clone(rec.ResponseBody)
	return &cp, nil
}

func (s *MemoryStore) ReserveKey(_ context.Context, key, requestHash string) error {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	if _, ok := s.keys[key]; ok {
		return domain.ErrIdempotencyConflict
	}
	s.keys[key] = &IdempotencyRecord{Key: key, RequestHash: requestHash}
	return nil
}

func (s *MemoryStore) CompleteKey(_ context.Context, key string, status int, body []byte) error {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	rec, ok := s.keys[key]
	if !ok {
		return fmt.Errorf("idempotency key %s not reserved", key)
	}
	rec.Completed = true
	rec.ResponseStatus = status
	rec.ResponseBody = slices.Clone(body)
	return nil
}

func (s *MemoryStore) ReleaseKey(_ context.Context, key string) error {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	if rec, ok := s.keys[key]; ok && !rec.Completed {
		delete(s.keys, key)
	}
	return nil
}

// InTx runs fn as one admission unit. Wallets are locked in sorted order before
// the auction, so two units can never wait on each other in a cycle. Staged
// changes are published only if fn returns nil.
func (s *MemoryStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx := &memTx{store: s, deltas: make(map[string]int64)}
	defer tx.unlock()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.apply()
	return nil
}

type memTx struct {
	store *MemoryStore

	wallets map[string]*walletRecord
	locked  []*walletRecord
	deltas  map[string]int64
	entries []domain.LedgerEntry

	auction *auctionRecord
	next    *domain.Snapshot
	bids    []domain.Bid
}

func (tx *memTx) LockWallets(_ context.Context, userIDs ...string) error {
	if tx.wallets != nil {
		return fmt.Errorf("wallets already locked in this unit")
	}
	ids := slices.Clone(userIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	tx.wallets = make(map[string]*walletRecord, len(ids))
	for _, id := range ids {
		w, ok := tx.store.wallet(id)
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrWalletNotFound, id)
		}
		w.mu.Lock()
		tx.locked = append(tx.locked, w)
		tx.wallets[id] = w
	}
	return nil
}

func (tx *memTx) Hold(_ context.Context, userID string, amount int64, bidID string) (domain.LedgerEntry, error) {
	w, err := tx.lockedWallet(userID, amount)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if w.balance.Load()+tx.deltas[userID] < amount {
		return domain.LedgerEntry{}, domain.ErrInsufficientBalance
	}
	return tx.stage(userID, -amount, domain.EntryBidHold, bidID), nil
}

func (tx *memTx) Release(_ context.Context, userID string, amount int64, bidID string) (domain.LedgerEntry, error) {
	if _, err := tx.lockedWallet(userID, amount); err != nil {
		return domain.LedgerEntry{}, err
	}
	return tx.stage(userID, amount, domain.EntryBidRefund, bidID), nil
}

func (tx *memTx) lockedWallet(userID string, amount int64) (*walletRecord, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	w, ok := tx.wallets[userID]
	if !ok {
		return nil, fmt.Errorf("wallet %s not locked in this unit", userID)
	}
	return w, nil
}

func (tx *memTx) stage(userID string, delta int64, reason domain.EntryReason, bidID string) domain.LedgerEntry {
	entry := domain.LedgerEntry{
		ID:           domain.NewID(),
		WalletUserID: userID,
		Delta:        delta,
		Reason:       reason,
		RelatedBidID: bidID,
		CreatedAt:    tx.store.now().UTC(),
	}
	tx.deltas[userID] += delta
	tx.entries = append(tx.entries, entry)
	return entry
}

func (tx *memTx) Commit(_ context.Context, auctionID string, expectedVersion int64, p domain.Projection) (domain.Snapshot, error) {
	if tx.auction != nil {
		return domain.Snapshot{}, fmt.Errorf("auction already committed in this unit")
	}
	rec, ok := tx.store.auction(auctionID)
	if !ok {
		return domain.Snapshot{}, domain.ErrAuctionNotFound
	}
	rec.mu.Lock()
	tx.auction = rec

	cur := rec.snap.Load()
	if cur.Version != expectedVersion {
		return domain.Snapshot{}, domain.ErrVersionConflict
	}
	tx.next = &domain.Snapshot{Auction: cur.Auction, Projection: p, Version: cur.Version + 1}
	return *tx.next, nil
}

func (tx *memTx) AppendBid(_ context.Context, b domain.Bid) error {
	tx.bids = append(tx.bids, b)
	return nil
}

func (tx *memTx) apply() {
	for _, e := range tx.entries {
		w := tx.wallets[e.WalletUserID]
		w.entries = append(w.entries, e)
	}
	// Refunds land before holds, and both before the snapshot: a reader that
	// sees the new leader also sees every balance movement that produced it.
	for id, delta := range tx.deltas {
		if delta > 0 {
			tx.wallets[id].balance.Add(delta)
		}
	}
	for id, delta := range tx.deltas {
		if delta < 0 {
			tx.wallets[id].balance.Add(delta)
		}
	}
	if tx.next != nil {
		tx.auction.snap.Store(tx.next)
	}
	if len(tx.bids) > 0 {
		tx.store.appendBids(tx.bids...)
	}
}

func (tx *memTx) unlock() {
	if tx.auction != nil {
		tx.auction.mu.Unlock()
	}
	for i := len(tx.locked) - 1; i >= 0; i-- {
		tx.locked[i].mu.Unlock()
	}
}
