// Package store persists auctions, wallets and bids.
//
// Reads (Snapshot, Balance, history) never take part in an admission
// transaction. Every mutation of auction pricing state or wallet balances goes
// through InTx so that holds, refunds, the registry commit and the bid record
// land together or not at all.
package store

import (
	"context"
	"time"

	"github.com/punchamoorthee/auctionops/internal/domain"
)

// Registry is the read side of the auction registry.
type Registry interface {
	CreateAuction(ctx context.Context, a domain.Auction) (domain.Snapshot, error)
	Snapshot(ctx context.Context, auctionID string) (domain.Snapshot, error)
	// ExpiredOpen lists up to limit auctions past EndsAt that are not yet
	// marked closed, oldest first, skipping the ids in exclude.
	ExpiredOpen(ctx context.Context, now time.Time, exclude []string, limit int) ([]domain.Snapshot, error)
}

// Wallets is the read and funding side of the wallet ledger.
type Wallets interface {
	OpenWallet(ctx context.Context, userID, currency string) (domain.WalletAccount, error)
	Wallet(ctx context.Context, userID string) (domain.WalletAccount, error)
	Balance(ctx context.Context, userID string) (int64, error)
	Entries(ctx context.Context, userID string) ([]domain.LedgerEntry, error)
	TopUp(ctx context.Context, userID string, amount int64, reference string) (domain.LedgerEntry, error)
}

// BidLedger is the append-only bid history.
type BidLedger interface {
	AppendBid(ctx context.Context, b domain.Bid) error
	AuctionBids(ctx context.Context, auctionID string) ([]domain.Bid, error)
	BidderBids(ctx context.Context, bidderID string) ([]domain.Bid, error)
}

// IdempotencyRecord holds the stored response for a request key.
type IdempotencyRecord struct {
	Key            string
	RequestHash    string
	Completed      bool
	ResponseStatus int
	ResponseBody   []byte
}

// Idempotency stores request keys for exactly-once replies.
type Idempotency interface {
	// LookupKey returns nil when the key has never been reserved.
	LookupKey(ctx context.Context, key string) (*IdempotencyRecord, error)
	// ReserveKey fails with domain.ErrIdempotencyConflict if the key exists.
	ReserveKey(ctx context.Context, key, requestHash string) error
	CompleteKey(ctx context.Context, key string, status int, body []byte) error
	ReleaseKey(ctx context.Context, key string) error
}

// Tx is one atomic admission unit. Nothing done through a Tx is visible to
// readers until InTx returns nil; any error discards all of it.
type Tx interface {
	// LockWallets must be called before Hold or Release and covers every
	// wallet the unit touches. Implementations lock in a deterministic order.
	LockWallets(ctx context.Context, userIDs ...string) error
	Hold(ctx context.Context, userID string, amount int64, bidID string) (domain.LedgerEntry, error)
	Release(ctx context.Context, userID string, amount int64, bidID string) (domain.LedgerEntry, error)
	// Commit writes p if the auction is still at expectedVersion, otherwise it
	// fails with domain.ErrVersionConflict. It returns the stored state.
	Commit(ctx context.Context, auctionID string, expectedVersion int64, p domain.Projection) (domain.Snapshot, error)
	AppendBid(ctx context.Context, b domain.Bid) error
}

// Store is everything the service layer needs from persistence.
type Store interface {
	Registry
	Wallets
	BidLedger
	Idempotency
	InTx(ctx context.Context, fn func(Tx) error) error
	Close()
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
