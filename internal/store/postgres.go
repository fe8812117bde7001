package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/auctionops/internal/domain"
)

//go:embed schema.sql
var schema string

const (
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

const (
	snapshotColumns = `id, seller_id, format, currency, starting_price, bid_increment, reserve_price, minimum_bid, dutch_decrement, dutch_interval_ms, dutch_floor, created_at, ends_at, displayed_price, leading_bid_id, leader_id, leader_hold, best_bid, bid_count, closed, version`
	bidColumns      = `id, auction_id, bidder_id, amount, price, submitted_at, outcome, reject_reason`
	entryColumns    = `id, wallet_user_id, delta, reason, related_bid_id, reference, created_at`
)

// PostgresStore is the durable Store. Admission units run at REPEATABLE READ
// with wallet rows locked FOR UPDATE in user id order.
type PostgresStore struct {
	db  *pgxpool.Pool
	now func() time.Time
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresStore{db: pool, now: time.Now}, nil
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func scanSnapshot(row pgx.Row) (domain.Snapshot, error) {
	var (
		s          domain.Snapshot
		intervalMs int64
	)
	err := row.Scan(
		&s.ID, &s.SellerID, &s.Format, &s.Currency, &s.StartingPrice, &s.BidIncrement,
		&s.ReservePrice, &s.MinimumBid, &s.DutchDecrement, &intervalMs, &s.DutchFloor,
		&s.CreatedAt, &s.EndsAt, &s.DisplayedPrice, &s.LeadingBidID, &s.LeaderID,
		&s.LeaderHold, &s.BestBid, &s.BidCount, &s.Closed, &s.Version,
	)
	s.DutchInterval = time.Duration(intervalMs) * time.Millisecond
	return s, err
}

// Registry

func (s *PostgresStore) CreateAuction(ctx context.Context, a domain.Auction) (domain.Snapshot, error) {
	if err := a.Validate(); err != nil {
		return domain.Snapshot{}, err
	}
	p := a.InitialProjection()
	row := s.db.QueryRow(ctx,
		`INSERT INTO auctions (id, seller_id, format, currency, starting_price, bid_increment, reserve_price, minimum_bid,
			dutch_decrement, dutch_interval_ms, dutch_floor, created_at, ends_at, displayed_price)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING `+snapshotColumns,
		a.ID, a.SellerID, a.Format, a.Currency, a.StartingPrice, a.BidIncrement, a.ReservePrice, a.MinimumBid,
		a.DutchDecrement, a.DutchInterval.Milliseconds(), a.DutchFloor, a.CreatedAt, a.EndsAt, p.DisplayedPrice,
	)
	snap, err := scanSnapshot(row)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return domain.Snapshot{}, fmt.Errorf("%w: auction %s already exists", domain.ErrInvalidAuction, a.ID)
		}
		return domain.Snapshot{}, fmt.Errorf("insert auction: %w", err)
	}
	return snap, nil
}

func (s *PostgresStore) Snapshot(ctx context.Context, auctionID string) (domain.Snapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRow(ctx, "SELECT "+snapshotColumns+" FROM auctions WHERE id = $1", auctionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Snapshot{}, domain.ErrAuctionNotFound
	}
	return snap, err
}

func (s *PostgresStore) ExpiredOpen(ctx context.Context, now time.Time, exclude []string, limit int) ([]domain.Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	if exclude == nil {
		// a NULL array would filter out every row
		exclude = []string{}
	}
	rows, err := s.db.Query(ctx,
		"SELECT "+snapshotColumns+" FROM auctions WHERE NOT closed AND ends_at <= $1 AND id <> ALL($2) ORDER BY ends_at LIMIT $3",
		now, exclude, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Wallets

func (s *PostgresStore) OpenWallet(ctx context.Context, userID, currency string) (domain.WalletAccount, error) {
	acc := domain.WalletAccount{UserID: userID, Currency: currency}
	err := s.db.QueryRow(ctx,
		"INSERT INTO wallets (user_id, currency, created_at) VALUES ($1, $2, $3) RETURNING created_at",
		userID, currency, s.now().UTC()).Scan(&acc.CreatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return domain.WalletAccount{}, domain.ErrWalletExists
		}
		return domain.WalletAccount{}, fmt.Errorf("insert wallet: %w", err)
	}
	return acc, nil
}

func (s *PostgresStore) Wallet(ctx context.Context, userID string) (domain.WalletAccount, error) {
	var acc domain.WalletAccount
	err := s.db.QueryRow(ctx,
		"SELECT user_id, balance, currency, created_at FROM wallets WHERE user_id = $1", userID,
	).Scan(&acc.UserID, &acc.Balance, &acc.Currency, &acc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WalletAccount{}, domain.ErrWalletNotFound
	}
	return acc, err
}

func (s *PostgresStore) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(ctx, "SELECT balance FROM wallets WHERE user_id = $1", userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrWalletNotFound
	}
	return balance, err
}

func (s *PostgresStore) Entries(ctx context.Context, userID string) ([]domain.LedgerEntry, error) {
	var exists bool
	err := s.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM wallets WHERE user_id = $1)", userID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrWalletNotFound
	}

	rows, err := s.db.Query(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE wallet_user_id = $1 ORDER BY created_at, id", userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.LedgerEntry, error) {
		var e domain.LedgerEntry
		err := row.Scan(&e.ID, &e.WalletUserID, &e.Delta, &e.Reason, &e.RelatedBidID, &e.Reference, &e.CreatedAt)
		return e, err
	})
}

func (s *PostgresStore) TopUp(ctx context.Context, userID string, amount int64, reference string) (domain.LedgerEntry, error) {
	if amount <= 0 {
		return domain.LedgerEntry{}, domain.ErrInvalidAmount
	}
	entry := domain.LedgerEntry{
		ID:           domain.NewID(),
		WalletUserID: userID,
		Delta:        amount,
		Reason:       domain.EntryTopUp,
		Reference:    reference,
		CreatedAt:    s.now().UTC(),
	}
	err := pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, "UPDATE wallets SET balance = balance + $2 WHERE user_id = $1", userID, amount)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrWalletNotFound
		}
		return insertEntry(ctx, tx, entry)
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	return entry, nil
}

func insertEntry(ctx context.Context, tx pgx.Tx, e domain.LedgerEntry) error {
	_, err := tx.Exec(ctx,
		"INSERT INTO ledger_entries ("+entryColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7)",
		e.ID, e.WalletUserID, e.Delta, e.Reason, e.RelatedBidID, e.Reference, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ledger entry failed: %w", err)
	}
	return nil
}

// Bid ledger

func (s *PostgresStore) AppendBid(ctx context.Context, b domain.Bid) error {
	return insertBid(ctx, s.db, b)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertBid(ctx context.Context, db execer, b domain.Bid) error {
	_, err := db.Exec(ctx,
		"INSERT INTO bids ("+bidColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		b.ID, b.AuctionID, b.BidderID, b.Amount, b.Price, b.SubmittedAt, b.Outcome, b.Reason)
	if err != nil {
		return fmt.Errorf("bid insert failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) AuctionBids(ctx context.Context, auctionID string) ([]domain.Bid, error) {
	return s.queryBids(ctx, "SELECT "+bidColumns+" FROM bids WHERE auction_id = $1 ORDER BY submitted_at, id", auctionID)
}

func (s *PostgresStore) BidderBids(ctx context.Context, bidderID string) ([]domain.Bid, error) {
	return s.queryBids(ctx, "SELECT "+bidColumns+" FROM bids WHERE bidder_id = $1 ORDER BY submitted_at, id", bidderID)
}

func (s *PostgresStore) queryBids(ctx context.Context, sql, id string) ([]domain.Bid, error) {
	rows, err := s.db.Query(ctx, sql, id)
	if err != nil {
		return nil, err
	}
	bids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Bid, error) {
		var b domain.Bid
		err := row.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.Price, &b.SubmittedAt, &b.Outcome, &b.Reason)
		return b, err
	})
	if err != nil {
		return nil, err
	}
	// Timestamps round-trip at microsecond precision; re-sort with the domain order.
	slices.SortStableFunc(bids, domain.CompareBids)
	return bids, nil
}

// Idempotency

func (s *PostgresStore) LookupKey(ctx context.Context, key string) (*IdempotencyRecord, error) {
	var (
		rec    = IdempotencyRecord{Key: key}
		status string
	)
	err := s.db.QueryRow(ctx,
		"SELECT request_hash, status, response_status, response_body FROM idempotency_keys WHERE key = $1", key,
	).Scan(&rec.RequestHash, &status, &rec.ResponseStatus, &rec.ResponseBody)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency query failed: %w", err)
	}
	rec.Completed = status == "completed"
	return &rec, nil
}

func (s *PostgresStore) ReserveKey(ctx context.Context, key, requestHash string) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO idempotency_keys (key, request_hash, status) VALUES ($1, $2, 'in_progress')",
		key, requestHash)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return domain.ErrIdempotencyConflict
		}
		return fmt.Errorf("key reservation failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) CompleteKey(ctx context.Context, key string, status int, body []byte) error {
	_, err := s.db.Exec(ctx,
		"UPDATE idempotency_keys SET status = 'completed', response_status = $2, response_body = $3 WHERE key = $1",
		key, status, body)
	if err != nil {
		return fmt.Errorf("idempotency update failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReleaseKey(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx, "DELETE FROM idempotency_keys WHERE key = $1 AND status = 'in_progress'", key)
	return err
}

// InTx runs fn in a REPEATABLE READ transaction. Serialization failures and
// deadlocks surface as domain.ErrVersionConflict so the engine retries them.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx, now: s.now}); err != nil {
		return retryable(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return retryable(fmt.Errorf("tx commit failed: %w", err))
	}
	return nil
}

func retryable(err error) error {
	switch pgCode(err) {
	case pgSerializationFailure, pgDeadlockDetected:
		return fmt.Errorf("%w: %v", domain.ErrVersionConflict, err)
	}
	return err
}

type pgTx struct {
	tx     pgx.Tx
	now    func() time.Time
	locked map[string]bool
}

func (t *pgTx) LockWallets(ctx context.Context, userIDs ...string) error {
	if t.locked != nil {
		return fmt.Errorf("wallets already locked in this unit")
	}
	ids := slices.Clone(userIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	// Deterministic locking: rows are taken in user id order.
	rows, err := t.tx.Query(ctx,
		"SELECT user_id FROM wallets WHERE user_id = ANY($1) ORDER BY user_id FOR UPDATE", ids)
	if err != nil {
		return fmt.Errorf("lock acquisition failed: %w", err)
	}
	got, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("lock acquisition failed: %w", err)
	}

	t.locked = make(map[string]bool, len(got))
	for _, id := range got {
		t.locked[id] = true
	}
	for _, id := range ids {
		if !t.locked[id] {
			return fmt.Errorf("%w: %s", domain.ErrWalletNotFound, id)
		}
	}
	return nil
}

func (t *pgTx) Hold(ctx context.Context, userID string, amount int64, bidID string) (domain.LedgerEntry, error) {
	if err := t.check(userID, amount); err != nil {
		return domain.LedgerEntry{}, err
	}
	tag, err := t.tx.Exec(ctx,
		"UPDATE wallets SET balance = balance - $2 WHERE user_id = $1 AND balance >= $2", userID, amount)
	if err != nil {
		if pgCode(err) == pgCheckViolation {
			return domain.LedgerEntry{}, domain.ErrInsufficientBalance
		}
		return domain.LedgerEntry{}, err
	}
	if tag.RowsAffected() == 0 {
		return domain.LedgerEntry{}, domain.ErrInsufficientBalance
	}
	return t.entry(ctx, userID, -amount, domain.EntryBidHold, bidID)
}

func (t *pgTx) Release(ctx context.Context, userID string, amount int64, bidID string) (domain.LedgerEntry, error) {
	if err := t.check(userID, amount); err != nil {
		return domain.LedgerEntry{}, err
	}
	if _, err := t.tx.Exec(ctx, "UPDATE wallets SET balance = balance + $2 WHERE user_id = $1", userID, amount); err != nil {
		return domain.LedgerEntry{}, err
	}
	return t.entry(ctx, userID, amount, domain.EntryBidRefund, bidID)
}

func (t *pgTx) check(userID string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if !t.locked[userID] {
		return fmt.Errorf("wallet %s not locked in this unit", userID)
	}
	return nil
}

func (t *pgTx) entry(ctx context.Context, userID string, delta int64, reason domain.EntryReason, bidID string) (domain.LedgerEntry, error) {
	e := domain.LedgerEntry{
		ID:           domain.NewID(),
		WalletUserID: userID,
		Delta:        delta,
		Reason:       reason,
		RelatedBidID: bidID,
		CreatedAt:    t.now().UTC(),
	}
	if err := insertEntry(ctx, t.tx, e); err != nil {
		return domain.LedgerEntry{}, err
	}
	return e, nil
}

func (t *pgTx) Commit(ctx context.Context, auctionID string, expectedVersion int64, p domain.Projection) (domain.Snapshot, error) {
	row := t.tx.QueryRow(ctx,
		`UPDATE auctions SET displayed_price = $3, leading_bid_id = $4, leader_id = $5, leader_hold = $6,
			best_bid = $7, bid_count = $8, closed = $9, version = version + 1
		 WHERE id = $1 AND version = $2
		 RETURNING `+snapshotColumns,
		auctionID, expectedVersion, p.DisplayedPrice, p.LeadingBidID, p.LeaderID, p.LeaderHold, p.BestBid, p.BidCount, p.Closed,
	)
	snap, err := scanSnapshot(row)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Snapshot{}, retryable(fmt.Errorf("auction commit failed: %w", err))
	}

	var exists bool
	if err := t.tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM auctions WHERE id = $1)", auctionID).Scan(&exists); err != nil {
		return domain.Snapshot{}, err
	}
	if !exists {
		return domain.Snapshot{}, domain.ErrAuctionNotFound
	}
	return domain.Snapshot{}, domain.ErrVersionConflict
}

func (t *pgTx) AppendBid(ctx context.Context, b domain.Bid) error {
	return insertBid(ctx, t.tx, b)
}
