package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/punchamoorthee/auctionops/internal/domain"
	"github.com/punchamoorthee/auctionops/internal/store"
)

// Wallets opens and funds wallets on behalf of the funding collaborator.
// Bid holds and refunds never pass through here.
type Wallets struct {
	store    store.Store
	currency string
}

func NewWallets(s store.Store, defaultCurrency string) *Wallets {
	if defaultCurrency == "" {
		defaultCurrency = "INR"
	}
	return &Wallets{store: s, currency: defaultCurrency}
}

func (w *Wallets) Open(ctx context.Context, userID, currency string) (domain.WalletAccount, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.WalletAccount{}, fmt.Errorf("user id required")
	}
	if currency == "" {
		currency = w.currency
	}
	return w.store.OpenWallet(ctx, userID, strings.ToUpper(currency))
}

// TopUp credits amount with a top_up entry. reference is the gateway's
// payment reference.
func (w *Wallets) TopUp(ctx context.Context, userID string, amount int64, reference string) (domain.LedgerEntry, error) {
	if amount <= 0 {
		return domain.LedgerEntry{}, domain.ErrInvalidAmount
	}
	return w.store.TopUp(ctx, userID, amount, reference)
}

func (w *Wallets) Get(ctx context.Context, userID string) (domain.WalletAccount, error) {
	return w.store.Wallet(ctx, userID)
}

func (w *Wallets) Entries(ctx context.Context, userID string) ([]domain.LedgerEntry, error) {
	return w.store.Entries(ctx, userID)
}
