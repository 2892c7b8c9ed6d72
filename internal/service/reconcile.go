package service

import (
	"context"

	"github.com/richardliu001/wallet-ledger/internal/metrics"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const reconcilePage = 200

// Discrepancy is a wallet whose stored balance disagrees with its trail.
type Discrepancy struct {
	UserID   uint64
	WalletID uint64
	Balance  decimal.Decimal
	Expected decimal.Decimal
}

// Reconcile checks, for every wallet, that the balance equals succeeded
// credits minus succeeded debits. It reports mismatches and never repairs
// them.
func (s *LedgerService) Reconcile(ctx context.Context) ([]Discrepancy, error) {
	var (
		out     []Discrepancy
		afterID uint64
		checked int
	)
	for {
		ws, err := s.repo.ListWallets(ctx, afterID, reconcilePage)
		if err != nil {
			return out, err
		}
		if len(ws) == 0 {
			break
		}
		for _, listed := range ws {
			w, expected, err := s.walletAndTrail(ctx, listed.UserID)
			if err != nil {
				return out, err
			}
			checked++
			if !expected.Equal(w.Balance) {
				d := Discrepancy{UserID: w.UserID, WalletID: w.ID, Balance: w.Balance, Expected: expected}
				out = append(out, d)
				metrics.ReconcileMismatches.Inc()
				s.log.Errorw("ledger mismatch", "user_id", w.UserID, "wallet_id", w.ID,
					"balance", w.Balance, "expected", expected)
			}
		}
		afterID = ws[len(ws)-1].ID
	}
	s.log.Infow("reconcile finished", "wallets", checked, "mismatches", len(out))
	return out, nil
}

// walletAndTrail reads the balance and sums the trail in one unit of work.
// The shared lock keeps movements on this wallet out until both reads are
// done.
func (s *LedgerService) walletAndTrail(ctx context.Context, userID uint64) (*model.Wallet, decimal.Decimal, error) {
	var (
		w   *model.Wallet
		sum = decimal.Zero
	)
	err := s.repo.WithinTx(ctx, func(tx *gorm.DB) error {
		var err error
		w, err = s.repo.GetWalletForShare(ctx, tx, userID)
		if err != nil {
			return err
		}
		txs, err := s.repo.SucceededTransactions(ctx, tx, userID)
		if err != nil {
			return err
		}
		for _, t := range txs {
			if t.Kind.IsCredit() {
				sum = sum.Add(t.Amount)
			} else {
				sum = sum.Sub(t.Amount)
			}
		}
		return nil
	})
	return w, sum, err
}
