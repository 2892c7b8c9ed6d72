package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/richardliu001/wallet-ledger/internal/metrics"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// defaultHistoryLimit matches the size of the history page shown to users.
const defaultHistoryLimit = 20

// LedgerService performs every balance-affecting movement. Each call pairs
// the wallet mutation with its Transaction row inside one unit of work.
type LedgerService struct {
	repo     repo.RepositoryInterface
	notifier Notifier
	log      *zap.SugaredLogger
}

// NewLedgerService returns LedgerService.
func NewLedgerService(r repo.RepositoryInterface, n Notifier, logger *zap.SugaredLogger) *LedgerService {
	if n == nil {
		n = NopNotifier
	}
	return &LedgerService{repo: r, notifier: n, log: logger}
}

// Link points a movement at the reservation, parcel or order it pays for.
type Link struct {
	Type model.TargetType
	ID   uint64
}

// Movement describes one single-wallet ledger change.
type Movement struct {
	UserID      uint64
	Kind        model.TxKind
	Amount      decimal.Decimal
	Link        *Link
	Reference   string
	Description string
}

func (m Movement) validate() error {
	if !m.Kind.Valid() || m.Kind == model.KindTransferIn || m.Kind == model.KindTransferOut {
		return fmt.Errorf("%w: %q", ErrInvalidKind, m.Kind)
	}
	return repo.ValidateAmount(m.Amount)
}

// OnUserCreated is called synchronously by user registration so every user
// starts with an empty wallet.
func (s *LedgerService) OnUserCreated(ctx context.Context, userID uint64) (*model.Wallet, error) {
	return s.GetWallet(ctx, userID)
}

// GetWallet returns the user's wallet, creating it on first access.
func (s *LedgerService) GetWallet(ctx context.Context, userID uint64) (*model.Wallet, error) {
	return s.repo.GetOrCreateWallet(ctx, s.repo.DB(ctx), userID)
}

// SetWalletActive freezes or unfreezes a wallet.
func (s *LedgerService) SetWalletActive(ctx context.Context, userID uint64, active bool) error {
	if err := s.repo.SetWalletActive(ctx, userID, active); err != nil {
		return err
	}
	s.log.Infow("wallet active flag changed", "user_id", userID, "active", active)
	return nil
}

// RecordMovement credits or debits one wallet. A debit the balance cannot
// cover is still recorded, as a failed Transaction, and the returned error
// wraps ErrInsufficientFunds; the failed row is returned alongside it.
func (s *LedgerService) RecordMovement(ctx context.Context, m Movement) (*model.Transaction, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	var (
		t       *model.Transaction
		moveErr error
	)
	err := s.repo.WithinTx(ctx, func(tx *gorm.DB) error {
		var err error
		t, err = s.recordMovementTx(ctx, tx, m)
		if err != nil && !errors.Is(err, ErrInsufficientFunds) {
			return err
		}
		moveErr = err
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, t)
	if moveErr != nil {
		return t, moveErr
	}
	if m.Kind == model.KindDeposit {
		s.notifier.Notify(ctx, Event{
			Type: EventWalletCredited, UserID: m.UserID,
			Aggregate: "Transaction", AggregateID: t.ID,
			Data: map[string]interface{}{"amount": t.Amount, "balance": t.BalanceAfter},
		})
	}
	return t, nil
}

// recordMovementTx is the body of RecordMovement for callers that already
// hold a unit of work. On ErrInsufficientFunds the failed row has been
// written to tx and the caller should commit.
func (s *LedgerService) recordMovementTx(ctx context.Context, tx *gorm.DB, m Movement) (*model.Transaction, error) {
	w, err := s.repo.GetWalletForUpdate(ctx, tx, m.UserID)
	if err != nil {
		return nil, err
	}
	before := w.Balance
	status := model.TxSucceeded
	if m.Kind.IsCredit() {
		if err := s.repo.Credit(ctx, tx, w, m.Amount); err != nil {
			return nil, storeErr(err)
		}
	} else {
		ok, err := s.repo.Debit(ctx, tx, w, m.Amount)
		if err != nil {
			return nil, storeErr(err)
		}
		if !ok {
			status = model.TxFailed
		}
	}
	t := &model.Transaction{
		UserID:        m.UserID,
		WalletID:      w.ID,
		Kind:          m.Kind,
		Amount:        m.Amount,
		Status:        status,
		BalanceBefore: before,
		BalanceAfter:  w.Balance,
		Reference:     m.Reference,
		Description:   m.Description,
	}
	if m.Link != nil {
		tt, id := m.Link.Type, m.Link.ID
		t.TargetType, t.TargetID = &tt, &id
	}
	if err := s.repo.CreateTransaction(ctx, tx, t); err != nil {
		return nil, err
	}
	if status == model.TxFailed {
		return t, fmt.Errorf("user %d needs %s, has %s: %w", m.UserID, m.Amount, before, ErrInsufficientFunds)
	}
	return t, nil
}

// Deposit credits a wallet.
func (s *LedgerService) Deposit(ctx context.Context, userID uint64, amt decimal.Decimal, description string) (*model.Transaction, error) {
	if description == "" {
		description = "Deposit"
	}
	return s.RecordMovement(ctx, Movement{UserID: userID, Kind: model.KindDeposit, Amount: amt, Description: description})
}

// Withdraw debits a wallet for a cash-out.
func (s *LedgerService) Withdraw(ctx context.Context, userID uint64, amt decimal.Decimal, reference string) (*model.Transaction, error) {
	return s.RecordMovement(ctx, Movement{
		UserID: userID, Kind: model.KindWithdrawal, Amount: amt,
		Reference: reference, Description: "Withdrawal",
	})
}

// Transfer moves money between two wallets. Either both legs are written,
// as a transfer_out/transfer_in pair referencing each other, or nothing is.
func (s *LedgerService) Transfer(ctx context.Context, senderID, receiverID uint64, amt decimal.Decimal, reason string) (*model.Transaction, *model.Transaction, error) {
	if err := validateTransfer(senderID, receiverID, amt); err != nil {
		return nil, nil, err
	}
	var out, in *model.Transaction
	err := s.repo.WithinTx(ctx, func(tx *gorm.DB) error {
		var err error
		out, in, err = s.transferTx(ctx, tx, senderID, receiverID, amt, reason)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			metrics.Movements.WithLabelValues(string(model.KindTransferOut), string(model.TxFailed)).Inc()
			s.log.Warnw("transfer rejected", "from", senderID, "to", receiverID, "amount", amt, "error", err)
		}
		return nil, nil, err
	}
	s.committed(ctx, out, in)
	return out, in, nil
}

func validateTransfer(senderID, receiverID uint64, amt decimal.Decimal) error {
	if senderID == receiverID {
		return ErrSelfTransfer
	}
	return repo.ValidateAmount(amt)
}

// transferTx runs both legs of a transfer inside tx. Any error must roll tx
// back.
func (s *LedgerService) transferTx(ctx context.Context, tx *gorm.DB, senderID, receiverID uint64, amt decimal.Decimal, reason string) (*model.Transaction, *model.Transaction, error) {
	ws, err := s.repo.LockWallets(ctx, tx, senderID, receiverID)
	if err != nil {
		return nil, nil, err
	}
	from, to := ws[senderID], ws[receiverID]
	fromBefore, toBefore := from.Balance, to.Balance

	ok, err := s.repo.Debit(ctx, tx, from, amt)
	if err != nil {
		return nil, nil, storeErr(err)
	}
	if !ok {
		return nil, nil, fmt.Errorf("user %d needs %s, has %s: %w", senderID, amt, fromBefore, ErrInsufficientFunds)
	}
	if err := s.repo.Credit(ctx, tx, to, amt); err != nil {
		return nil, nil, storeErr(err)
	}

	ref := uuid.NewString()
	out := &model.Transaction{
		UserID: senderID, WalletID: from.ID, Kind: model.KindTransferOut,
		Amount: amt, Status: model.TxSucceeded,
		BalanceBefore: fromBefore, BalanceAfter: from.Balance,
		TransferRef: &ref, Reference: reason,
		Description: fmt.Sprintf("Transfer to user %d", receiverID),
	}
	if err := s.repo.CreateTransaction(ctx, tx, out); err != nil {
		return nil, nil, err
	}
	in := &model.Transaction{
		UserID: receiverID, WalletID: to.ID, Kind: model.KindTransferIn,
		Amount: amt, Status: model.TxSucceeded,
		BalanceBefore: toBefore, BalanceAfter: to.Balance,
		TransferRef: &ref, RelatedTxID: &out.ID, Reference: reason,
		Description: fmt.Sprintf("Transfer from user %d", senderID),
	}
	if err := s.repo.CreateTransaction(ctx, tx, in); err != nil {
		return nil, nil, err
	}
	if err := s.repo.LinkTransactions(ctx, tx, out.ID, in.ID); err != nil {
		return nil, nil, err
	}
	out.RelatedTxID = &in.ID
	return out, in, nil
}

// committed runs the post-commit side effects of ledger rows: cache
// invalidation, metrics and logging. Nothing here can undo the commit.
func (s *LedgerService) committed(ctx context.Context, txs ...*model.Transaction) {
	users := make([]uint64, 0, len(txs))
	for _, t := range txs {
		if t == nil {
			continue
		}
		users = append(users, t.UserID)
		metrics.Movements.WithLabelValues(string(t.Kind), string(t.Status)).Inc()
		if t.Status == model.TxSucceeded {
			s.log.Infow("movement recorded", "tx_id", t.ID, "user_id", t.UserID,
				"kind", t.Kind, "amount", t.Amount, "balance", t.BalanceAfter)
		} else {
			s.log.Warnw("movement rejected", "tx_id", t.ID, "user_id", t.UserID,
				"kind", t.Kind, "amount", t.Amount, "balance", t.BalanceAfter)
		}
	}
	if err := s.repo.InvalidateBalance(ctx, users...); err != nil {
		s.log.Warnw("invalidate cached balance", "users", users, "error", err)
	}
}

// GetBalance returns current wallet balance, served from Redis when cached.
func (s *LedgerService) GetBalance(ctx context.Context, userID uint64) (decimal.Decimal, error) {
	bal, err := s.repo.GetCachedBalance(ctx, userID)
	if err == nil {
		return bal, nil
	}
	w, err := s.GetWallet(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.repo.CacheBalance(ctx, userID, w.Balance); err != nil {
		s.log.Debugw("cache balance", "user_id", userID, "error", err)
	}
	return w.Balance, nil
}

// GetHistory fetches a user's transactions, newest first.
func (s *LedgerService) GetHistory(ctx context.Context, userID uint64, f repo.TxFilter) ([]model.Transaction, error) {
	if f.Limit <= 0 {
		f.Limit = defaultHistoryLimit
	}
	return s.repo.ListTransactions(ctx, userID, f)
}

// GetTransaction returns one transaction if actor owns it.
func (s *LedgerService) GetTransaction(ctx context.Context, id, actor uint64) (*model.Transaction, error) {
	t, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(t, actor); err != nil {
		return nil, err
	}
	return t, nil
}

// storeErr maps store failures that are really state errors.
func storeErr(err error) error {
	if errors.Is(err, repo.ErrWalletInactive) {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	return err
}
