package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/richardliu001/wallet-ledger/internal/metrics"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SettlementService drives payments from pending to a final outcome and
// flips the paid flag of the target in the same unit of work.
type SettlementService struct {
	repo     repo.RepositoryInterface
	ledger   *LedgerService
	notifier Notifier
	log      *zap.SugaredLogger
}

// NewSettlementService returns SettlementService.
func NewSettlementService(r repo.RepositoryInterface, ledger *LedgerService, n Notifier, logger *zap.SugaredLogger) *SettlementService {
	if n == nil {
		n = NopNotifier
	}
	return &SettlementService{repo: r, ledger: ledger, notifier: n, log: logger}
}

// PaymentRequest is what a payer submits.
type PaymentRequest struct {
	UserID              uint64
	TargetType          model.TargetType
	TargetID            uint64
	Method              model.PaymentMethod
	MobileMoneyNumber   string
	MobileMoneyOperator string
}

// NewPaymentReference returns a unique human-readable payment reference.
func NewPaymentReference() string {
	return "PAY-" + ulid.Make().String()
}

// CreatePayment records a pending payment for the full amount due on the
// target. Only the target's owner may pay for it.
func (s *SettlementService) CreatePayment(ctx context.Context, req PaymentRequest) (*model.Payment, error) {
	if !req.Method.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, req.Method)
	}
	if !req.TargetType.Valid() {
		return nil, fmt.Errorf("%w: unknown target type %q", ErrInvalidState, req.TargetType)
	}
	var p *model.Payment
	err := s.repo.WithinTx(ctx, func(tx *gorm.DB) error {
		target, err := s.repo.GetPayable(ctx, tx, req.TargetType, req.TargetID)
		if err != nil {
			return err
		}
		if err := authorize(target, req.UserID); err != nil {
			return err
		}
		if target.IsPaid() {
			return fmt.Errorf("%w: %s %d is already paid", ErrInvalidState, req.TargetType, req.TargetID)
		}
		if err := repo.ValidateAmount(target.Due()); err != nil {
			return err
		}
		p = &model.Payment{
			UserID:              req.UserID,
			TargetType:          req.TargetType,
			TargetID:            req.TargetID,
			Amount:              target.Due(),
			Method:              req.Method,
			Status:              model.PaymentPending,
			Reference:           NewPaymentReference(),
			MobileMoneyNumber:   req.MobileMoneyNumber,
			MobileMoneyOperator: req.MobileMoneyOperator,
		}
		return s.repo.CreatePayment(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("payment created", "payment_id", p.ID, "reference", p.Reference,
		"user_id", p.UserID, "method", p.Method, "amount", p.Amount)
	return p, nil
}

// Pay creates a payment and, for wallet payments, settles it right away.
// A wallet payment the balance cannot cover comes back rejected together
// with an error wrapping ErrInsufficientFunds.
func (s *SettlementService) Pay(ctx context.Context, req PaymentRequest) (*model.Payment, error) {
	p, err := s.CreatePayment(ctx, req)
	if err != nil {
		return nil, err
	}
	if p.Method != model.MethodWallet {
		return p, nil
	}
	return s.Settle(ctx, p.ID, req.UserID)
}

// Settle debits the payer's wallet for a pending wallet payment. On success
// the payment is validated and its target marked paid; on insufficient
// funds the payment is rejected, the wallet is left untouched and the
// failed debit stays on record. Settling twice returns ErrAlreadySettled.
func (s *SettlementService) Settle(ctx context.Context, paymentID, actor uint64) (*model.Payment, error) {
	var (
		p       *model.Payment
		t       *model.Transaction
		moveErr error
	)
	err := s.repo.WithinTx(ctx, func(tx *gorm.DB) error {
		var err error
		p, err = s.repo.GetPaymentForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if err := authorize(p, actor); err != nil {
			return err
		}
		if p.Settled() {
			return fmt.Errorf("payment %s is %s: %w", p.Reference, p.Status, ErrAlreadySettled)
		}
		if p.Method != model.MethodWallet {
			return fmt.Errorf("%w: %s payments are settled by their gateway", ErrUnsupportedMethod, p.Method)
		}

		t, err = s.ledger.recordMovementTx(ctx, tx, Movement{
			UserID:      p.UserID,
			Kind:        p.TargetType.DebitKind(),
			Amount:      p.Amount,
			Link:        &Link{Type: p.TargetType, ID: p.TargetID},
			Reference:   p.Reference,
			Description: "Payment " + p.Reference,
		})
		if err != nil && !errors.Is(err, ErrInsufficientFunds) {
			return err
		}
		moveErr = err
		p.TransactionID = &t.ID
		if moveErr != nil {
			p.Status = model.PaymentRejected
			return s.repo.SavePayment(ctx, tx, p)
		}
		if err := s.repo.MarkPaid(ctx, tx, p.TargetType, p.TargetID); err != nil {
			return paidErr(err)
		}
		p.Status = model.PaymentValidated
		return s.repo.SavePayment(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}
	s.ledger.committed(ctx, t)
	metrics.Settlements.WithLabelValues(string(p.Method), string(p.Status)).Inc()
	if moveErr != nil {
		s.log.Warnw("payment rejected", "payment_id", p.ID, "reference", p.Reference, "error", moveErr)
		return p, moveErr
	}
	s.log.Infow("payment validated", "payment_id", p.ID, "reference", p.Reference,
		"target", p.TargetType, "target_id", p.TargetID)
	s.notifyReceived(ctx, p)
	return p, nil
}

// RecordExternalOutcome stores the result reported by a mobile money, card
// or cash collaborator. No wallet is touched.
func (s *SettlementService) RecordExternalOutcome(ctx context.Context, paymentID uint64, validated bool) (*model.Payment, error) {
	var p *model.Payment
	err := s.repo.WithinTx(ctx, func(tx *gorm.DB) error {
		var err error
		p, err = s.repo.GetPaymentForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if p.Settled() {
			return fmt.Errorf("payment %s is %s: %w", p.Reference, p.Status, ErrAlreadySettled)
		}
		if p.Method == model.MethodWallet {
			return fmt.Errorf("%w: wallet payments are settled by the ledger", ErrUnsupportedMethod)
		}
		if !validated {
			p.Status = model.PaymentRejected
			return s.repo.SavePayment(ctx, tx, p)
		}
		if err := s.repo.MarkPaid(ctx, tx, p.TargetType, p.TargetID); err != nil {
			return paidErr(err)
		}
		p.Status = model.PaymentValidated
		return s.repo.SavePayment(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}
	metrics.Settlements.WithLabelValues(string(p.Method), string(p.Status)).Inc()
	s.log.Infow("external payment outcome recorded", "payment_id", p.ID, "status", p.Status)
	if p.Status == model.PaymentValidated {
		s.notifyReceived(ctx, p)
	}
	return p, nil
}

// Refund credits a validated wallet payment back to the payer and moves the
// payment to refunded. The target's paid flag belongs to its own lifecycle
// and is left as is.
func (s *SettlementService) Refund(ctx context.Context, paymentID uint64, reason string) (*model.Payment, error) {
	var (
		p *model.Payment
		t *model.Transaction
	)
	err := s.repo.WithinTx(ctx, func(tx *gorm.DB) error {
		var err error
		p, err = s.repo.GetPaymentForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != model.PaymentValidated {
			return fmt.Errorf("%w: cannot refund a %s payment", ErrInvalidState, p.Status)
		}
		if p.Method != model.MethodWallet {
			return fmt.Errorf("%w: %s refunds go through their gateway", ErrUnsupportedMethod, p.Method)
		}
		desc := "Refund " + p.Reference
		if reason != "" {
			desc += ": " + reason
		}
		t, err = s.ledger.recordMovementTx(ctx, tx, Movement{
			UserID:      p.UserID,
			Kind:        model.KindRefund,
			Amount:      p.Amount,
			Link:        &Link{Type: p.TargetType, ID: p.TargetID},
			Reference:   p.Reference,
			Description: desc,
		})
		if err != nil {
			return err
		}
		p.RefundTransactionID = &t.ID
		p.Status = model.PaymentRefunded
		return s.repo.SavePayment(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}
	s.ledger.committed(ctx, t)
	metrics.Settlements.WithLabelValues(string(p.Method), string(p.Status)).Inc()
	s.notifier.Notify(ctx, Event{
		Type: EventPaymentRefunded, UserID: p.UserID,
		Aggregate: "Payment", AggregateID: p.ID,
		Data: map[string]interface{}{"reference": p.Reference, "amount": p.Amount},
	})
	return p, nil
}

// GetPayment returns a payment owned by actor.
func (s *SettlementService) GetPayment(ctx context.Context, id, actor uint64) (*model.Payment, error) {
	p, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(p, actor); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SettlementService) ListPayments(ctx context.Context, userID uint64, limit int) ([]model.Payment, error) {
	return s.repo.ListPayments(ctx, userID, limit)
}

func (s *SettlementService) notifyReceived(ctx context.Context, p *model.Payment) {
	s.notifier.Notify(ctx, Event{
		Type: EventPaymentReceived, UserID: p.UserID,
		Aggregate: "Payment", AggregateID: p.ID,
		Data: map[string]interface{}{
			"reference": p.Reference, "amount": p.Amount,
			"target_type": p.TargetType, "target_id": p.TargetID,
		},
	})
}

func paidErr(err error) error {
	if errors.Is(err, repo.ErrAlreadyPaid) {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	return err
}
