package service

import (
	"context"
	"fmt"
	"time"

	"github.com/richardliu001/wallet-ledger/internal/metrics"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TransferService runs the request/accept workflow for peer transfers.
// Money only moves on Accept.
type TransferService struct {
	repo     repo.RepositoryInterface
	ledger   *LedgerService
	notifier Notifier
	log      *zap.SugaredLogger
}

// NewTransferService returns TransferService.
func NewTransferService(r repo.RepositoryInterface, ledger *LedgerService, n Notifier, logger *zap.SugaredLogger) *TransferService {
	if n == nil {
		n = NopNotifier
	}
	return &TransferService{repo: r, ledger: ledger, notifier: n, log: logger}
}

// Request opens a pending transfer. Funds are not checked until Accept.
func (s *TransferService) Request(ctx context.Context, senderID, receiverID uint64, amt decimal.Decimal, reason string) (*model.TransferRequest, error) {
	if err := validateTransfer(senderID, receiverID, amt); err != nil {
		return nil, err
	}
	tr := &model.TransferRequest{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Amount:     amt,
		Reason:     reason,
		Status:     model.TransferPending,
	}
	if err := s.repo.CreateTransferRequest(ctx, tr); err != nil {
		return nil, err
	}
	s.log.Infow("transfer requested", "request_id", tr.ID, "from", senderID, "to", receiverID, "amount", amt)
	s.notifier.Notify(ctx, Event{
		Type: EventTransferReceived, UserID: receiverID,
		Aggregate: "TransferRequest", AggregateID: tr.ID,
		Data: map[string]interface{}{"from": senderID, "amount": amt, "reason": reason},
	})
	return tr, nil
}

// Accept is receiver-only. It moves the money and closes the request in one
// unit of work. If the sender cannot cover the amount the request stays
// pending so it can be accepted again once funded.
func (s *TransferService) Accept(ctx context.Context, requestID, actor uint64) (*model.TransferRequest, error) {
	var (
		tr      *model.TransferRequest
		out, in *model.Transaction
	)
	err := s.repo.WithinTx(ctx, func(tx *gorm.DB) error {
		var err error
		tr, err = s.repo.GetTransferRequestForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if actor != tr.ReceiverID {
			return ErrForbidden
		}
		if tr.Status != model.TransferPending {
			return fmt.Errorf("%w: transfer request %d is %s", ErrInvalidState, tr.ID, tr.Status)
		}
		out, in, err = s.ledger.transferTx(ctx, tx, tr.SenderID, tr.ReceiverID, tr.Amount, tr.Reason)
		if err != nil {
			return err
		}
		now := time.Now()
		tr.Status = model.TransferAccepted
		tr.TransactionID = &out.ID
		tr.ResolvedAt = &now
		return s.repo.SaveTransferRequest(ctx, tx, tr)
	})
	if err != nil {
		s.log.Warnw("transfer accept failed", "request_id", requestID, "actor", actor, "error", err)
		return nil, err
	}
	s.ledger.committed(ctx, out, in)
	metrics.Transfers.WithLabelValues(string(tr.Status)).Inc()
	for _, uid := range []uint64{tr.SenderID, tr.ReceiverID} {
		s.notifier.Notify(ctx, Event{
			Type: EventTransferAccepted, UserID: uid,
			Aggregate: "TransferRequest", AggregateID: tr.ID,
			Data: map[string]interface{}{
				"from": tr.SenderID, "to": tr.ReceiverID, "amount": tr.Amount,
			},
		})
	}
	return tr, nil
}

// Reject is receiver-only and has no ledger effect.
func (s *TransferService) Reject(ctx context.Context, requestID, actor uint64) (*model.TransferRequest, error) {
	return s.resolve(ctx, requestID, actor, model.TransferRejected, func(tr *model.TransferRequest) bool {
		return actor == tr.ReceiverID
	})
}

// Cancel is sender-only and has no ledger effect.
func (s *TransferService) Cancel(ctx context.Context, requestID, actor uint64) (*model.TransferRequest, error) {
	return s.resolve(ctx, requestID, actor, model.TransferCancelled, func(tr *model.TransferRequest) bool {
		return actor == tr.SenderID
	})
}

func (s *TransferService) resolve(ctx context.Context, requestID, actor uint64, status model.TransferStatus, allowed func(*model.TransferRequest) bool) (*model.TransferRequest, error) {
	var tr *model.TransferRequest
	err := s.repo.WithinTx(ctx, func(tx *gorm.DB) error {
		var err error
		tr, err = s.repo.GetTransferRequestForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if !allowed(tr) {
			return ErrForbidden
		}
		if tr.Status != model.TransferPending {
			return fmt.Errorf("%w: transfer request %d is %s", ErrInvalidState, tr.ID, tr.Status)
		}
		now := time.Now()
		tr.Status = status
		tr.ResolvedAt = &now
		return s.repo.SaveTransferRequest(ctx, tx, tr)
	})
	if err != nil {
		return nil, err
	}
	metrics.Transfers.WithLabelValues(string(status)).Inc()
	s.log.Infow("transfer request closed", "request_id", tr.ID, "status", status, "actor", actor)
	return tr, nil
}

// Get returns a request visible to actor, who must be a party to it.
func (s *TransferService) Get(ctx context.Context, requestID, actor uint64) (*model.TransferRequest, error) {
	tr, err := s.repo.GetTransferRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !tr.IsParty(actor) {
		return nil, ErrForbidden
	}
	return tr, nil
}

// List returns the user's incoming and outgoing requests.
func (s *TransferService) List(ctx context.Context, userID uint64, status model.TransferStatus) ([]model.TransferRequest, error) {
	return s.repo.ListTransferRequests(ctx, userID, status)
}
