package service

import (
	"errors"

	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/repo"
)

// Store-level errors are re-exported so callers only import service.
var (
	ErrInvalidAmount     = repo.ErrInvalidAmount
	ErrInsufficientFunds = repo.ErrInsufficientFunds
	ErrNotFound          = repo.ErrNotFound
)

var (
	ErrAlreadySettled    = errors.New("payment already settled")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidKind       = errors.New("invalid transaction kind")
	ErrSelfTransfer      = errors.New("cannot transfer to self")
	ErrUnsupportedMethod = errors.New("unsupported payment method for this operation")
)

// authorize fails with ErrForbidden unless actor owns o.
func authorize(o model.Owner, actor uint64) error {
	if o.OwnerID() != actor {
		return ErrForbidden
	}
	return nil
}
