package invoicing

import (
	"github.com/cockroachdb/errors"

	"github.com/hms/hms/internal/platform/apperr"
)

var (
	ErrOverpayment     = errors.Mark(errors.New("payment exceeds remaining balance"), apperr.ErrUnprocessable)
	ErrNothingDue      = errors.Mark(errors.New("invoice has no remaining balance"), apperr.ErrUnprocessable)
	ErrAlreadyPaid     = errors.Mark(errors.New("invoice is already paid"), apperr.ErrInvalidState)
	ErrAlreadyVoid     = errors.Mark(errors.New("invoice is cancelled"), apperr.ErrInvalidState)
	ErrDeleteRejected  = errors.Mark(errors.New("invoice with completed payments cannot be deleted"), apperr.ErrInvalidState)
	ErrPaymentSettled  = errors.Mark(errors.New("payment is no longer pending"), apperr.ErrInvalidState)
	ErrNumberTaken     = errors.Mark(errors.New("invoice number already in use"), apperr.ErrConflict)
	ErrVersionConflict = errors.Mark(errors.New("invoice was modified concurrently"), apperr.ErrConflict)
	ErrNotFound        = errors.Mark(errors.New("invoice not found"), apperr.ErrNotFound)
	ErrItemNotFound    = errors.Mark(errors.New("line item not found"), apperr.ErrNotFound)
	ErrPaymentNotFound = errors.Mark(errors.New("payment not found"), apperr.ErrNotFound)
)
