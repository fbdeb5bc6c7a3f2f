package auction

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTerms          = errors.New("invalid auction terms")
	ErrRoleViolation         = errors.New("caller not permitted")
	ErrInvalidState          = errors.New("invalid auction state")
	ErrInsufficientBid       = errors.New("insufficient bid")
	ErrNothingToWithdraw     = errors.New("nothing to withdraw")
	ErrCustodyTransferFailed = errors.New("custody transfer failed")
	ErrPaymentFailed         = errors.New("payment failed")
)

// State-specific failures. All of them are ErrInvalidState.
var (
	ErrNotStarted     = fmt.Errorf("%w: auction not started yet", ErrInvalidState)
	ErrAlreadyStarted = fmt.Errorf("%w: auction already started", ErrInvalidState)
	ErrCancelled      = fmt.Errorf("%w: auction cancelled", ErrInvalidState)
	ErrFinished       = fmt.Errorf("%w: auction already finished", ErrInvalidState)
	ErrNotFinished    = fmt.Errorf("%w: auction not finished yet", ErrInvalidState)
	ErrAlreadyClaimed = fmt.Errorf("%w: reward already claimed", ErrInvalidState)
	ErrReentrantCall  = fmt.Errorf("%w: reentrant call", ErrInvalidState)
)

// Code returns a stable reason code for err, suitable for API responses and
// metric labels.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidTerms):
		return "invalid_terms"
	case errors.Is(err, ErrRoleViolation):
		return "role_violation"
	case errors.Is(err, ErrInsufficientBid):
		return "insufficient_bid"
	case errors.Is(err, ErrNothingToWithdraw):
		return "nothing_to_withdraw"
	case errors.Is(err, ErrCustodyTransferFailed):
		return "custody_transfer_failed"
	case errors.Is(err, ErrPaymentFailed):
		return "payment_failed"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	default:
		return "error"
	}
}
