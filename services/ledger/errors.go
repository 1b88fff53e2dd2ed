package ledger

import (
	"fmt"

	"reviewpoints-platform/pkg/errutil"
)

// InsufficientBalanceError reports how far short the account is. The shortfall
// is part of the contract so callers can surface it to the user.
type InsufficientBalanceError struct {
	AccountID string
	Requested int64
	Available int64
}

func (e InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: requested=%d available=%d account=%s",
		e.Requested, e.Available, e.AccountID)
}

func (e InsufficientBalanceError) Status() errutil.CoreStatus {
	return errutil.StatusUnprocessableEntity
}

// ReservationMismatchError means a finalize or release asked for more than the
// outstanding reserved amount. It indicates a workflow bug, not user error.
type ReservationMismatchError struct {
	AccountID string
	Requested int64
	Pending   int64
}

func (e ReservationMismatchError) Error() string {
	return fmt.Sprintf("no matching reservation: requested=%d pending=%d account=%s",
		e.Requested, e.Pending, e.AccountID)
}

func (e ReservationMismatchError) Status() errutil.CoreStatus {
	return errutil.StatusUnprocessableEntity
}
