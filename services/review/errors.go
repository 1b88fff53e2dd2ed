package review

import (
	"fmt"

	"reviewpoints-platform/pkg/errutil"
)

// InvalidStateTransitionError is returned when an operation is attempted from
// a state that does not satisfy its precondition. Nothing is written.
type InvalidStateTransitionError struct {
	Operation    string
	PointStatus  PointStatus
	ReviewStatus ReviewStatus
}

func (e InvalidStateTransitionError) Error() string {
	if e.ReviewStatus == ReviewNone {
		return fmt.Sprintf("%s not allowed from point_status=%s", e.Operation, e.PointStatus)
	}
	return fmt.Sprintf("%s not allowed from point_status=%s review_status=%s",
		e.Operation, e.PointStatus, e.ReviewStatus)
}

func (e InvalidStateTransitionError) Status() errutil.CoreStatus {
	return errutil.StatusUnprocessableEntity
}

// StateConflictError means the precondition held when the submission was read
// but another transition committed first. The losing call performs no writes.
type StateConflictError struct {
	Operation    string
	SubmissionID string
}

func (e StateConflictError) Error() string {
	return fmt.Sprintf("%s lost a concurrent update on submission %s", e.Operation, e.SubmissionID)
}

func (e StateConflictError) Status() errutil.CoreStatus {
	return errutil.StatusConflict
}
