package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"reviewpoints-platform/pkg/config"
	"reviewpoints-platform/pkg/db/option"
	"reviewpoints-platform/pkg/db/pagination"
	"reviewpoints-platform/pkg/errutil"
	"reviewpoints-platform/pkg/repository"
	"reviewpoints-platform/pkg/sequence"
	"reviewpoints-platform/services/ledger"
	"reviewpoints-platform/services/pricing"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service is the workflow engine: every legal transition of a submission,
// together with its ledger effect, goes through here as one unit of work.
type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	config *config.Config
	seq    sequence.Generator

	ledger  *ledger.Service
	pricing *pricing.Service

	submissions repository.Repository[ReviewSubmission]
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Node    *snowflake.Node
	Config  *config.Config
	Seq     sequence.Generator `optional:"true"`
	Ledger  *ledger.Service
	Pricing *pricing.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		config:  p.Config,
		seq:     p.Seq,
		ledger:  p.Ledger,
		pricing: p.Pricing,

		submissions: repository.ProvideStore[ReviewSubmission](p.DB),
	}
}

type CreateDraftParams struct {
	PlaceID     string
	AuthorID    string
	ContentType string
	Payload     datatypes.JSON
}

// CreateDraft stores the submission without touching the ledger. Points are
// only reserved on submit.
func (s *Service) CreateDraft(ctx context.Context, p CreateDraftParams) (*ReviewSubmission, error) {
	if p.PlaceID == "" || p.AuthorID == "" || p.ContentType == "" {
		return nil, errutil.ValidationFailed("place, author and content type are required", nil)
	}

	id := s.node.Generate().String()

	code := ""
	if s.seq != nil {
		var err error
		code, err = s.seq.NextSubmissionCode(ctx)
		if err != nil {
			zap.L().Warn("failed to generate submission code, falling back to id", zap.Error(err))
			code = ""
		}
	}
	if code == "" {
		// codes are unique; without the generator the id stands in
		code = "SUB-" + id
	}

	sub := &ReviewSubmission{
		ID:          id,
		Code:        code,
		PlaceID:     p.PlaceID,
		AuthorID:    p.AuthorID,
		ContentType: p.ContentType,
		Payload:     p.Payload,
		PointStatus: PointDraft,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	if err := s.submissions.Create(ctx, sub); err != nil {
		return nil, err
	}

	return sub, nil
}

func (s *Service) GetSubmission(ctx context.Context, id string) (*ReviewSubmission, error) {
	sub, err := s.submissions.FindOne(ctx, &ReviewSubmission{ID: id})
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, errutil.NotFound("submission not found", nil)
	}
	return sub, nil
}

// SubmitForApproval snapshots the catalog price and reserves it from the
// author's balance. Only drafts can be submitted; use Resubmit after a
// rejection or cancellation.
func (s *Service) SubmitForApproval(ctx context.Context, id, actorID string) (*ReviewSubmission, error) {
	return s.submit(ctx, "submit", id, actorID, PointDraft)
}

// Resubmit re-runs the submission semantics after a rejection or cancellation.
// The price is re-read from the catalog; the original snapshot is not honored.
func (s *Service) Resubmit(ctx context.Context, id, actorID string) (*ReviewSubmission, error) {
	return s.submit(ctx, "resubmit", id, actorID, PointRejected, PointCancelled)
}

func (s *Service) submit(ctx context.Context, op, id, actorID string, from ...PointStatus) (*ReviewSubmission, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.AuthorID != actorID {
		return nil, errutil.Forbidden("only the author can submit", nil)
	}
	if !statusIn(sub.PointStatus, from...) {
		return nil, InvalidStateTransitionError{Operation: op, PointStatus: sub.PointStatus}
	}

	price, err := s.pricing.GetPrice(ctx, sub.ContentType)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.WithContext(ctx).Model(&ReviewSubmission{}).
			Where("id = ? AND point_status IN ?", sub.ID, statusStrings(from...)).
			Updates(map[string]any{
				"point_status":    PointPending,
				"point_amount":    price,
				"review_status":   ReviewNone,
				"rejected_reason": "",
				"submitted_at":    now,
				"updated_at":      now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return StateConflictError{Operation: op, SubmissionID: sub.ID}
		}

		_, err := s.ledger.Reserve(ctx, tx, ledger.EntryParams{
			AccountID:   sub.AuthorID,
			Amount:      price,
			ActorID:     actorID,
			ReferenceID: sub.ID,
			Description: fmt.Sprintf("reserve for submission %s", sub.Code),
		})
		return err
	}); err != nil {
		return nil, err
	}

	return s.GetSubmission(ctx, id)
}

// Approve finalizes the reserved spend and moves the review into its
// awaiting-post window.
func (s *Service) Approve(ctx context.Context, id, actorID string) (*ReviewSubmission, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.PointStatus != PointPending {
		return nil, InvalidStateTransitionError{Operation: "approve", PointStatus: sub.PointStatus}
	}

	now := time.Now()
	expiresAt := now.Add(s.config.Workflow.AwaitingPostSLA)

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		// the amount condition closes an ABA hole: a cancel/resubmit cycle can
		// put the row back to pending with a different reservation, and the
		// finalize below must match that reservation, not the one we read
		res := tx.WithContext(ctx).Model(&ReviewSubmission{}).
			Where("id = ? AND point_status = ? AND point_amount = ?", sub.ID, PointPending, sub.PointAmount).
			Updates(map[string]any{
				"point_status":  PointApproved,
				"review_status": ReviewAwaitingPost,
				"approved_at":   now,
				"expires_at":    expiresAt,
				"updated_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return StateConflictError{Operation: "approve", SubmissionID: sub.ID}
		}

		_, err := s.ledger.Finalize(ctx, tx, ledger.EntryParams{
			AccountID:   sub.AuthorID,
			Amount:      sub.PointAmount,
			ActorID:     actorID,
			ReferenceID: sub.ID,
			Description: fmt.Sprintf("finalize spend for submission %s", sub.Code),
		})
		return err
	}); err != nil {
		return nil, err
	}

	return s.GetSubmission(ctx, id)
}

// Reject releases the reservation back to the author. The reason is part of
// the record and must carry enough detail for the author.
func (s *Service) Reject(ctx context.Context, id, actorID, reason string) (*ReviewSubmission, error) {
	if err := s.checkReason(reason); err != nil {
		return nil, err
	}
	return s.releaseTo(ctx, "reject", id, actorID, PointRejected, map[string]any{
		"rejected_reason": reason,
		"rejected_at":     time.Now(),
	})
}

// Cancel is the author withdrawing a pending submission. The reservation is
// released in full.
func (s *Service) Cancel(ctx context.Context, id, actorID string) (*ReviewSubmission, error) {
	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.AuthorID != actorID {
		return nil, errutil.Forbidden("only the author can cancel", nil)
	}
	return s.releaseTo(ctx, "cancel", id, actorID, PointCancelled, map[string]any{
		"cancelled_at": time.Now(),
	})
}

func (s *Service) releaseTo(ctx context.Context, op, id, actorID string, to PointStatus, extra map[string]any) (*ReviewSubmission, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.PointStatus != PointPending {
		return nil, InvalidStateTransitionError{Operation: op, PointStatus: sub.PointStatus}
	}

	updates := map[string]any{
		"point_status": to,
		"updated_at":   time.Now(),
	}
	for k, v := range extra {
		updates[k] = v
	}

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		// match the amount too, so the release always undoes the reservation
		// this call observed
		res := tx.WithContext(ctx).Model(&ReviewSubmission{}).
			Where("id = ? AND point_status = ? AND point_amount = ?", sub.ID, PointPending, sub.PointAmount).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return StateConflictError{Operation: op, SubmissionID: sub.ID}
		}

		_, err := s.ledger.Release(ctx, tx, ledger.EntryParams{
			AccountID:   sub.AuthorID,
			Amount:      sub.PointAmount,
			ActorID:     actorID,
			ReferenceID: sub.ID,
			Description: fmt.Sprintf("release reservation for submission %s", sub.Code),
		})
		return err
	}); err != nil {
		return nil, err
	}

	return s.GetSubmission(ctx, id)
}

// MarkPosted records that the monitor observed the review live at its public
// URL. The awaiting-post clock stops here.
func (s *Service) MarkPosted(ctx context.Context, id string) (*ReviewSubmission, error) {
	return s.reviewTransition(ctx, "mark_posted", id, ReviewAwaitingPost, map[string]any{
		"review_status": ReviewPosted,
		"posted_at":     time.Now(),
		"updated_at":    time.Now(),
	}, nil)
}

// RequestDelete opens a delete request on a posted review. Only one request
// can be pending at a time.
func (s *Service) RequestDelete(ctx context.Context, id, actorID, reason string) (*ReviewSubmission, error) {
	if err := s.checkReason(reason); err != nil {
		return nil, err
	}

	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.AuthorID != actorID {
		return nil, errutil.Forbidden("only the author can request deletion", nil)
	}
	if sub.DeletePending() {
		return nil, InvalidStateTransitionError{Operation: "request_delete", PointStatus: sub.PointStatus, ReviewStatus: sub.ReviewStatus}
	}

	now := time.Now()
	return s.reviewTransition(ctx, "request_delete", id, ReviewPosted, map[string]any{
		"delete_requested_at":    now,
		"delete_request_reason":  reason,
		"delete_rejected_at":     nil,
		"delete_rejected_reason": "",
		"updated_at":             now,
	}, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("delete_requested_at IS NULL")
	})
}

// ApproveDelete closes the request and retires the review. The finalized
// spend stays spent: approved-and-deleted reviews are not refunded.
func (s *Service) ApproveDelete(ctx context.Context, id, actorID string) (*ReviewSubmission, error) {
	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sub.DeletePending() {
		return nil, InvalidStateTransitionError{Operation: "approve_delete", PointStatus: sub.PointStatus, ReviewStatus: sub.ReviewStatus}
	}

	now := time.Now()
	return s.reviewTransition(ctx, "approve_delete", id, ReviewPosted, map[string]any{
		"review_status":       ReviewDeletedByRequest,
		"deleted_detected_at": now,
		"updated_at":          now,
	}, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("delete_requested_at IS NOT NULL")
	})
}

// RejectDelete declines the request; the review stays posted and the request
// slot opens up again.
func (s *Service) RejectDelete(ctx context.Context, id, actorID, reason string) (*ReviewSubmission, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, errutil.ValidationFailed("a reason is required to reject a delete request", nil)
	}

	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sub.DeletePending() {
		return nil, InvalidStateTransitionError{Operation: "reject_delete", PointStatus: sub.PointStatus, ReviewStatus: sub.ReviewStatus}
	}

	now := time.Now()
	return s.reviewTransition(ctx, "reject_delete", id, ReviewPosted, map[string]any{
		"delete_requested_at":    nil,
		"delete_request_reason":  "",
		"delete_rejected_at":     now,
		"delete_rejected_reason": reason,
		"updated_at":             now,
	}, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("delete_requested_at IS NOT NULL")
	})
}

// SystemDetectDeleted is the monitor reporting that a posted review no longer
// resolves. It may race an in-flight ApproveDelete; the loser gets a conflict.
func (s *Service) SystemDetectDeleted(ctx context.Context, id string) (*ReviewSubmission, error) {
	now := time.Now()
	return s.reviewTransition(ctx, "system_detect_deleted", id, ReviewPosted, map[string]any{
		"review_status":       ReviewDeletedBySystem,
		"deleted_detected_at": now,
		"updated_at":          now,
	}, nil)
}

// Expire retires a review that never went live within its SLA window.
func (s *Service) Expire(ctx context.Context, id string) (*ReviewSubmission, error) {
	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.PointStatus != PointApproved || sub.ReviewStatus != ReviewAwaitingPost {
		return nil, InvalidStateTransitionError{Operation: "expire", PointStatus: sub.PointStatus, ReviewStatus: sub.ReviewStatus}
	}

	now := time.Now()
	if sub.ExpiresAt == nil || sub.ExpiresAt.After(now) {
		return nil, InvalidStateTransitionError{Operation: "expire", PointStatus: sub.PointStatus, ReviewStatus: sub.ReviewStatus}
	}

	return s.reviewTransition(ctx, "expire", id, ReviewAwaitingPost, map[string]any{
		"review_status": ReviewExpired,
		"expired_at":    now,
		"updated_at":    now,
	}, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("expires_at <= ?", now)
	})
}

// reviewTransition applies a compare-and-set on (approved, fromReview). The
// transition whose precondition no longer holds loses with StateConflict and
// writes nothing.
func (s *Service) reviewTransition(ctx context.Context, op, id string, fromReview ReviewStatus, updates map[string]any, extraCond func(tx *gorm.DB) *gorm.DB) (*ReviewSubmission, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.PointStatus != PointApproved || sub.ReviewStatus != fromReview {
		return nil, InvalidStateTransitionError{Operation: op, PointStatus: sub.PointStatus, ReviewStatus: sub.ReviewStatus}
	}

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		q := tx.WithContext(ctx).Model(&ReviewSubmission{}).
			Where("id = ? AND point_status = ? AND review_status = ?", sub.ID, PointApproved, fromReview)
		if extraCond != nil {
			q = extraCond(q)
		}

		res := q.Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return StateConflictError{Operation: op, SubmissionID: sub.ID}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return s.GetSubmission(ctx, id)
}

// ListDueForExpiry returns approved submissions whose awaiting-post window has
// elapsed. The sweep task expires each one individually.
func (s *Service) ListDueForExpiry(ctx context.Context, limit int) ([]*ReviewSubmission, error) {
	return s.submissions.Find(ctx, &ReviewSubmission{
		PointStatus:  PointApproved,
		ReviewStatus: ReviewAwaitingPost,
	},
		option.ApplyOperator(option.Condition{Field: "expires_at", Operator: option.LTE, Value: time.Now()}),
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "expires_at",
			OrderBy: "asc",
			Allow:   map[string]bool{"expires_at": true},
		}),
		option.WithLimit(limit),
	)
}

type ListQuery struct {
	AuthorID     string
	PlaceID      string
	PointStatus  PointStatus
	ReviewStatus ReviewStatus
	Pagination   pagination.Pagination
}

// ListSubmissions pages through submissions, newest first.
func (s *Service) ListSubmissions(ctx context.Context, q ListQuery) ([]*ReviewSubmission, *pagination.PageInfo, error) {
	limit := q.Pagination.Limit
	if limit <= 0 {
		limit = 10
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.OrderByID("desc"),
		option.WithLimit(limit + 1),
	}

	if q.Pagination.Cursor != "" {
		cursor, err := pagination.DecodeCursor(q.Pagination.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, func(tx *gorm.DB) *gorm.DB {
			return tx.Where("created_at < ? OR (created_at = ? AND id < ?)",
				createdAt, createdAt, cursor.ID)
		})
	}

	subs, err := s.submissions.Find(ctx, &ReviewSubmission{
		AuthorID:     q.AuthorID,
		PlaceID:      q.PlaceID,
		PointStatus:  q.PointStatus,
		ReviewStatus: q.ReviewStatus,
	}, opts...)
	if err != nil {
		return nil, nil, err
	}

	pageInfo := pagination.BuildCursorPageInfo(subs, int32(limit), func(sub *ReviewSubmission) string {
		cursor, _ := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: sub.CreatedAt.UTC().Format(time.RFC3339Nano),
			ID:        sub.ID,
		})
		return cursor
	})

	if len(subs) > limit {
		subs = subs[:limit]
	}

	return subs, pageInfo, nil
}

func (s *Service) checkReason(reason string) error {
	min := s.config.Workflow.ReasonMinLength
	if len(strings.TrimSpace(reason)) < min {
		return errutil.ValidationFailed(fmt.Sprintf("reason must be at least %d characters", min), nil)
	}
	return nil
}

func statusIn(status PointStatus, set ...PointStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func statusStrings(set ...PointStatus) []string {
	out := make([]string, 0, len(set))
	for _, s := range set {
		out = append(out, string(s))
	}
	return out
}
