package review

import (
	"time"

	"gorm.io/datatypes"
)

// PointStatus tracks the money side of a submission.
type PointStatus string

const (
	PointDraft     PointStatus = "draft"
	PointPending   PointStatus = "pending"
	PointApproved  PointStatus = "approved"
	PointRejected  PointStatus = "rejected"
	PointCancelled PointStatus = "cancelled"
)

// ReviewStatus tracks the published content side. It only carries meaning once
// the point status is approved.
type ReviewStatus string

const (
	ReviewNone             ReviewStatus = ""
	ReviewAwaitingPost     ReviewStatus = "awaiting_post"
	ReviewPosted           ReviewStatus = "posted"
	ReviewDeletedBySystem  ReviewStatus = "deleted_by_system"
	ReviewDeletedByRequest ReviewStatus = "deleted_by_request"
	ReviewExpired          ReviewStatus = "expired"
)

// ReviewSubmission pairs one content payload with the points reserved for it.
// point_amount is a snapshot of the catalog price at reservation time and is
// never re-read from the catalog.
type ReviewSubmission struct {
	ID          string         `gorm:"column:id;primaryKey"`
	Code        string         `gorm:"column:code;uniqueIndex"`
	PlaceID     string         `gorm:"column:place_id;index;not null"`
	AuthorID    string         `gorm:"column:author_id;index;not null"`
	ContentType string         `gorm:"column:content_type;not null"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb"`
	PointAmount int64          `gorm:"column:point_amount;not null;default:0"`

	PointStatus  PointStatus  `gorm:"column:point_status;type:varchar(20);not null;index"`
	ReviewStatus ReviewStatus `gorm:"column:review_status;type:varchar(20);index"`

	RejectedReason       string     `gorm:"column:rejected_reason;type:text"`
	DeleteRequestedAt    *time.Time `gorm:"column:delete_requested_at"`
	DeleteRequestReason  string     `gorm:"column:delete_request_reason;type:text"`
	DeleteRejectedAt     *time.Time `gorm:"column:delete_rejected_at"`
	DeleteRejectedReason string     `gorm:"column:delete_rejected_reason;type:text"`
	DeletedDetectedAt    *time.Time `gorm:"column:deleted_detected_at"`

	SubmittedAt *time.Time `gorm:"column:submitted_at"`
	ApprovedAt  *time.Time `gorm:"column:approved_at"`
	RejectedAt  *time.Time `gorm:"column:rejected_at"`
	CancelledAt *time.Time `gorm:"column:cancelled_at"`
	PostedAt    *time.Time `gorm:"column:posted_at"`
	ExpiredAt   *time.Time `gorm:"column:expired_at"`
	ExpiresAt   *time.Time `gorm:"column:expires_at;index"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// Phase collapses the two status columns into the single variant callers
// reason about. The pairing is total: review status is empty until approval.
func (m *ReviewSubmission) Phase() string {
	if m.PointStatus != PointApproved {
		return string(m.PointStatus)
	}
	return string(m.PointStatus) + "/" + string(m.ReviewStatus)
}

// DeletePending reports whether an unadjudicated delete request exists.
func (m *ReviewSubmission) DeletePending() bool {
	return m.DeleteRequestedAt != nil
}
