package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"reviewpoints-platform/pkg/db/pagination"
	"reviewpoints-platform/pkg/errutil"
	"reviewpoints-platform/services/review"
	reviewtask "reviewpoints-platform/services/review/task"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

type submissionResponse struct {
	*review.ReviewSubmission
	Phase string `json:"phase"`
}

func submissionJSON(sub *review.ReviewSubmission) submissionResponse {
	return submissionResponse{ReviewSubmission: sub, Phase: sub.Phase()}
}

type createDraftRequest struct {
	PlaceID     string         `json:"place_id" binding:"required"`
	ContentType string         `json:"content_type" binding:"required"`
	Payload     datatypes.JSON `json:"payload"`
}

func (h *Handler) CreateDraft(c *gin.Context) {
	identity, err := currentIdentity(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req createDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	sub, err := h.review.CreateDraft(c.Request.Context(), review.CreateDraftParams{
		PlaceID:     req.PlaceID,
		AuthorID:    identity.Account.ID,
		ContentType: req.ContentType,
		Payload:     req.Payload,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, submissionJSON(sub))
}

func (h *Handler) GetSubmission(c *gin.Context) {
	sub, err := h.review.GetSubmission(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, submissionJSON(sub))
}

func (h *Handler) ListSubmissions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	subs, pageInfo, err := h.review.ListSubmissions(c.Request.Context(), review.ListQuery{
		AuthorID:     c.Query("author_id"),
		PlaceID:      c.Query("place_id"),
		PointStatus:  review.PointStatus(c.Query("point_status")),
		ReviewStatus: review.ReviewStatus(c.Query("review_status")),
		Pagination: pagination.Pagination{
			Cursor: c.Query("cursor"),
			Limit:  limit,
		},
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	items := make([]submissionResponse, 0, len(subs))
	for _, sub := range subs {
		items = append(items, submissionJSON(sub))
	}

	c.JSON(http.StatusOK, gin.H{"submissions": items, "page": pageInfo})
}

func (h *Handler) SubmitForApproval(c *gin.Context) {
	h.transition(c, func(identity string) (*review.ReviewSubmission, error) {
		return h.review.SubmitForApproval(c.Request.Context(), c.Param("id"), identity)
	})
}

func (h *Handler) Approve(c *gin.Context) {
	h.transition(c, func(identity string) (*review.ReviewSubmission, error) {
		return h.review.Approve(c.Request.Context(), c.Param("id"), identity)
	})
}

func (h *Handler) Cancel(c *gin.Context) {
	h.transition(c, func(identity string) (*review.ReviewSubmission, error) {
		return h.review.Cancel(c.Request.Context(), c.Param("id"), identity)
	})
}

func (h *Handler) Resubmit(c *gin.Context) {
	h.transition(c, func(identity string) (*review.ReviewSubmission, error) {
		return h.review.Resubmit(c.Request.Context(), c.Param("id"), identity)
	})
}

func (h *Handler) Reject(c *gin.Context) {
	h.reasoned(c, func(identity, reason string) (*review.ReviewSubmission, error) {
		return h.review.Reject(c.Request.Context(), c.Param("id"), identity, reason)
	})
}

func (h *Handler) RequestDelete(c *gin.Context) {
	h.reasoned(c, func(identity, reason string) (*review.ReviewSubmission, error) {
		return h.review.RequestDelete(c.Request.Context(), c.Param("id"), identity, reason)
	})
}

func (h *Handler) ApproveDelete(c *gin.Context) {
	h.transition(c, func(identity string) (*review.ReviewSubmission, error) {
		return h.review.ApproveDelete(c.Request.Context(), c.Param("id"), identity)
	})
}

func (h *Handler) RejectDelete(c *gin.Context) {
	h.reasoned(c, func(identity, reason string) (*review.ReviewSubmission, error) {
		return h.review.RejectDelete(c.Request.Context(), c.Param("id"), identity, reason)
	})
}

func (h *Handler) transition(c *gin.Context, fn func(actorID string) (*review.ReviewSubmission, error)) {
	identity, err := currentIdentity(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	sub, err := fn(identity.Account.ID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, submissionJSON(sub))
}

func (h *Handler) reasoned(c *gin.Context, fn func(actorID, reason string) (*review.ReviewSubmission, error)) {
	identity, err := currentIdentity(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	sub, err := fn(identity.Account.ID, req.Reason)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, submissionJSON(sub))
}

type monitorObservationRequest struct {
	SubmissionID string     `json:"submission_id" binding:"required"`
	Found        *bool      `json:"found" binding:"required"`
	CheckedAt    *time.Time `json:"checked_at"`
}

// MonitorObservation accepts a callback from the external review monitor and
// queues it for the worker; the monitor gets an immediate ack.
func (h *Handler) MonitorObservation(c *gin.Context) {
	var req monitorObservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	checkedAt := time.Now()
	if req.CheckedAt != nil {
		checkedAt = *req.CheckedAt
	}

	if h.tasks == nil {
		// No queue in this process; apply the observation inline.
		var err error
		if *req.Found {
			_, err = h.review.MarkPosted(c.Request.Context(), req.SubmissionID)
		} else {
			_, err = h.review.SystemDetectDeleted(c.Request.Context(), req.SubmissionID)
		}
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.Status(http.StatusNoContent)
		return
	}

	if err := h.tasks.EnqueueMonitorDetect(c.Request.Context(), reviewtask.MonitorDetectPayload{
		SubmissionID: req.SubmissionID,
		Found:        *req.Found,
		CheckedAt:    checkedAt,
	}); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusAccepted)
}

func (h *Handler) TriggerExpirySweep(c *gin.Context) {
	if h.tasks == nil {
		_ = c.Error(errutil.NotImplemented("task queue not available in this process", nil))
		return
	}

	batchSize, _ := strconv.Atoi(c.Query("batch_size"))
	if err := h.tasks.EnqueueExpirySweep(c.Request.Context(), batchSize); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusAccepted)
}
