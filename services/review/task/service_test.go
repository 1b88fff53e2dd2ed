package task

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"reviewpoints-platform/pkg/config"
	"reviewpoints-platform/services/ledger"
	"reviewpoints-platform/services/pricing"
	"reviewpoints-platform/services/review"
	"reviewpoints-platform/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type taskFixture struct {
	db     *gorm.DB
	svc    *Service
	review *review.Service
	ledger *ledger.Service
}

func newTaskFixture(t *testing.T) *taskFixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&JobRun{},
		&review.ReviewSubmission{},
		&ledger.Balance{},
		&ledger.Transaction{},
		&pricing.ContentPricing{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Workflow.ReasonMinLength = 10
	cfg.Workflow.AwaitingPostSLA = 72 * time.Hour

	led := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	prc := pricing.NewService(pricing.ServiceParams{DB: db, Node: node})
	rev := review.NewService(review.ServiceParams{
		DB:      db,
		Node:    node,
		Config:  cfg,
		Ledger:  led,
		Pricing: prc,
	})
	svc := NewService(Params{DB: db, Node: node, Review: rev, Ledger: led})

	ctx := context.Background()
	require.NoError(t, led.CreateBalance(ctx, nil, "author-1"))
	_, err = led.AdminAdjust(ctx, ledger.AdjustParams{AccountID: "author-1", Delta: 100, ActorID: "admin-1"})
	require.NoError(t, err)
	_, err = prc.UpsertPrice(ctx, pricing.UpsertParams{ContentType: "blog", UnitPrice: 50, ActorID: "admin-1"})
	require.NoError(t, err)

	return &taskFixture{db: db, svc: svc, review: rev, ledger: led}
}

func (f *taskFixture) awaitingPost(t *testing.T) *review.ReviewSubmission {
	t.Helper()
	ctx := context.Background()

	sub, err := f.review.CreateDraft(ctx, review.CreateDraftParams{
		PlaceID:     "place-1",
		AuthorID:    "author-1",
		ContentType: "blog",
	})
	require.NoError(t, err)
	sub, err = f.review.SubmitForApproval(ctx, sub.ID, "author-1")
	require.NoError(t, err)
	sub, err = f.review.Approve(ctx, sub.ID, "admin-1")
	require.NoError(t, err)
	return sub
}

func (f *taskFixture) forceOverdue(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.db.Model(&review.ReviewSubmission{}).
		Where("id = ?", id).
		Update("expires_at", time.Now().Add(-time.Hour)).Error)
}

func TestHandleExpirySweepExpiresOverdue(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	overdue := f.awaitingPost(t)
	f.forceOverdue(t, overdue.ID)

	asynqTask, err := NewExpirySweepTask(10)
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleExpirySweepTask(ctx, asynqTask))

	sub, err := f.review.GetSubmission(ctx, overdue.ID)
	require.NoError(t, err)
	require.Equal(t, review.ReviewExpired, sub.ReviewStatus)

	var runs []JobRun
	require.NoError(t, f.db.Find(&runs).Error)
	require.Len(t, runs, 1)
	require.Equal(t, "success", runs[0].Status)
	require.NotNil(t, runs[0].CompletedAt)
}

func TestHandleExpirySweepSkipsFreshSubmissions(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	fresh := f.awaitingPost(t)

	asynqTask, err := NewExpirySweepTask(10)
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleExpirySweepTask(ctx, asynqTask))

	sub, err := f.review.GetSubmission(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, review.ReviewAwaitingPost, sub.ReviewStatus)
}

func TestHandleMonitorDetectFoundMarksPosted(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	sub := f.awaitingPost(t)

	asynqTask, err := NewMonitorDetectTask(MonitorDetectPayload{
		SubmissionID: sub.ID,
		Found:        true,
		CheckedAt:    time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleMonitorDetectTask(ctx, asynqTask))

	sub, err = f.review.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, review.ReviewPosted, sub.ReviewStatus)
}

func TestHandleMonitorDetectNotFoundAfterPosting(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	sub := f.awaitingPost(t)
	_, err := f.review.MarkPosted(ctx, sub.ID)
	require.NoError(t, err)

	asynqTask, err := NewMonitorDetectTask(MonitorDetectPayload{
		SubmissionID: sub.ID,
		Found:        false,
		CheckedAt:    time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleMonitorDetectTask(ctx, asynqTask))

	sub, err = f.review.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, review.ReviewDeletedBySystem, sub.ReviewStatus)
}

func TestHandleMonitorDetectStaleObservationIsNoop(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	sub := f.awaitingPost(t)
	_, err := f.review.MarkPosted(ctx, sub.ID)
	require.NoError(t, err)

	// a duplicate "found" for an already posted review must not fail the task
	asynqTask, err := NewMonitorDetectTask(MonitorDetectPayload{
		SubmissionID: sub.ID,
		Found:        true,
		CheckedAt:    time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleMonitorDetectTask(ctx, asynqTask))
}

func TestHandleVerifyChain(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	asynqTask, err := NewVerifyChainTask("author-1")
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleVerifyChainTask(ctx, asynqTask))

	// corrupt the log and the task must fail
	var entry ledger.Transaction
	require.NoError(t, f.db.Where("account_id = ?", "author-1").First(&entry).Error)
	require.NoError(t, f.db.Model(&ledger.Transaction{}).
		Where("id = ?", entry.ID).
		Update("amount", 999).Error)

	require.Error(t, f.svc.HandleVerifyChainTask(ctx, asynqTask))
}
