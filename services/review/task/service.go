package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"reviewpoints-platform/pkg/task"
	"reviewpoints-platform/services/ledger"
	"reviewpoints-platform/services/review"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const defaultSweepBatchSize = 250

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	enqueuer task.Enqueuer
	review   *review.Service
	ledger   *ledger.Service
}

type Params struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node

	Enqueuer task.Enqueuer `optional:"true"`
	Review   *review.Service
	Ledger   *ledger.Service
}

func NewService(p Params) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		enqueuer: p.Enqueuer,
		review:   p.Review,
		ledger:   p.Ledger,
	}
}

// EnqueueExpirySweep puts one sweep run on the queue. The scheduler calls this
// daily; operators can trigger it ad hoc through the API.
func (s *Service) EnqueueExpirySweep(ctx context.Context, batchSize int) error {
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}

	t, err := NewExpirySweepTask(batchSize)
	if err != nil {
		return err
	}
	if _, err := s.enqueuer.Enqueue(t, asynq.Queue(task.QueueDefault)); err != nil {
		return err
	}

	zap.L().Info("enqueued expiry sweep", zap.Int("batch_size", batchSize))
	return nil
}

// EnqueueMonitorDetect queues a monitor observation for async processing so
// the callback endpoint can return immediately.
func (s *Service) EnqueueMonitorDetect(ctx context.Context, p MonitorDetectPayload) error {
	t, err := NewMonitorDetectTask(p)
	if err != nil {
		return err
	}
	if _, err := s.enqueuer.Enqueue(t, asynq.Queue(task.QueueCritical)); err != nil {
		return err
	}
	return nil
}

// HandleExpirySweepTask expires every awaiting-post review whose window has
// elapsed. Each submission is expired independently; losing a race to a
// concurrent posted/deleted transition is expected and not an error.
func (s *Service) HandleExpirySweepTask(ctx context.Context, t *asynq.Task) error {
	var payload ExpirySweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid expiry sweep payload", zap.Error(err))
		return err
	}
	if payload.BatchSize <= 0 {
		payload.BatchSize = defaultSweepBatchSize
	}

	run, err := s.startRun(ctx, t.Type())
	if err != nil {
		return err
	}

	due, err := s.review.ListDueForExpiry(ctx, payload.BatchSize)
	if err != nil {
		s.finishRun(ctx, run, err)
		return err
	}

	var expired, skipped atomic.Int64
	g := errgroup.Group{}
	g.SetLimit(10)
	for _, sub := range due {
		id := sub.ID
		g.Go(func() error {
			if _, err := s.review.Expire(ctx, id); err != nil {
				var conflict review.StateConflictError
				var invalid review.InvalidStateTransitionError
				if errors.As(err, &conflict) || errors.As(err, &invalid) {
					skipped.Add(1)
					return nil
				}
				zap.L().Error("failed to expire submission", zap.String("submission_id", id), zap.Error(err))
				return err
			}
			expired.Add(1)
			return nil
		})
	}
	err = g.Wait()

	s.finishRun(ctx, run, err)
	zap.L().Info("expiry sweep finished",
		zap.Int("due", len(due)),
		zap.Int64("expired", expired.Load()),
		zap.Int64("skipped", skipped.Load()),
	)
	return err
}

// HandleMonitorDetectTask applies one monitor observation: found means the
// review went live, not found means it disappeared after posting.
func (s *Service) HandleMonitorDetectTask(ctx context.Context, t *asynq.Task) error {
	var payload MonitorDetectPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid monitor detect payload", zap.Error(err))
		return err
	}

	var err error
	if payload.Found {
		_, err = s.review.MarkPosted(ctx, payload.SubmissionID)
	} else {
		_, err = s.review.SystemDetectDeleted(ctx, payload.SubmissionID)
	}
	if err != nil {
		var conflict review.StateConflictError
		var invalid review.InvalidStateTransitionError
		if errors.As(err, &conflict) || errors.As(err, &invalid) {
			// A repeated or stale observation; the workflow already moved on.
			zap.L().Info("monitor observation superseded",
				zap.String("submission_id", payload.SubmissionID),
				zap.Bool("found", payload.Found),
			)
			return nil
		}
		return err
	}

	return nil
}

// HandleVerifyChainTask replays one account's transaction log and fails the
// task when the chain does not check out, which surfaces in the dead queue.
func (s *Service) HandleVerifyChainTask(ctx context.Context, t *asynq.Task) error {
	var payload VerifyChainPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid verify chain payload", zap.Error(err))
		return err
	}

	result, err := s.ledger.VerifyChain(ctx, payload.AccountID)
	if err != nil {
		return err
	}
	if !result.Valid {
		zap.L().Error("ledger chain verification failed",
			zap.String("account_id", payload.AccountID),
			zap.String("reason", result.Reason),
		)
		return errors.New(result.Reason)
	}

	zap.L().Info("ledger chain verified",
		zap.String("account_id", payload.AccountID),
		zap.Int("entries", result.Entries),
	)
	return nil
}

func (s *Service) startRun(ctx context.Context, taskName string) (*JobRun, error) {
	now := time.Now()
	run := &JobRun{
		ID:        s.node.Generate().String(),
		TaskName:  taskName,
		Status:    "running",
		StartedAt: &now,
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Service) finishRun(ctx context.Context, run *JobRun, runErr error) {
	updates := map[string]any{
		"status":       "success",
		"completed_at": time.Now(),
	}
	if runErr != nil {
		updates["status"] = "failed"
		updates["error_msg"] = runErr.Error()
	}
	if err := s.db.WithContext(ctx).Model(&JobRun{}).Where("id = ?", run.ID).Updates(updates).Error; err != nil {
		zap.L().Error("failed to update job run", zap.String("job_id", run.ID), zap.Error(err))
	}
}
