package task

import (
	"context"
	"time"

	"reviewpoints-platform/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Scheduler struct {
	service *Service
	config  *config.Config
}

func NewScheduler(svc *Service, cfg *config.Config) *Scheduler {
	return &Scheduler{service: svc, config: cfg}
}

// StartScheduler runs the daily expiry sweep loop for the lifetime of the app.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started review expiry scheduler")

	for {
		now := time.Now()
		next := nextRunTime(now, s.config.Workflow.SweepHour, s.config.Workflow.SweepMinute)

		sleepDuration := next.Sub(now)
		zap.L().Info("[Scheduler] next sweep scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", sleepDuration),
		)
		select {
		case <-time.After(sleepDuration):
			s.runDaily(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context) {
	start := time.Now()
	zap.L().Info("[Scheduler] enqueueing daily expiry sweep")

	if err := s.service.EnqueueExpirySweep(ctx, defaultSweepBatchSize); err != nil {
		zap.L().Error("[Scheduler] failed to enqueue expiry sweep", zap.Error(err))
		return
	}

	zap.L().Info("[Scheduler] finished daily enqueue",
		zap.Duration("duration", time.Since(start)),
	)
}

// nextRunTime returns the next occurrence of hour:minute after now.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
