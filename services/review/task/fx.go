package task

import (
	"reviewpoints-platform/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

// Module wires the task service into the enqueue side (API process).
var Module = fx.Module("review.task",
	fx.Provide(NewService),
)

// Worker additionally registers the asynq handlers and the daily scheduler;
// only the worker process includes it.
var Worker = fx.Module("review.task.worker",
	fx.Provide(NewService, NewScheduler),
	fx.Invoke(registerHandlers, StartScheduler),
)

func registerHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.ReviewExpirySweep, svc.HandleExpirySweepTask)
	mux.HandleFunc(taskname.ReviewMonitorDetect, svc.HandleMonitorDetectTask)
	mux.HandleFunc(taskname.LedgerVerifyChain, svc.HandleVerifyChainTask)
}
