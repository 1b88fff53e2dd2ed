package task

import (
	"encoding/json"
	"time"

	"reviewpoints-platform/pkg/taskname"

	"github.com/hibiken/asynq"
)

type ExpirySweepPayload struct {
	BatchSize int `json:"batch_size"`
}

func NewExpirySweepTask(batchSize int) (*asynq.Task, error) {
	payload, err := json.Marshal(ExpirySweepPayload{BatchSize: batchSize})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.ReviewExpirySweep, payload), nil
}

// MonitorDetectPayload is one observation from the external review monitor:
// Found reports whether the review resolved at its public URL.
type MonitorDetectPayload struct {
	SubmissionID string    `json:"submission_id"`
	Found        bool      `json:"found"`
	CheckedAt    time.Time `json:"checked_at"`
}

func NewMonitorDetectTask(p MonitorDetectPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.ReviewMonitorDetect, payload), nil
}

type VerifyChainPayload struct {
	AccountID string `json:"account_id"`
}

func NewVerifyChainTask(accountID string) (*asynq.Task, error) {
	payload, err := json.Marshal(VerifyChainPayload{AccountID: accountID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.LedgerVerifyChain, payload), nil
}
