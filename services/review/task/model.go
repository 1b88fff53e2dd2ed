package task

import (
	"time"

	"gorm.io/datatypes"
)

// JobRun is an execution record for a background task run.
type JobRun struct {
	ID          string         `gorm:"column:id;primaryKey"`
	TaskName    string         `gorm:"column:task_name;index;not null"`
	Status      string         `gorm:"column:status;type:varchar(20);default:'pending'"` // pending|running|success|failed
	ErrorMsg    string         `gorm:"column:error_msg;type:text"`
	StartedAt   *time.Time     `gorm:"column:started_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at"`
	CreatedAt   time.Time      `gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime"`
	Metadata    datatypes.JSON `gorm:"column:metadata"`
}

func (JobRun) TableName() string {
	return "job_runs"
}
