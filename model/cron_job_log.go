package model

import (
	"time"

	"gorm.io/datatypes"
)

// CronJobLog records one run of a scheduled maintenance job
type CronJobLog struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	JobName     string         `gorm:"type:varchar(100);not null;index" json:"jobName"`
	Status      string         `gorm:"type:varchar(20);not null" json:"status"` // running, completed, failed
	StartedAt   time.Time      `gorm:"not null" json:"startedAt"`
	CompletedAt *time.Time     `json:"completedAt"`
	DurationMs  int64          `json:"durationMs"`
	Message     string         `gorm:"type:text" json:"message"`
	ErrorMsg    string         `gorm:"type:text" json:"errorMsg"`
	Metadata    datatypes.JSON `json:"metadata"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// TableName specifies the table name for CronJobLog
func (CronJobLog) TableName() string {
	return "cron_job_logs"
}
