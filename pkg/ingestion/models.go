package ingestion

import (
	"time"

	"gorm.io/datatypes"
)

// What started a run.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerCommand  = "command"
)

// RunRecord is one entry of the run history.
type RunRecord struct {
	ID         string         `json:"id" gorm:"primaryKey;column:id"`
	Source     string         `json:"source" gorm:"column:source;index"`
	Mode       string         `json:"mode" gorm:"column:mode"`
	Trigger    string         `json:"trigger" gorm:"column:trigger"`
	Outcome    string         `json:"outcome" gorm:"column:outcome"`
	Stats      datatypes.JSON `json:"stats" gorm:"column:stats"`
	Error      string         `json:"error,omitempty" gorm:"column:error"`
	Since      *time.Time     `json:"since,omitempty" gorm:"column:since"`
	StartedAt  time.Time      `json:"started_at" gorm:"column:started_at"`
	FinishedAt time.Time      `json:"finished_at" gorm:"column:finished_at"`
	CreatedAt  time.Time      `json:"created_at" gorm:"column:created_at;index"`
}

func (RunRecord) TableName() string {
	return "ingestion_runs"
}
