package models

import (
	"time"

	"gorm.io/gorm"
)

// LaunchRecord is one dispatched job as kept in the local launch log.
type LaunchRecord struct {
	gorm.Model
	InvocationID string `gorm:"index"`
	Machine      string `gorm:"index"`
	Project      string
	Mode         string
	Name         string
	JobID        string `gorm:"index"`
	SweepIndex   *int
	Command      string
	Env          string // JSON snapshot of the resolved environment
	LaunchedAt   time.Time
}
