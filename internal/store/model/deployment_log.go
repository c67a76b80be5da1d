package model

import (
	"time"

	"github.com/google/uuid"
)

type DeploymentAction string

const (
	ActionDeploy  DeploymentAction = "DEPLOY"
	ActionStart   DeploymentAction = "START"
	ActionStop    DeploymentAction = "STOP"
	ActionRestart DeploymentAction = "RESTART"
)

type DeploymentLogStatus string

const (
	LogStatusInProgress DeploymentLogStatus = "IN_PROGRESS"
	LogStatusSuccess    DeploymentLogStatus = "SUCCESS"
	LogStatusFailed     DeploymentLogStatus = "FAILED"
)

// DeploymentLog is an append-only audit record of one lifecycle action.
// Rows are never mutated after creation.
type DeploymentLog struct {
	ID         uuid.UUID           `gorm:"primaryKey;type:uuid"`
	InstanceID uuid.UUID           `gorm:"column:instance_id;type:uuid;index;not null"`
	UserID     string              `gorm:"column:user_id;not null"`
	Action     DeploymentAction    `gorm:"column:action;not null"`
	Status     DeploymentLogStatus `gorm:"column:status;not null"`
	Message    string              `gorm:"column:message"`
	Error      string              `gorm:"column:error;type:text"`
	CreateTime time.Time           `gorm:"column:create_time;autoCreateTime"`
}

type DeploymentLogList []DeploymentLog
