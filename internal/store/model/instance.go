package model

import (
	"time"

	"github.com/google/uuid"
)

type InstanceStatus string

const (
	InstanceStatusDeploying  InstanceStatus = "DEPLOYING"
	InstanceStatusRunning    InstanceStatus = "RUNNING"
	InstanceStatusStopped    InstanceStatus = "STOPPED"
	InstanceStatusRestarting InstanceStatus = "RESTARTING"
	InstanceStatusError      InstanceStatus = "ERROR"
)

// Instance is one user's deployed chatbot. At most one row exists per user.
// ContainerID is null only while provisioning has not yet returned a
// service identifier; status transitions are owned by the orchestrator.
type Instance struct {
	ID              uuid.UUID      `gorm:"primaryKey;type:uuid"`
	UserID          string         `gorm:"column:user_id;uniqueIndex;not null"`
	ContainerID     *string        `gorm:"column:container_id"`
	ContainerName   string         `gorm:"column:container_name;not null"`
	Port            int            `gorm:"column:port;uniqueIndex;not null"`
	Status          InstanceStatus `gorm:"column:status;not null"`
	AccessURL       string         `gorm:"column:access_url"`
	ServiceURL      string         `gorm:"column:service_url"`
	GatewayToken    string         `gorm:"column:gateway_token"`
	LastHealthCheck *time.Time     `gorm:"column:last_health_check"`
	CreateTime      time.Time      `gorm:"column:create_time;autoCreateTime"`
	UpdateTime      time.Time      `gorm:"column:update_time;autoUpdateTime"`
}

type InstanceList []Instance
