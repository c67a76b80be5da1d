package store

import (
	"context"

	"github.com/botforge-cloud/instance-manager/internal/store/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeploymentLog is write-only from the orchestrator; rows are never updated.
// List exists for tests and future audit endpoints.
type DeploymentLog interface {
	Create(ctx context.Context, entry model.DeploymentLog) (*model.DeploymentLog, error)
	ListByInstance(ctx context.Context, instanceID uuid.UUID) (model.DeploymentLogList, error)
}

type DeploymentLogStore struct {
	db *gorm.DB
}

var _ DeploymentLog = (*DeploymentLogStore)(nil)

func NewDeploymentLog(db *gorm.DB) DeploymentLog {
	return &DeploymentLogStore{db: db}
}

func (s *DeploymentLogStore) Create(ctx context.Context, entry model.DeploymentLog) (*model.DeploymentLog, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Clauses(clause.Returning{}).Create(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *DeploymentLogStore) ListByInstance(ctx context.Context, instanceID uuid.UUID) (model.DeploymentLogList, error) {
	var entries model.DeploymentLogList
	err := s.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("create_time ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
