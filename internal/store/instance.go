package store

import (
	"context"
	"errors"

	"github.com/botforge-cloud/instance-manager/internal/store/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInstanceNotFound = errors.New("instance not found")
)

// basePort is the start of the range Instance.Port is allocated from. The
// port is a database uniqueness key only; nothing ever listens on it.
const basePort = 20000

type Instance interface {
	Create(ctx context.Context, instance model.Instance) (*model.Instance, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Instance, error)
	GetByUserID(ctx context.Context, userID string) (*model.Instance, error)
	Update(ctx context.Context, instance *model.Instance) error
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, status *model.InstanceStatus) (model.InstanceList, error)
	NextPort(ctx context.Context) (int, error)
}

type InstanceStore struct {
	db *gorm.DB
}

var _ Instance = (*InstanceStore)(nil)

func NewInstance(db *gorm.DB) Instance {
	return &InstanceStore{db: db}
}

func (s *InstanceStore) Create(ctx context.Context, instance model.Instance) (*model.Instance, error) {
	if err := s.db.WithContext(ctx).Clauses(clause.Returning{}).Create(&instance).Error; err != nil {
		return nil, err
	}
	return &instance, nil
}

func (s *InstanceStore) Get(ctx context.Context, id uuid.UUID) (*model.Instance, error) {
	var instance model.Instance
	if err := s.db.WithContext(ctx).First(&instance, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return &instance, nil
}

func (s *InstanceStore) GetByUserID(ctx context.Context, userID string) (*model.Instance, error) {
	var instance model.Instance
	if err := s.db.WithContext(ctx).Where(&model.Instance{UserID: userID}).First(&instance).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return &instance, nil
}

func (s *InstanceStore) Update(ctx context.Context, instance *model.Instance) error {
	result := s.db.WithContext(ctx).Save(instance)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

// UpdateFields applies a partial update. Used by the orchestrator to persist
// intermediate deploy state (container ID, gateway token) the moment it is
// known.
func (s *InstanceStore) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	result := s.db.WithContext(ctx).Model(&model.Instance{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

func (s *InstanceStore) Delete(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&model.Instance{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

func (s *InstanceStore) List(ctx context.Context, status *model.InstanceStatus) (model.InstanceList, error) {
	var instances model.InstanceList
	query := s.db.WithContext(ctx)
	if status != nil {
		query = query.Where(&model.Instance{Status: *status})
	}
	query = query.Order("create_time ASC, id ASC")
	if err := query.Find(&instances).Error; err != nil {
		return nil, err
	}
	return instances, nil
}

// NextPort allocates the next free uniqueness-key port.
func (s *InstanceStore) NextPort(ctx context.Context) (int, error) {
	var maxPort *int
	err := s.db.WithContext(ctx).Model(&model.Instance{}).Select("MAX(port)").Scan(&maxPort).Error
	if err != nil {
		return 0, err
	}
	if maxPort == nil || *maxPort < basePort {
		return basePort, nil
	}
	return *maxPort + 1, nil
}
