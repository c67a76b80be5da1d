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
	ErrConfigurationNotFound = errors.New("configuration not found")
	ErrChannelNotFound       = errors.New("channel not found")
)

type Configuration interface {
	Create(ctx context.Context, cfg model.Configuration) (*model.Configuration, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Configuration, error)
	GetByInstanceID(ctx context.Context, instanceID uuid.UUID) (*model.Configuration, error)
	GetByUserID(ctx context.Context, userID string) (*model.Configuration, error)
	Update(ctx context.Context, cfg *model.Configuration) error
	Delete(ctx context.Context, id uuid.UUID) error
	UpsertChannel(ctx context.Context, channel model.Channel) (*model.Channel, error)
	SetChannelEnabled(ctx context.Context, configID uuid.UUID, channelType model.ChannelType, enabled bool) error
	DeleteChannel(ctx context.Context, configID uuid.UUID, channelType model.ChannelType) error
}

type ConfigurationStore struct {
	db *gorm.DB
}

var _ Configuration = (*ConfigurationStore)(nil)

func NewConfiguration(db *gorm.DB) Configuration {
	return &ConfigurationStore{db: db}
}

func (s *ConfigurationStore) Create(ctx context.Context, cfg model.Configuration) (*model.Configuration, error) {
	if err := s.db.WithContext(ctx).Clauses(clause.Returning{}).Create(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *ConfigurationStore) Get(ctx context.Context, id uuid.UUID) (*model.Configuration, error) {
	var cfg model.Configuration
	if err := s.db.WithContext(ctx).Preload("Channels").First(&cfg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConfigurationNotFound
		}
		return nil, err
	}
	return &cfg, nil
}

func (s *ConfigurationStore) GetByInstanceID(ctx context.Context, instanceID uuid.UUID) (*model.Configuration, error) {
	var cfg model.Configuration
	err := s.db.WithContext(ctx).Preload("Channels").
		Where(&model.Configuration{InstanceID: instanceID}).First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConfigurationNotFound
		}
		return nil, err
	}
	return &cfg, nil
}

func (s *ConfigurationStore) GetByUserID(ctx context.Context, userID string) (*model.Configuration, error) {
	var cfg model.Configuration
	err := s.db.WithContext(ctx).Preload("Channels").
		Where(&model.Configuration{UserID: userID}).First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConfigurationNotFound
		}
		return nil, err
	}
	return &cfg, nil
}

func (s *ConfigurationStore) Update(ctx context.Context, cfg *model.Configuration) error {
	result := s.db.WithContext(ctx).Omit("Channels").Save(cfg)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConfigurationNotFound
	}
	return nil
}

func (s *ConfigurationStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("configuration_id = ?", id).Delete(&model.Channel{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&model.Configuration{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConfigurationNotFound
		}
		return nil
	})
}

// UpsertChannel creates or replaces the channel of the given type on its
// configuration, enforcing the (configuration, type) uniqueness invariant.
func (s *ConfigurationStore) UpsertChannel(ctx context.Context, channel model.Channel) (*model.Channel, error) {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "configuration_id"}, {Name: "channel_type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"enabled", "config", "username", "phone_number", "invite_link", "update_time",
		}),
	}).Create(&channel).Error
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

func (s *ConfigurationStore) SetChannelEnabled(ctx context.Context, configID uuid.UUID, channelType model.ChannelType, enabled bool) error {
	result := s.db.WithContext(ctx).Model(&model.Channel{}).
		Where("configuration_id = ? AND channel_type = ?", configID, channelType).
		Update("enabled", enabled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrChannelNotFound
	}
	return nil
}

func (s *ConfigurationStore) DeleteChannel(ctx context.Context, configID uuid.UUID, channelType model.ChannelType) error {
	result := s.db.WithContext(ctx).
		Where("configuration_id = ? AND channel_type = ?", configID, channelType).
		Delete(&model.Channel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrChannelNotFound
	}
	return nil
}
