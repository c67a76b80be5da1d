package store

import "gorm.io/gorm"

type Store interface {
	Close() error
	Instance() Instance
	Configuration() Configuration
	DeploymentLog() DeploymentLog
}

type DataStore struct {
	db            *gorm.DB
	instance      Instance
	configuration Configuration
	deploymentLog DeploymentLog
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:            db,
		instance:      NewInstance(db),
		configuration: NewConfiguration(db),
		deploymentLog: NewDeploymentLog(db),
	}
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *DataStore) Instance() Instance {
	return s.instance
}

func (s *DataStore) Configuration() Configuration {
	return s.configuration
}

func (s *DataStore) DeploymentLog() DeploymentLog {
	return s.deploymentLog
}
