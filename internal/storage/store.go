package storage

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the persistence boundary the balancer writes through. SaveKeyStates
// applies a whole batch in one transaction with row-level upserts, so the
// last write for a value always wins.
type Store interface {
	LoadKeyStates() ([]KeyState, error)
	SaveKeyStates(states []KeyState) error
	DeleteKeyState(value string) error
	AppendImports(rows []ImportRecord) error
	AppendUsage(rows []UsageRecord) error
	Close() error
}

// GormStore implements Store on a gorm connection from Open.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) LoadKeyStates() ([]KeyState, error) {
	var states []KeyState
	if err := s.db.Find(&states).Error; err != nil {
		return nil, fmt.Errorf("load key states: %w", err)
	}

	return states, nil
}

func (s *GormStore) SaveKeyStates(states []KeyState) error {
	if len(states) == 0 {
		return nil
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "value"}},
			UpdateAll: true,
		}).Create(&states).Error
	})
	if err != nil {
		return fmt.Errorf("save key states: %w", err)
	}

	return nil
}

func (s *GormStore) DeleteKeyState(value string) error {
	if err := s.db.Delete(&KeyState{}, "value = ?", value).Error; err != nil {
		return fmt.Errorf("delete key state: %w", err)
	}

	return nil
}

func (s *GormStore) AppendImports(rows []ImportRecord) error {
	if len(rows) == 0 {
		return nil
	}

	if err := s.db.Create(&rows).Error; err != nil {
		return fmt.Errorf("append import history: %w", err)
	}

	return nil
}

func (s *GormStore) AppendUsage(rows []UsageRecord) error {
	if len(rows) == 0 {
		return nil
	}

	if err := s.db.CreateInBatches(&rows, 200).Error; err != nil {
		return fmt.Errorf("append usage history: %w", err)
	}

	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	return sqlDB.Close()
}
