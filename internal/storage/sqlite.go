package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManyThreads/horme/core/service"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type serviceRecord struct {
	// Seq preserves creation order for queries.
	Seq       uint           `gorm:"primaryKey;autoIncrement"`
	UUID      string         `gorm:"uniqueIndex;not null"`
	Type      string         `gorm:"not null"`
	Room      string         `gorm:"index"`
	DependsOn []service.UUID `gorm:"serializer:json"`
}

func (serviceRecord) TableName() string {
	return "services"
}

func (r *serviceRecord) entry() *service.ServiceEntry {
	e := &service.ServiceEntry{
		UUID:      r.UUID,
		Type:      r.Type,
		Room:      r.Room,
		DependsOn: r.DependsOn,
	}
	return e.Clone()
}

// SQLiteStorage persists service entries in a sqlite database.
type SQLiteStorage struct {
	db *gorm.DB
}

var _ PersistentStorage = &SQLiteStorage{}

// NewSQLiteStorage opens (or creates) the database at path and migrates the schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite database %s: %w", path, err)
	}
	if err := db.AutoMigrate(&serviceRecord{}); err != nil {
		return nil, fmt.Errorf("error migrating sqlite database: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStorage) CreateService(ctx context.Context, unInit service.UnInitServiceEntry) (*service.ServiceEntry, error) {
	rec := &serviceRecord{
		UUID:      uuid.New().String(),
		Type:      unInit.Type,
		Room:      unInit.Room,
		DependsOn: []service.UUID{},
	}
	if err := validateEntry(rec.entry()); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec.entry(), nil
}

func (s *SQLiteStorage) UpdateService(ctx context.Context, entry *service.ServiceEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec serviceRecord
		err := tx.Where("uuid = ?", entry.UUID).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrServiceNotFound
		} else if err != nil {
			return err
		}
		logEntryDiff(rec.entry(), entry)

		rec.Type = entry.Type
		rec.Room = entry.Room
		rec.DependsOn = entry.Clone().DependsOn
		return tx.Save(&rec).Error
	})
}

func (s *SQLiteStorage) RemoveService(ctx context.Context, id service.UUID) error {
	return s.db.WithContext(ctx).Where("uuid = ?", id).Delete(&serviceRecord{}).Error
}

func (s *SQLiteStorage) QueryServices(ctx context.Context) ([]*service.ServiceEntry, error) {
	var recs []serviceRecord
	if err := s.db.WithContext(ctx).Order("seq").Find(&recs).Error; err != nil {
		return nil, err
	}
	return entries(recs), nil
}

func (s *SQLiteStorage) QueryService(ctx context.Context, id service.UUID) (*service.ServiceEntry, bool, error) {
	var rec serviceRecord
	err := s.db.WithContext(ctx).Where("uuid = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	return rec.entry(), true, nil
}

func (s *SQLiteStorage) QueryServicesInRoom(ctx context.Context, room string) ([]*service.ServiceEntry, error) {
	var recs []serviceRecord
	if err := s.db.WithContext(ctx).Where("room = ?", room).Order("seq").Find(&recs).Error; err != nil {
		return nil, err
	}
	return entries(recs), nil
}

func entries(recs []serviceRecord) []*service.ServiceEntry {
	res := make([]*service.ServiceEntry, 0, len(recs))
	for i := range recs {
		res = append(res, recs[i].entry())
	}
	return res
}
