package results

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Postgres stores records through gorm.
type Postgres struct {
	db *gorm.DB
}

// OpenPostgres connects with the given DSN and migrates the results table.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("results: open postgres: %w", err)
	}
	return NewPostgres(db)
}

// NewPostgres wraps an existing gorm handle and migrates the results table.
func NewPostgres(db *gorm.DB) (*Postgres, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("results: migrate: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Put implements Store.
func (p *Postgres) Put(ctx context.Context, r Record) error {
	err := p.db.WithContext(ctx).Clauses(upsertClause()).Create(&r).Error
	if err != nil {
		return fmt.Errorf("results: postgres upsert %s/%s: %w", r.DeviceID, r.Timestamp, err)
	}
	return nil
}

func upsertClause() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}, {Name: "timestamp"}},
		UpdateAll: true,
	}
}

// List implements Lister.
func (p *Postgres) List(ctx context.Context, limit int) ([]Record, error) {
	q := p.db.WithContext(ctx).Order("timestamp DESC").Order("processed_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []Record
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("results: postgres list: %w", err)
	}
	return out, nil
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
