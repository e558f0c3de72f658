// Package sqlite provides a [checkpoint.Store] in a local SQLite file, for
// single-machine runs that should survive restarts without a database server.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/MrWong99/scribefix/internal/checkpoint"
	"github.com/MrWong99/scribefix/internal/transcript"
)

var _ checkpoint.Store = (*Store)(nil)

// blockCheckpoint is the gorm model of one checkpoint row.
type blockCheckpoint struct {
	FileID     string `gorm:"primaryKey"`
	BlockIndex int    `gorm:"primaryKey;autoIncrement:false"`
	Status     string `gorm:"not null;index"`
	Error      string `gorm:"not null"`
	Result     datatypes.JSON
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (blockCheckpoint) TableName() string { return "block_checkpoints" }

func (b blockCheckpoint) record() (checkpoint.Record, error) {
	rec := checkpoint.Record{
		FileID:     b.FileID,
		BlockIndex: b.BlockIndex,
		Status:     checkpoint.Status(b.Status),
		Error:      b.Error,
		UpdatedAt:  b.UpdatedAt,
	}
	if len(b.Result) > 0 {
		if err := json.Unmarshal(b.Result, &rec.Result); err != nil {
			return checkpoint.Record{}, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return rec, nil
}

// Store is a gorm-backed [checkpoint.Store].
type Store struct {
	db *gorm.DB
}

// Open opens or creates the SQLite database at path and migrates the
// checkpoint table. Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint sqlite: open %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("checkpoint sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases alive across calls.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&blockCheckpoint{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("checkpoint sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// FindBlock implements [checkpoint.Store].
func (s *Store) FindBlock(ctx context.Context, fileID string, blockIndex int) (*checkpoint.Record, error) {
	var row blockCheckpoint
	err := s.db.WithContext(ctx).
		Where("file_id = ? AND block_index = ?", fileID, blockIndex).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint sqlite: find block: %w", err)
	}
	rec, err := row.record()
	if err != nil {
		return nil, fmt.Errorf("checkpoint sqlite: find block: %w", err)
	}
	return &rec, nil
}

// UpsertBlock implements [checkpoint.Store].
func (s *Store) UpsertBlock(ctx context.Context, fileID string, blockIndex int, result transcript.BlockResult, status checkpoint.Status, errMsg string) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("checkpoint sqlite: marshal result: %w", err)
	}
	row := blockCheckpoint{
		FileID:     fileID,
		BlockIndex: blockIndex,
		Status:     string(status),
		Error:      errMsg,
		Result:     datatypes.JSON(resultJSON),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_id"}, {Name: "block_index"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "error", "result", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("checkpoint sqlite: upsert block: %w", err)
	}
	return nil
}

// ListBlocks implements [checkpoint.Store].
func (s *Store) ListBlocks(ctx context.Context, fileID string) ([]checkpoint.Record, error) {
	var rows []blockCheckpoint
	err := s.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Order("block_index").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("checkpoint sqlite: list blocks: %w", err)
	}
	out := make([]checkpoint.Record, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, fmt.Errorf("checkpoint sqlite: list blocks: block %d: %w", r.BlockIndex, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
