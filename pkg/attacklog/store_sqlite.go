package attacklog

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SQLiteStore keeps records in an embedded database, trimmed to a maximum
// row count after every insert. It suits gateway-class deployments where
// operators want to query history with ordinary tools.
type SQLiteStore struct {
	db         *gorm.DB
	logger     *logrus.Logger
	maxRecords int
}

type attackRow struct {
	ID          uint   `gorm:"primaryKey"`
	Timestamp   int64  `gorm:"index"`
	SourceIP    string `gorm:"size:45"`
	TargetPort  uint16
	Service     string `gorm:"size:16"`
	Username    string `gorm:"size:64"`
	Password    string `gorm:"size:64"`
	UserAgent   string `gorm:"size:255"`
	PayloadHash string `gorm:"size:32"`
	Metadata    string `gorm:"size:192"`
}

func (attackRow) TableName() string { return "attacks" }

// NewSQLiteStore opens or creates the database at config.Path and
// migrates the attacks table.
func NewSQLiteStore(config SQLiteStoreConfig, logger *logrus.Logger) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(config.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open attack database: %w", err)
	}

	// WAL keeps readers from blocking the single writer.
	if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
		logger.WithError(err).Warn("Failed to enable WAL mode")
	}

	if err := db.AutoMigrate(&attackRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate attack database: %w", err)
	}

	maxRecords := config.MaxRecords
	if maxRecords < 1 {
		maxRecords = 1000
	}

	logger.WithFields(logrus.Fields{
		"path":       config.Path,
		"maxRecords": maxRecords,
	}).Info("Attack database opened")

	return &SQLiteStore{
		db:         db,
		logger:     logger,
		maxRecords: maxRecords,
	}, nil
}

// Append inserts one record, then trims rows beyond the configured bound
// oldest first.
func (s *SQLiteStore) Append(rec Record) error {
	row := attackRow{
		Timestamp:   rec.Timestamp,
		SourceIP:    rec.SourceIP,
		TargetPort:  rec.TargetPort,
		Service:     string(rec.Service),
		Username:    rec.Username,
		Password:    rec.Password,
		UserAgent:   rec.UserAgent,
		PayloadHash: rec.PayloadHash,
		Metadata:    rec.Metadata,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert attack record: %w", err)
	}

	// The subquery yields the id just past the retention bound, or NULL
	// while under it.
	err := s.db.Exec(
		"DELETE FROM attacks WHERE id <= (SELECT id FROM attacks ORDER BY id DESC LIMIT 1 OFFSET ?)",
		s.maxRecords,
	).Error
	if err != nil {
		return fmt.Errorf("failed to trim attack records: %w", err)
	}
	return nil
}

// Load returns up to max records ordered oldest first.
func (s *SQLiteStore) Load(max int) ([]Record, error) {
	var rows []attackRow
	q := s.db.Order("id DESC")
	if max > 0 {
		q = q.Limit(max)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load attack records: %w", err)
	}

	out := make([]Record, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		rec := Record{
			Timestamp:   row.Timestamp,
			SourceIP:    row.SourceIP,
			TargetPort:  row.TargetPort,
			Service:     Service(row.Service),
			Username:    row.Username,
			Password:    row.Password,
			UserAgent:   row.UserAgent,
			PayloadHash: row.PayloadHash,
			Metadata:    row.Metadata,
		}
		rec.Normalize()
		out = append(out, rec)
	}
	return out, nil
}

// Clear deletes every stored record.
func (s *SQLiteStore) Clear() error {
	if err := s.db.Exec("DELETE FROM attacks").Error; err != nil {
		return fmt.Errorf("failed to clear attack records: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
