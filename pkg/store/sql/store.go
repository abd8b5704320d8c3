// Package sql provides the GORM-backed MessageStore with two drivers:
// SQLite (pure Go, single node) and PostgreSQL (shared/HA deployments).
package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/fixgate/pkg/fix"
	"github.com/marmos91/fixgate/pkg/store"
)

// Driver selects the SQL backend.
type Driver string

const (
	// DriverSQLite uses a local SQLite file via the pure-Go driver.
	DriverSQLite Driver = "sqlite"

	// DriverPostgres uses PostgreSQL.
	DriverPostgres Driver = "postgres"
)

// PostgresConfig carries the PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// DSN renders the connection string.
func (c PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Database)
	if c.SSLMode != "" {
		dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
	}
	return dsn
}

// Config selects and parameterizes the SQL backend.
type Config struct {
	Driver   Driver
	Path     string // sqlite file path
	Postgres PostgresConfig
}

// Store is a GORM-backed MessageStore. Safe for concurrent use.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the schema.
func Open(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite, "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite store requires a path")
		}
		dialector = sqlite.Open(cfg.Path)
	case DriverPostgres:
		dialector = postgres.Open(cfg.Postgres.DSN())
	default:
		return nil, fmt.Errorf("unknown sql driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}

	if cfg.Driver == DriverSQLite || cfg.Driver == "" {
		// The journal must reach disk before the engine transmits.
		if err := db.Exec("PRAGMA synchronous = FULL").Error; err != nil {
			return nil, fmt.Errorf("configure sqlite durability: %w", err)
		}
	}

	if err := db.AutoMigrate(&SessionRow{}, &MessageRow{}, &ArchiveRow{}); err != nil {
		return nil, fmt.Errorf("migrate store schema: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenDB wraps an existing GORM handle. Test hook.
func OpenDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&SessionRow{}, &MessageRow{}, &ArchiveRow{}); err != nil {
		return nil, fmt.Errorf("migrate store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Load implements store.MessageStore.
func (s *Store) Load(ctx context.Context, id fix.SessionID) (store.SequenceState, error) {
	var row SessionRow
	err := s.db.WithContext(ctx).
		Where("begin_string = ? AND sender_comp_id = ? AND target_comp_id = ?",
			id.BeginString, id.SenderCompID, id.TargetCompID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.SequenceState{NextIncoming: 1, NextOutgoing: 1, CreatedAt: time.Now().UTC()}, nil
	}
	if err != nil {
		return store.SequenceState{}, fmt.Errorf("load session %s: %w", id, err)
	}
	return store.SequenceState{
		NextIncoming: row.NextIncoming,
		NextOutgoing: row.NextOutgoing,
		CreatedAt:    row.CreatedAt,
	}, nil
}

// PersistSeq implements store.MessageStore.
func (s *Store) PersistSeq(ctx context.Context, id fix.SessionID, nextIncoming, nextOutgoing int) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row SessionRow
		err := tx.Where("begin_string = ? AND sender_comp_id = ? AND target_comp_id = ?",
			id.BeginString, id.SenderCompID, id.TargetCompID).
			First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&SessionRow{
				BeginString:  id.BeginString,
				SenderCompID: id.SenderCompID,
				TargetCompID: id.TargetCompID,
				NextIncoming: nextIncoming,
				NextOutgoing: nextOutgoing,
				CreatedAt:    time.Now().UTC(),
			}).Error
		case err != nil:
			return err
		}
		return tx.Model(&SessionRow{}).
			Where("begin_string = ? AND sender_comp_id = ? AND target_comp_id = ?",
				id.BeginString, id.SenderCompID, id.TargetCompID).
			Updates(map[string]any{
				"next_incoming": nextIncoming,
				"next_outgoing": nextOutgoing,
			}).Error
	})
	if err != nil {
		return fmt.Errorf("persist sequence for %s: %w", id, err)
	}
	return nil
}

// StoreMessage implements store.MessageStore. The displaced row, if
// any, moves to the archive inside the same transaction.
func (s *Store) StoreMessage(ctx context.Context, id fix.SessionID, seq int, wire []byte) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev MessageRow
		err := tx.Where("begin_string = ? AND sender_comp_id = ? AND target_comp_id = ? AND msg_seq_num = ?",
			id.BeginString, id.SenderCompID, id.TargetCompID, seq).
			First(&prev).Error
		switch {
		case err == nil:
			if err := tx.Create(&ArchiveRow{
				BeginString:  prev.BeginString,
				SenderCompID: prev.SenderCompID,
				TargetCompID: prev.TargetCompID,
				MsgSeqNum:    prev.MsgSeqNum,
				ArchivedAt:   now,
				WireBytes:    prev.WireBytes,
				StoredAt:     prev.StoredAt,
			}).Error; err != nil {
				return err
			}
			return tx.Model(&MessageRow{}).
				Where("begin_string = ? AND sender_comp_id = ? AND target_comp_id = ? AND msg_seq_num = ?",
					id.BeginString, id.SenderCompID, id.TargetCompID, seq).
				Updates(map[string]any{
					"wire_bytes": wire,
					"stored_at":  now,
				}).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&MessageRow{
				BeginString:  id.BeginString,
				SenderCompID: id.SenderCompID,
				TargetCompID: id.TargetCompID,
				MsgSeqNum:    seq,
				WireBytes:    wire,
				StoredAt:     now,
			}).Error
		default:
			return err
		}
	})
	if err != nil {
		return fmt.Errorf("store message %d for %s: %w", seq, id, err)
	}
	return nil
}

// Fetch implements store.MessageStore.
func (s *Store) Fetch(ctx context.Context, id fix.SessionID, seq int) ([]byte, error) {
	var row MessageRow
	err := s.db.WithContext(ctx).
		Where("begin_string = ? AND sender_comp_id = ? AND target_comp_id = ? AND msg_seq_num = ?",
			id.BeginString, id.SenderCompID, id.TargetCompID, seq).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch message %d for %s: %w", seq, id, err)
	}
	return row.WireBytes, nil
}

// FetchRange implements store.MessageStore.
func (s *Store) FetchRange(ctx context.Context, id fix.SessionID, lo, hi int) ([]store.StoredMessage, error) {
	var rows []MessageRow
	err := s.db.WithContext(ctx).
		Where("begin_string = ? AND sender_comp_id = ? AND target_comp_id = ? AND msg_seq_num BETWEEN ? AND ?",
			id.BeginString, id.SenderCompID, id.TargetCompID, lo, hi).
		Order("msg_seq_num ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fetch range [%d,%d] for %s: %w", lo, hi, id, err)
	}
	out := make([]store.StoredMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, store.StoredMessage{
			SeqNum:   row.MsgSeqNum,
			Wire:     row.WireBytes,
			StoredAt: row.StoredAt,
		})
	}
	return out, nil
}

// Reset implements store.MessageStore.
func (s *Store) Reset(ctx context.Context, id fix.SessionID) error {
	return s.PersistSeq(ctx, id, 1, 1)
}

// Close implements store.MessageStore.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
