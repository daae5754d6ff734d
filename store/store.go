package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bosley/listener/audio"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrTerminalStatus = errors.New("meeting already finished")
)

// Config for the database connection
type Config struct {
	// "postgres" or "sqlite"
	Driver string
	DSN    string

	LogLevel      string
	SlowThreshold time.Duration
	MaxOpenConns  int
}

// Store persists meetings, tracks and utterances.
type Store struct {
	db *gorm.DB
}

func dialector(cfg Config) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.Driver) {
	case "postgres", "postgresql", "":
		return postgres.Open(cfg.DSN), nil
	case "sqlite", "sqlite3":
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Open connects to the configured database and migrates the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	d, err := dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(d, &gorm.Config{
		Logger: newLogger(parseLogLevel(cfg.LogLevel), cfg.SlowThreshold),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	} else if db.Dialector.Name() == "sqlite" {
		// SQLite allows one writer at a time
		sqlDB.SetMaxOpenConns(1)
	}

	s, err := New(db)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	slog.Info("Database connection established", "driver", cfg.Driver)
	return s, nil
}

// New wraps an open gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Meeting{}, &AudioTrack{}, &Utterance{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection pool.
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

// withTransaction runs fn in a transaction, rolling back on error or panic.
func (s *Store) withTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			slog.Error("Transaction rolled back due to panic", "panic", r)
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback().Error; rbErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// CreateMeeting inserts a new meeting in the given status.
func (s *Store) CreateMeeting(ctx context.Context, status Status) (*Meeting, error) {
	if status.Terminal() {
		return nil, fmt.Errorf("cannot create meeting in status %q", status)
	}
	m := &Meeting{Status: status}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, fmt.Errorf("failed to create meeting: %w", err)
	}
	return m, nil
}

// transition moves a meeting to status inside tx.
func transition(tx *gorm.DB, id uuid.UUID, to Status, detail string) error {
	var m Meeting
	if err := tx.Select("id", "status").First(&m, "id = ?", id).Error; err != nil {
		return notFound(err)
	}
	if m.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalStatus, id, m.Status)
	}
	if !m.Status.canMoveTo(to) {
		return fmt.Errorf("invalid status transition %s -> %s", m.Status, to)
	}
	return tx.Model(&Meeting{}).Where("id = ?", id).Updates(map[string]any{
		"status":       to,
		"error_detail": detail,
		"updated_at":   time.Now(),
	}).Error
}

// SetStatus moves a meeting forward. Leaving a terminal status is rejected
// with ErrTerminalStatus.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	return s.withTransaction(ctx, func(tx *gorm.DB) error {
		return transition(tx, id, status, "")
	})
}

// Fail marks a meeting failed with the given detail.
func (s *Store) Fail(ctx context.Context, id uuid.UUID, detail string) error {
	return s.withTransaction(ctx, func(tx *gorm.DB) error {
		return transition(tx, id, StatusFailed, detail)
	})
}

// CreateTrack records an audio artifact of a meeting.
func (s *Store) CreateTrack(ctx context.Context, meetingID uuid.UUID, role audio.Role, path string, durationSec float64) (*AudioTrack, error) {
	t := &AudioTrack{
		MeetingID:   meetingID,
		TrackType:   role,
		FilePath:    path,
		DurationSec: durationSec,
	}
	err := s.withTransaction(ctx, func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Meeting{}).Where("id = ?", meetingID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return tx.Create(t).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create track: %w", err)
	}
	return t, nil
}

// Complete stores every utterance and marks the meeting completed in one
// transaction. Utterances keep their given order within the meeting.
func (s *Store) Complete(ctx context.Context, meetingID uuid.UUID, batches ...TrackUtterances) (int, error) {
	var rows []Utterance
	for _, b := range batches {
		trackID := b.TrackID
		for _, u := range b.Utterances {
			rows = append(rows, Utterance{
				MeetingID: meetingID,
				TrackID:   &trackID,
				SpeakerID: u.Speaker,
				StartTime: u.Start,
				EndTime:   u.End,
				Text:      strings.TrimSpace(u.Text),
				Language:  u.Language,
				Seq:       len(rows),
			})
		}
	}

	err := s.withTransaction(ctx, func(tx *gorm.DB) error {
		if err := transition(tx, meetingID, StatusCompleted, ""); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(&rows, 200).Error; err != nil {
			return fmt.Errorf("failed to insert utterances: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// GetMeeting returns a meeting with its tracks.
func (s *Store) GetMeeting(ctx context.Context, id uuid.UUID) (*Meeting, error) {
	var m Meeting
	err := s.db.WithContext(ctx).
		Preload("Tracks", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, track_type") }).
		First(&m, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// ListMeetings returns the most recent meetings first.
func (s *Store) ListMeetings(ctx context.Context, limit int) ([]Meeting, error) {
	if limit <= 0 {
		limit = 100
	}
	var meetings []Meeting
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&meetings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings: %w", err)
	}
	return meetings, nil
}

// Utterances returns the utterances of a meeting ordered by start time,
// optionally restricted to one track.
func (s *Store) Utterances(ctx context.Context, meetingID uuid.UUID, trackID *uuid.UUID) ([]Utterance, error) {
	q := s.db.WithContext(ctx).Where("meeting_id = ?", meetingID)
	if trackID != nil {
		q = q.Where("track_id = ?", *trackID)
	}
	var out []Utterance
	if err := q.Order("start_time, seq").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load utterances: %w", err)
	}
	return out, nil
}

// DeleteMeeting removes a meeting with its tracks and utterances.
func (s *Store) DeleteMeeting(ctx context.Context, id uuid.UUID) error {
	return s.withTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("meeting_id = ?", id).Delete(&Utterance{}).Error; err != nil {
			return err
		}
		if err := tx.Where("meeting_id = ?", id).Delete(&AudioTrack{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Meeting{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteTrack removes one track. Its utterances stay with a null track.
func (s *Store) DeleteTrack(ctx context.Context, id uuid.UUID) error {
	return s.withTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(&Utterance{}).Where("track_id = ?", id).Update("track_id", nil).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&AudioTrack{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
