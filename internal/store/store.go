// Package store persists thread, template and call snapshots in SQLite.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fleetflow/broker-comms/internal/model"
	"github.com/fleetflow/broker-comms/pkg/logger"
)

// ThreadRecord holds a JSON snapshot of a thread with a few indexed columns.
type ThreadRecord struct {
	ID           string `gorm:"primaryKey"`
	BrokerID     string `gorm:"index"`
	Status       string
	LastActivity time.Time
	Data         string
}

// TableName overrides the default table name.
func (ThreadRecord) TableName() string { return "threads" }

// TemplateRecord holds a JSON snapshot of a template.
type TemplateRecord struct {
	ID       string `gorm:"primaryKey"`
	Category string
	Usage    int
	Data     string
}

// TableName overrides the default table name.
func (TemplateRecord) TableName() string { return "templates" }

// CallRecord holds a JSON snapshot of a voice call.
type CallRecord struct {
	ID       string `gorm:"primaryKey"`
	ThreadID string `gorm:"index"`
	Status   string
	Data     string
}

// TableName overrides the default table name.
func (CallRecord) TableName() string { return "calls" }

// slowQueryThreshold matches gorm's default logger.
const slowQueryThreshold = 200 * time.Millisecond

// GormStore implements write-through persistence on top of GORM.
type GormStore struct {
	db     *gorm.DB
	logger *logger.Logger
}

// Open connects to the SQLite database at path and migrates the schema.
func Open(path string, log *logger.Logger) (*GormStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store: database path cannot be empty")
	}
	if log == nil {
		log = logger.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.New(gormWriter{log: log}, gormlogger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	// SQLite allows a single writer; one connection also keeps ":memory:"
	// databases shared across calls.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&ThreadRecord{}, &TemplateRecord{}, &CallRecord{}); err != nil {
		return nil, fmt.Errorf("store: auto migrate: %w", err)
	}

	log.Info("database ready", zap.String("path", path))
	return &GormStore{db: db, logger: log}, nil
}

// Close releases the database connection.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// SaveThread upserts a thread snapshot.
func (s *GormStore) SaveThread(ctx context.Context, thread *model.Thread) error {
	data, err := json.Marshal(thread)
	if err != nil {
		return fmt.Errorf("store: marshal thread %s: %w", thread.ID, err)
	}
	rec := ThreadRecord{
		ID:           thread.ID,
		BrokerID:     thread.BrokerID,
		Status:       string(thread.Status),
		LastActivity: thread.UpdatedAt,
		Data:         string(data),
	}
	return s.upsert(ctx, &rec, "broker_id", "status", "last_activity", "data")
}

// SaveTemplate upserts a template snapshot.
func (s *GormStore) SaveTemplate(ctx context.Context, tmpl *model.Template) error {
	data, err := json.Marshal(tmpl)
	if err != nil {
		return fmt.Errorf("store: marshal template %s: %w", tmpl.ID, err)
	}
	rec := TemplateRecord{
		ID:       tmpl.ID,
		Category: string(tmpl.Category),
		Usage:    tmpl.Usage,
		Data:     string(data),
	}
	return s.upsert(ctx, &rec, "category", "usage", "data")
}

// SaveCall upserts a call snapshot.
func (s *GormStore) SaveCall(ctx context.Context, call *model.VoiceCall) error {
	data, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("store: marshal call %s: %w", call.ID, err)
	}
	rec := CallRecord{
		ID:       call.ID,
		ThreadID: call.ThreadID,
		Status:   string(call.Status),
		Data:     string(data),
	}
	return s.upsert(ctx, &rec, "thread_id", "status", "data")
}

func (s *GormStore) upsert(ctx context.Context, rec any, columns ...string) error {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(rec)
	if result.Error != nil {
		return fmt.Errorf("store: upsert: %w", result.Error)
	}
	return nil
}

// LoadThreads returns every stored thread.
func (s *GormStore) LoadThreads(ctx context.Context) ([]model.Thread, error) {
	var recs []ThreadRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("store: load threads: %w", err)
	}

	out := make([]model.Thread, 0, len(recs))
	for _, rec := range recs {
		var th model.Thread
		if err := json.Unmarshal([]byte(rec.Data), &th); err != nil {
			return nil, fmt.Errorf("store: decode thread %s: %w", rec.ID, err)
		}
		out = append(out, th)
	}
	return out, nil
}

// LoadTemplates returns every stored template.
func (s *GormStore) LoadTemplates(ctx context.Context) ([]model.Template, error) {
	var recs []TemplateRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("store: load templates: %w", err)
	}

	out := make([]model.Template, 0, len(recs))
	for _, rec := range recs {
		var tmpl model.Template
		if err := json.Unmarshal([]byte(rec.Data), &tmpl); err != nil {
			return nil, fmt.Errorf("store: decode template %s: %w", rec.ID, err)
		}
		out = append(out, tmpl)
	}
	return out, nil
}

// gormWriter routes GORM's logger through zap.
type gormWriter struct {
	log *logger.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Sugar().Warnf(format, args...)
}
