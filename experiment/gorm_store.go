package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// experimentRow is the relational shape: structured maps travel as JSON
// columns, everything queryable stays a plain column.
type experimentRow struct {
	ID             string `gorm:"primaryKey;size:64"`
	Title          string
	Field          string
	CurrentStep    int
	AutomationMode string `gorm:"size:16"`
	StepData       []byte `gorm:"type:text"`
	FineTune       []byte `gorm:"type:text"`
	LabNotebook    string `gorm:"type:text"`
	Status         string `gorm:"size:16;index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (experimentRow) TableName() string { return "experiments" }

// GormStore persists experiments through GORM. The driver switch covers
// postgres, mysql and (pure-Go) sqlite.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore opens the configured database and ensures the schema exists.
func NewGormStore(cfg SQLConfig, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: unknown sql driver %q", ErrInvalidInput, cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	if err := db.AutoMigrate(&experimentRow{}); err != nil {
		return nil, fmt.Errorf("migrate experiments schema: %w", err)
	}

	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "sql_store")),
	}, nil
}

func toRow(exp *Experiment) (*experimentRow, error) {
	stepData, err := json.Marshal(exp.StepData)
	if err != nil {
		return nil, fmt.Errorf("encode step data: %w", err)
	}
	fineTune, err := json.Marshal(exp.FineTune)
	if err != nil {
		return nil, fmt.Errorf("encode fine-tune settings: %w", err)
	}
	return &experimentRow{
		ID:             exp.ID,
		Title:          exp.Title,
		Field:          exp.Field,
		CurrentStep:    exp.CurrentStep,
		AutomationMode: string(exp.AutomationMode),
		StepData:       stepData,
		FineTune:       fineTune,
		LabNotebook:    exp.LabNotebook,
		Status:         string(exp.Status),
		CreatedAt:      exp.CreatedAt,
		UpdatedAt:      exp.UpdatedAt,
	}, nil
}

func fromRow(row *experimentRow) (*Experiment, error) {
	exp := &Experiment{
		ID:             row.ID,
		Title:          row.Title,
		Field:          row.Field,
		CurrentStep:    row.CurrentStep,
		AutomationMode: AutomationMode(row.AutomationMode),
		LabNotebook:    row.LabNotebook,
		Status:         Status(row.Status),
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if len(row.StepData) > 0 {
		if err := json.Unmarshal(row.StepData, &exp.StepData); err != nil {
			return nil, fmt.Errorf("decode step data for %s: %w", row.ID, err)
		}
	}
	if exp.StepData == nil {
		exp.StepData = make(map[int]StepRecord)
	}
	if len(row.FineTune) > 0 {
		if err := json.Unmarshal(row.FineTune, &exp.FineTune); err != nil {
			return nil, fmt.Errorf("decode fine-tune settings for %s: %w", row.ID, err)
		}
	}
	return exp, nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*Experiment, error) {
	var row experimentRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query experiment %s: %w", id, err)
	}
	return fromRow(&row)
}

func (s *GormStore) Put(ctx context.Context, exp *Experiment) error {
	if exp == nil {
		return ErrInvalidInput
	}
	if err := exp.Validate(); err != nil {
		return err
	}

	exp.UpdatedAt = time.Now().UTC()
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = exp.UpdatedAt
	}

	row, err := toRow(exp)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(row).Error; err != nil {
		return fmt.Errorf("save experiment %s: %w", exp.ID, err)
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&experimentRow{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete experiment %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) List(ctx context.Context) ([]*Experiment, error) {
	var rows []experimentRow
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}

	out := make([]*Experiment, 0, len(rows))
	for i := range rows {
		exp, err := fromRow(&rows[i])
		if err != nil {
			s.logger.Warn("skipping undecodable experiment row",
				zap.String("id", rows[i].ID),
				zap.Error(err),
			)
			continue
		}
		out = append(out, exp)
	}
	return out, nil
}

// DB exposes the underlying handle so callers can wire pool management
// around the store's connection.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) Ping(ctx context.Context) error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (s *GormStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
