package persistence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"
)

// sessionRow is the GORM model backing Session.
type sessionRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"size:128;not null;index:idx_active,priority:1"`
	Feature   string `gorm:"size:64;not null;index:idx_active,priority:2"`
	Status    string `gorm:"size:16;not null;default:active;index:idx_active,priority:3"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (sessionRow) TableName() string {
	return "askflow_sessions"
}

// messageRow is the GORM model backing StoredMessage. The
// auto-incremented primary key preserves append order within a session.
type messageRow struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"size:36;not null;index:idx_session"`
	Role      string `gorm:"size:16;not null"`
	Content   string `gorm:"type:text;not null"`
	CreatedAt time.Time
}

func (messageRow) TableName() string {
	return "askflow_messages"
}

// GormSessionStore is the SQL implementation of SessionStore. The
// dialect is selected by Config.Type: sqlite, mysql or postgres.
type GormSessionStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormSessionStore opens the database named by the configuration and
// migrates the session tables.
func NewGormSessionStore(cfg Config, logger *zap.Logger) (*GormSessionStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("session store: %w: dsn is required", ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Type {
	case StoreTypeSQLite:
		dialector = sqlite.Open(cfg.DSN)
	case StoreTypeMySQL:
		dialector = mysql.Open(cfg.DSN)
	case StoreTypePostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported SQL store type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: glog.Default.LogMode(glog.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&sessionRow{}, &messageRow{}); err != nil {
		return nil, fmt.Errorf("migrate session tables: %w", err)
	}

	logger.Info("session store ready",
		zap.String("backend", string(cfg.Type)))

	return &GormSessionStore{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *GormSessionStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks if the database is reachable.
func (s *GormSessionStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// GetOrCreateActiveSession returns the active session for the user and
// feature, creating one when none exists.
func (s *GormSessionStore) GetOrCreateActiveSession(ctx context.Context, userID, feature string) (string, error) {
	if userID == "" || feature == "" {
		return "", ErrInvalidInput
	}

	var row sessionRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND feature = ? AND status = ?", userID, feature, SessionStatusActive).
		Order("created_at ASC").
		First(&row).Error
	if err == nil {
		return row.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("find active session: %w", err)
	}

	row = sessionRow{
		ID:      uuid.New().String(),
		UserID:  userID,
		Feature: feature,
		Status:  SessionStatusActive,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	return row.ID, nil
}

// AddMessage appends one turn to the session transcript.
func (s *GormSessionStore) AddMessage(ctx context.Context, sessionID, role, content string) error {
	if sessionID == "" || role == "" {
		return ErrInvalidInput
	}

	if err := s.sessionExists(ctx, sessionID); err != nil {
		return err
	}

	row := messageRow{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("save message: %w", err)
	}

	if err := s.db.WithContext(ctx).
		Model(&sessionRow{}).
		Where("id = ?", sessionID).
		UpdateColumn("updated_at", time.Now()).Error; err != nil {
		s.logger.Warn("touch session failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}

	return nil
}

// Messages returns the session transcript in append order.
func (s *GormSessionStore) Messages(ctx context.Context, sessionID string, limit int) ([]StoredMessage, error) {
	if sessionID == "" {
		return nil, ErrInvalidInput
	}

	if err := s.sessionExists(ctx, sessionID); err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Where("session_id = ?", sessionID)
	var rows []messageRow
	if limit > 0 {
		// Fetch the newest rows, then restore append order.
		if err := q.Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("load messages: %w", err)
		}
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	} else {
		if err := q.Order("id ASC").Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("load messages: %w", err)
		}
	}

	out := make([]StoredMessage, len(rows))
	for i, r := range rows {
		out[i] = StoredMessage{
			ID:        strconv.FormatUint(r.ID, 10),
			SessionID: r.SessionID,
			Role:      r.Role,
			Content:   r.Content,
			CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

// CloseSession marks the session closed.
func (s *GormSessionStore) CloseSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidInput
	}

	if err := s.sessionExists(ctx, sessionID); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).
		Model(&sessionRow{}).
		Where("id = ?", sessionID).
		Updates(map[string]any{
			"status":     SessionStatusClosed,
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

func (s *GormSessionStore) sessionExists(ctx context.Context, sessionID string) error {
	var row sessionRow
	err := s.db.WithContext(ctx).Select("id").Where("id = ?", sessionID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("find session: %w", err)
	}
	return nil
}
