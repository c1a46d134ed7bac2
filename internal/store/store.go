package store

import (
	"context"
	"errors"
	"fmt"

	"bingx-auto-trader/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrSessionNotFound is returned when no session exists for the given ID.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore is the single source of truth for per-session trading
// configuration.
type SessionStore interface {
	// ActiveSessions returns all sessions with auto-trading enabled.
	ActiveSessions(ctx context.Context) ([]models.Session, error)

	// Get returns the session with the given ID, or ErrSessionNotFound.
	Get(ctx context.Context, sessionID string) (*models.Session, error)

	// GetByUser returns all sessions belonging to a user.
	GetByUser(ctx context.Context, email string) ([]models.Session, error)

	// Save creates or updates a session, keyed by its SessionID.
	Save(ctx context.Context, session *models.Session) error

	// UpdateStatus sets the auto-trading flag and, if non-empty, the
	// current symbol. Idempotent; called before each trade attempt so
	// intent is on disk even if the process dies mid-trade.
	UpdateStatus(ctx context.Context, sessionID string, enabled bool, currentSymbol string) error

	// Delete removes a session.
	Delete(ctx context.Context, sessionID string) error
}

// TradeLog records executed trades for history queries.
type TradeLog interface {
	Record(ctx context.Context, record *models.TradeRecord) error
	BySession(ctx context.Context, sessionID string) ([]models.TradeRecord, error)
}

// Store is the gorm-backed implementation of SessionStore and TradeLog.
type Store struct {
	db *gorm.DB
}

var (
	_ SessionStore = (*Store)(nil)
	_ TradeLog     = (*Store)(nil)
)

// NewStore creates a Store on top of an open gorm connection.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) ActiveSessions(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	if err := s.db.WithContext(ctx).Where("auto_trading_enabled = ?", true).Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to load active sessions: %w", err)
	}
	return sessions, nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return &session, nil
}

func (s *Store) GetByUser(ctx context.Context, email string) ([]models.Session, error) {
	var sessions []models.Session
	if err := s.db.WithContext(ctx).Where("user_email = ?", email).Order("created_at desc").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to load sessions for %s: %w", email, err)
	}
	return sessions, nil
}

func (s *Store) Save(ctx context.Context, session *models.Session) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_email", "api_key", "secret_key", "exchange_type",
			"investment", "leverage", "take_profit", "stop_loss",
			"indicator", "auto_trading_enabled", "current_symbol", "updated_at",
		}),
	}).Create(session).Error
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.SessionID, err)
	}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, sessionID string, enabled bool, currentSymbol string) error {
	updates := map[string]interface{}{"auto_trading_enabled": enabled}
	if currentSymbol != "" {
		updates["current_symbol"] = currentSymbol
	}

	res := s.db.WithContext(ctx).Model(&models.Session{}).Where("session_id = ?", sessionID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update status for session %s: %w", sessionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&models.Session{}).Error; err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) Record(ctx context.Context, record *models.TradeRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to save trade record: %w", err)
	}
	return nil
}

func (s *Store) BySession(ctx context.Context, sessionID string) ([]models.TradeRecord, error) {
	var records []models.TradeRecord
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("timestamp desc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load trade records for %s: %w", sessionID, err)
	}
	return records, nil
}
