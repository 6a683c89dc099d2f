// Package conversation persists realtime translation sessions and their
// message history.
package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/ledgerline/internal/models"
	"gorm.io/gorm"
)

// DefaultSnapshotLimit caps how many messages a snapshot carries.
const DefaultSnapshotLimit = 500

// ErrSessionNotFound is returned when a session id names no row.
var ErrSessionNotFound = errors.New("conversation: session not found")

// Snapshot is a session plus its history, oldest message first.
type Snapshot struct {
	Session  models.ConversationSession   `json:"session"`
	Messages []models.ConversationMessage `json:"messages"`
}

// Store reads and writes sessions and messages. Messages are insert-only.
type Store struct {
	db            *gorm.DB
	snapshotLimit int
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB            *gorm.DB
	SnapshotLimit int // defaults to DefaultSnapshotLimit
}

// NewStore creates a Store.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("conversation: store: db is required")
	}
	limit := opts.SnapshotLimit
	if limit <= 0 {
		limit = DefaultSnapshotLimit
	}
	return &Store{db: opts.DB, snapshotLimit: limit}, nil
}

// CreateSession inserts a new active session.
func (s *Store) CreateSession(ctx context.Context, session *models.ConversationSession) error {
	if session.CompanyID == 0 {
		return fmt.Errorf("conversation: create session: company id is required")
	}
	if session.OwnerID == 0 {
		return fmt.Errorf("conversation: create session: owner id is required")
	}
	if session.Status == "" {
		session.Status = models.SessionActive
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("conversation: create session: %w", err)
	}
	return nil
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, id uint) (*models.ConversationSession, error) {
	return getSession(ctx, s.db, id)
}

// GetCompanySession loads a session through a company-scoped handle, so a
// session owned by another company reads as not found.
func (s *Store) GetCompanySession(ctx context.Context, companyDB *gorm.DB, id uint) (*models.ConversationSession, error) {
	return getSession(ctx, companyDB, id)
}

func getSession(ctx context.Context, db *gorm.DB, id uint) (*models.ConversationSession, error) {
	var session models.ConversationSession
	err := db.WithContext(ctx).First(&session, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: get session %d: %w", id, err)
	}
	return &session, nil
}

// ListSessions returns the sessions visible through companyDB, newest first.
func (s *Store) ListSessions(ctx context.Context, companyDB *gorm.DB) ([]models.ConversationSession, error) {
	var sessions []models.ConversationSession
	if err := companyDB.WithContext(ctx).Order("id DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("conversation: list sessions: %w", err)
	}
	return sessions, nil
}

// CloseSession marks a session closed. Its history stays readable.
func (s *Store) CloseSession(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Model(&models.ConversationSession{}).
		Where("id = ?", id).
		Update("status", models.SessionClosed)
	if result.Error != nil {
		return fmt.Errorf("conversation: close session %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// AppendMessage inserts msg. The assigned id fixes its place in history.
func (s *Store) AppendMessage(ctx context.Context, msg *models.ConversationMessage) error {
	if msg.SessionID == 0 {
		return fmt.Errorf("conversation: append message: session id is required")
	}
	if msg.Kind == "" {
		msg.Kind = models.KindText
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("conversation: append message: %w", err)
	}
	return nil
}

// History returns every message of a session in persisted order.
func (s *Store) History(ctx context.Context, sessionID uint) ([]models.ConversationMessage, error) {
	var msgs []models.ConversationMessage
	result := s.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("id ASC").Find(&msgs)
	if result.Error != nil {
		return nil, fmt.Errorf("conversation: history: %w", result.Error)
	}
	return msgs, nil
}

// MessageCount returns the number of messages in a session.
func (s *Store) MessageCount(ctx context.Context, sessionID uint) (int64, error) {
	var count int64
	result := s.db.WithContext(ctx).Model(&models.ConversationMessage{}).
		Where("session_id = ?", sessionID).Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("conversation: message count: %w", result.Error)
	}
	return count, nil
}

// Snapshot loads a session and its most recent messages, oldest first.
func (s *Store) Snapshot(ctx context.Context, sessionID uint) (*Snapshot, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var recent []models.ConversationMessage
	result := s.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("id DESC").Limit(s.snapshotLimit).Find(&recent)
	if result.Error != nil {
		return nil, fmt.Errorf("conversation: snapshot: %w", result.Error)
	}
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	return &Snapshot{Session: *session, Messages: recent}, nil
}
