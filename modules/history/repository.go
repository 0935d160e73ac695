package history

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	domain "github.com/example/ephemeral-chat/domain/chat"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the persisted message log and room metadata.
type Store interface {
	Append(ctx context.Context, roomID, sender, text string) (*domain.Message, error)
	Recent(ctx context.Context, roomID string, limit int) ([]domain.Message, error)
	DeleteMessages(ctx context.Context, roomID string) error
	CreateRoom(ctx context.Context) (*domain.Room, error)
	GetRoom(ctx context.Context, roomID string) (*domain.Room, error)
	DeleteRoom(ctx context.Context, roomID string) error
	// ReapCandidates lists rooms that still hold messages, plus rooms whose
	// metadata record was created before staleBefore.
	ReapCandidates(ctx context.Context, staleBefore time.Time) ([]string, error)
}

// OpenDB opens the SQLite database and runs migrations.
func OpenDB(path string, debug bool) (*gorm.DB, error) {
	logLevel := logger.Silent
	if debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite serializes writers anyway; one connection also keeps ":memory:"
	// databases from splitting across the pool.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&MessageRecord{}, &RoomRecord{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// Repository implements Store with GORM.
type Repository struct {
	db *gorm.DB
}

var _ Store = (*Repository)(nil)

// NewRepository creates a new history repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Append stores a new message and returns the stored record.
func (r *Repository) Append(ctx context.Context, roomID, sender, text string) (*domain.Message, error) {
	if roomID == "" {
		return nil, ErrEmptyRoomID
	}

	record := &MessageRecord{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Sender:    sender,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	msg := record.toDomain()
	return &msg, nil
}

// Recent returns the newest limit messages of a room, oldest first.
func (r *Repository) Recent(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	var records []MessageRecord
	query := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("seq DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	slices.Reverse(records)
	messages := make([]domain.Message, 0, len(records))
	for _, record := range records {
		messages = append(messages, record.toDomain())
	}
	return messages, nil
}

// DeleteMessages removes every message of a room.
func (r *Repository) DeleteMessages(ctx context.Context, roomID string) error {
	if roomID == "" {
		return ErrEmptyRoomID
	}
	if err := r.db.WithContext(ctx).Where("room_id = ?", roomID).Delete(&MessageRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// CreateRoom allocates a fresh room id and stores its metadata record.
func (r *Repository) CreateRoom(ctx context.Context) (*domain.Room, error) {
	record := &RoomRecord{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	room := record.toDomain()
	return &room, nil
}

// GetRoom returns the metadata record of a room.
func (r *Repository) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	var record RoomRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to find room: %w", err)
	}
	room := record.toDomain()
	return &room, nil
}

// DeleteRoom removes the metadata record of a room. Missing records are not an error.
func (r *Repository) DeleteRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return ErrEmptyRoomID
	}
	if err := r.db.WithContext(ctx).Delete(&RoomRecord{}, "id = ?", roomID).Error; err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}

// ReapCandidates implements Store.
func (r *Repository) ReapCandidates(ctx context.Context, staleBefore time.Time) ([]string, error) {
	var withMessages []string
	if err := r.db.WithContext(ctx).
		Model(&MessageRecord{}).
		Distinct("room_id").
		Pluck("room_id", &withMessages).Error; err != nil {
		return nil, fmt.Errorf("failed to list rooms with messages: %w", err)
	}

	var stale []string
	if err := r.db.WithContext(ctx).
		Model(&RoomRecord{}).
		Where("created_at < ?", staleBefore).
		Pluck("id", &stale).Error; err != nil {
		return nil, fmt.Errorf("failed to list stale rooms: %w", err)
	}

	seen := make(map[string]bool, len(withMessages)+len(stale))
	result := make([]string, 0, len(withMessages)+len(stale))
	for _, id := range append(withMessages, stale...) {
		if !seen[id] {
			seen[id] = true
			result = append(result, id)
		}
	}
	slices.Sort(result)
	return result, nil
}
