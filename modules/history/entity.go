package history

import (
	"time"

	domain "github.com/example/ephemeral-chat/domain/chat"
)

// MessageRecord is the persisted form of a chat message.
// Seq preserves insertion order when timestamps collide.
type MessageRecord struct {
	Seq       uint      `gorm:"primarykey;autoIncrement"`
	ID        string    `gorm:"size:36;uniqueIndex;not null"`
	RoomID    string    `gorm:"size:64;index;not null"`
	Sender    string    `gorm:"size:100;not null"`
	Text      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for MessageRecord.
func (MessageRecord) TableName() string {
	return "messages"
}

func (r MessageRecord) toDomain() domain.Message {
	return domain.Message{
		ID:        r.ID,
		RoomID:    r.RoomID,
		Sender:    r.Sender,
		Text:      r.Text,
		CreatedAt: r.CreatedAt,
	}
}

// RoomRecord is the metadata row written when a room id is allocated.
type RoomRecord struct {
	ID        string    `gorm:"primarykey;size:64"`
	CreatedAt time.Time `gorm:"index;not null"`
}

// TableName returns the table name for RoomRecord.
func (RoomRecord) TableName() string {
	return "rooms"
}

func (r RoomRecord) toDomain() domain.Room {
	return domain.Room{ID: r.ID, CreatedAt: r.CreatedAt}
}
