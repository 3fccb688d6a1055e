package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/driftlabs/chatrelay/internal/domain"
)

// messageRow is the GORM model backing the messages table.
type messageRow struct {
	RoomID  string `gorm:"column:room_id;primaryKey;size:128"`
	Seq     int64  `gorm:"column:seq;primaryKey;autoIncrement:false"`
	MsgID   string `gorm:"column:msg_id;size:128;index:idx_messages_room_msg"`
	Author  string `gorm:"column:author;size:128"`
	Role    string `gorm:"column:role;size:32"`
	Content string `gorm:"column:content;type:text"`
}

func (messageRow) TableName() string {
	return "messages"
}

// GormMessageRepository persists room timelines through GORM
// (sqlite, mysql or postgres depending on the dialector).
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a repository on an open GORM handle.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

// EnsureSchema creates the messages table if it does not exist.
// Safe to call on every startup.
func (r *GormMessageRepository) EnsureSchema(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&messageRow{}); err != nil {
		return fmt.Errorf("failed to migrate messages table: %w", err)
	}
	return nil
}

// ListMessages returns the full timeline of a room ordered by seq.
func (r *GormMessageRepository) ListMessages(ctx context.Context, roomID string) ([]Record, error) {
	var rows []messageRow
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for room %s: %w", roomID, err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, Record{
			Seq: row.Seq,
			Message: domain.Message{
				ID:      row.MsgID,
				Author:  row.Author,
				Role:    row.Role,
				Content: row.Content,
			},
		})
	}
	return records, nil
}

// UpsertMessage inserts or replaces the row at (roomID, seq).
func (r *GormMessageRepository) UpsertMessage(ctx context.Context, roomID string, seq int64, msg domain.Message) error {
	row := messageRow{
		RoomID:  roomID,
		Seq:     seq,
		MsgID:   msg.ID,
		Author:  msg.Author,
		Role:    msg.Role,
		Content: msg.Content,
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "seq"}},
			DoUpdates: clause.AssignmentColumns([]string{"msg_id", "author", "role", "content"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert message %s: %w", msg.ID, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *GormMessageRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
