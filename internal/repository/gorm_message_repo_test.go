package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/driftlabs/chatrelay/internal/domain"
)

func newTestRepo(t *testing.T) *GormMessageRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	repo := NewGormMessageRepository(db)
	require.NoError(t, repo.EnsureSchema(context.Background()))
	return repo
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, repo.EnsureSchema(context.Background()))
}

func TestUpsertAndListOrdered(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertMessage(ctx, "room-1", 2, domain.Message{ID: "b", Author: "bob", Role: domain.RoleUser, Content: "two"}))
	require.NoError(t, repo.UpsertMessage(ctx, "room-1", 1, domain.Message{ID: "a", Author: "alice", Role: domain.RoleUser, Content: "one"}))
	require.NoError(t, repo.UpsertMessage(ctx, "room-2", 1, domain.Message{ID: "x", Author: "eve", Role: domain.RoleUser, Content: "elsewhere"}))

	records, err := repo.ListMessages(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].Message.ID)
	assert.Equal(t, "b", records[1].Message.ID)

	other, err := repo.ListMessages(ctx, "room-2")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, "x", other[0].Message.ID)
}

func TestUpsertReplacesSameSeq(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertMessage(ctx, "room-1", 1, domain.Message{ID: "a", Content: "draft"}))
	require.NoError(t, repo.UpsertMessage(ctx, "room-1", 2, domain.Message{ID: "r", Role: domain.RoleAssistant, Content: "..."}))
	require.NoError(t, repo.UpsertMessage(ctx, "room-1", 2, domain.Message{ID: "r", Role: domain.RoleAssistant, Content: "final reply"}))

	records, err := repo.ListMessages(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "final reply", records[1].Message.Content)
	assert.Equal(t, int64(2), records[1].Seq)
}

func TestListMessagesEmptyRoom(t *testing.T) {
	repo := newTestRepo(t)

	records, err := repo.ListMessages(context.Background(), "nobody-home")
	require.NoError(t, err)
	assert.Empty(t, records)
}
