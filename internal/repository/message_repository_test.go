package repository

import (
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"classcare-chatbot/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.Session{},
		&model.Message{},
		&model.Document{},
	))
	return db
}

func seedMessages(t *testing.T, repo *MessageRepository, sessionID uint, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := model.RoleHuman
		if i%2 == 1 {
			role = model.RoleAI
		}
		require.NoError(t, repo.Create(&model.Message{
			SessionID: sessionID,
			UserID:    1,
			Role:      role,
			Content:   fmt.Sprintf("message %d", i),
		}))
	}
}

func TestMessageRepositoryListBySessionIDChronological(t *testing.T) {
	repo := NewMessageRepository(newTestDB(t))
	seedMessages(t, repo, 10, 4)

	messages, err := repo.ListBySessionID(10, 100)
	require.NoError(t, err)
	require.Len(t, messages, 4)
	assert.Equal(t, "message 0", messages[0].Content)
	assert.Equal(t, "message 3", messages[3].Content)
}

func TestMessageRepositoryListBySessionIDScopesSession(t *testing.T) {
	repo := NewMessageRepository(newTestDB(t))
	seedMessages(t, repo, 1, 2)
	seedMessages(t, repo, 2, 3)

	messages, err := repo.ListBySessionID(2, 100)
	require.NoError(t, err)
	assert.Len(t, messages, 3)
}

func TestMessageRepositoryListRecentReturnsTailInOrder(t *testing.T) {
	repo := NewMessageRepository(newTestDB(t))
	seedMessages(t, repo, 1, 6)

	messages, err := repo.ListRecentBySessionID(1, 4)
	require.NoError(t, err)
	require.Len(t, messages, 4)
	// The most recent four, oldest first.
	assert.Equal(t, "message 2", messages[0].Content)
	assert.Equal(t, "message 5", messages[3].Content)
}

func TestMessageRepositoryDeleteBySessionID(t *testing.T) {
	repo := NewMessageRepository(newTestDB(t))
	seedMessages(t, repo, 1, 3)
	seedMessages(t, repo, 2, 2)

	require.NoError(t, repo.DeleteBySessionID(1))

	left, err := repo.ListBySessionID(1, 100)
	require.NoError(t, err)
	assert.Empty(t, left)

	others, err := repo.ListBySessionID(2, 100)
	require.NoError(t, err)
	assert.Len(t, others, 2)
}
