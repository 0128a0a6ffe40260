package main

import (
	"context"
	"testing"
	"time"

	"socialhub/internal/models"
	"socialhub/internal/realtime"
	"socialhub/internal/repository"
	"socialhub/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func groupChat(t *testing.T, db *gorm.DB, names ...string) uint {
	t.Helper()
	var ids []uint
	for _, name := range names {
		u := &models.User{Username: name, Email: name + "@example.com", Password: "x", DisplayName: name}
		require.NoError(t, db.Create(u).Error)
		ids = append(ids, u.ID)
	}
	chat := &models.Chat{CreatedBy: ids[0], IsGroup: len(ids) > 2, Name: "load"}
	require.NoError(t, repository.NewChatRepository(db).CreateChat(context.Background(), chat, ids))
	return chat.ID
}

func TestSimulate_SessionsConverge(t *testing.T) {
	db := testutil.DB(t)
	feed := realtime.NewFeed(nil, realtime.FeedOptions{})
	require.NoError(t, feed.Start(context.Background()))
	t.Cleanup(func() { _ = feed.Close() })

	chatID := groupChat(t, db, "ann", "ben", "cat")

	report, err := simulate(context.Background(), db, feed, chatID, 20*time.Millisecond, 300*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Sessions)
	assert.Positive(t, report.Sent)
	assert.Positive(t, report.TypingSeen, "sessions see each other typing")
	assert.True(t, report.converged(), "missing=%d duplicated=%d", report.Missing, report.Duplicated)
}

func TestSimulate_NeedsTwoParticipants(t *testing.T) {
	db := testutil.DB(t)
	feed := realtime.NewFeed(nil, realtime.FeedOptions{})
	require.NoError(t, feed.Start(context.Background()))
	t.Cleanup(func() { _ = feed.Close() })

	chatID := groupChat(t, db, "solo")

	_, err := simulate(context.Background(), db, feed, chatID, time.Millisecond, time.Millisecond)
	assert.ErrorContains(t, err, "at least two participants")
}
