package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/inbox-console/internal/model"
)

func setupTestDB(t *testing.T) *SQLiteStore {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLogTransition_History(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	require.NoError(t, store.LogTransition(ctx, model.OwnershipTransition{
		ChatID: "c1", Action: model.ActionTakeover, FromOwner: "ai", ToOwner: "human:A", ActorAgentID: "A", Timestamp: base,
	}))
	require.NoError(t, store.LogTransition(ctx, model.OwnershipTransition{
		ChatID: "c1", Action: model.ActionHandover, FromOwner: "human:A", ToOwner: "human:B", ActorAgentID: "A",
		Notes: "VIP", Timestamp: base.Add(time.Minute),
	}))
	require.NoError(t, store.LogTransition(ctx, model.OwnershipTransition{
		ChatID: "c2", Action: model.ActionRelease, FromOwner: "human:C", ToOwner: "ai", Timestamp: base,
	}))

	history, err := store.History(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, model.ActionHandover, history[0].Action)
	assert.Equal(t, "human:B", history[0].ToOwner)
	assert.Equal(t, "VIP", history[0].Notes)
	assert.NotEmpty(t, history[0].ID)
	assert.True(t, history[0].Timestamp.Equal(base.Add(time.Minute)))
	assert.Equal(t, model.ActionTakeover, history[1].Action)
}

func TestHistory_Limit(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.LogTransition(ctx, model.OwnershipTransition{
			ChatID: "c1", Action: model.ActionTakeover, FromOwner: "ai", ToOwner: "human:A",
			Timestamp: time.Unix(int64(i), 0),
		}))
	}

	history, err := store.History(ctx, "c1", 3)
	require.NoError(t, err)
	assert.Len(t, history, 3)
	assert.Equal(t, int64(4), history[0].Timestamp.Unix())
}

func TestHistory_UnknownChat(t *testing.T) {
	store := setupTestDB(t)

	history, err := store.History(context.Background(), "nope", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestLogSendFailure(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.LogSendFailure(ctx, SendFailure{ChatID: "c1", TempID: "temp-3", Kind: "text", Reason: "status 500"}))

	failures, err := store.SendFailures(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "temp-3", failures[0].TempID)
	assert.Equal(t, "status 500", failures[0].Reason)
	assert.False(t, failures[0].Timestamp.IsZero())
}
