package user

import (
	"context"
	"testing"
	"time"

	"github.com/kasuganosora/parley/server/model"
	"github.com/kasuganosora/parley/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUsername_ResolvesAndCaches(t *testing.T) {
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	svc := NewService(db, c, time.Minute, zap.NewNop())
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "alice")
	assert.Equal(t, "alice", svc.Username(ctx, alice.ID))

	// Rename behind the cache's back: the cached name is still served.
	require.NoError(t, db.Model(&model.User{}).Where("id = ?", alice.ID).Update("username", "alicia").Error)
	assert.Equal(t, "alice", svc.Username(ctx, alice.ID))

	svc.Forget(ctx, alice.ID)
	assert.Equal(t, "alicia", svc.Username(ctx, alice.ID))
}

func TestUsername_UnknownFallback(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := NewService(db, nil, 0, zap.NewNop())
	assert.Equal(t, UnknownName, svc.Username(context.Background(), 999))
}

func TestUsernames(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := NewService(db, nil, 0, zap.NewNop())
	ids := testutil.CreateUsers(t, db, "a", "b")

	names, err := svc.Usernames(context.Background(), append(ids, 404))
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{ids[0]: "a", ids[1]: "b"}, names)

	empty, err := svc.Usernames(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestExists(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ids := testutil.CreateUsers(t, db, "a", "b")
	ctx := context.Background()

	ok, err := Exists(ctx, db, ids[0], ids[1])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Exists(ctx, db, ids[0], ids[0])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Exists(ctx, db, ids[0], 999)
	require.NoError(t, err)
	assert.False(t, ok)
}
