package dm

import (
	"context"
	"testing"
	"time"

	"github.com/kasuganosora/parley/server/apperr"
	"github.com/kasuganosora/parley/server/model"
	"github.com/kasuganosora/parley/server/testutil"
	"github.com/kasuganosora/parley/server/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	users := user.NewService(db, nil, 0, zap.NewNop())
	return NewService(db, users, zap.NewNop()), db
}

func TestGetOrCreate_SameSessionEitherOrder(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	ids := testutil.CreateUsers(t, db, "alice", "bob")

	s1, err := svc.GetOrCreate(ctx, ids[0], ids[1])
	require.NoError(t, err)
	s2, err := svc.GetOrCreate(ctx, ids[1], ids[0])
	require.NoError(t, err)
	assert.Equal(t, s1.ID, s2.ID)

	var n int64
	db.Model(&model.DMSession{}).Count(&n)
	assert.Equal(t, int64(1), n)

	got, err := svc.Between(ctx, ids[1], ids[0])
	require.NoError(t, err)
	assert.Equal(t, s1.ID, got.ID)
}

func TestGetOrCreate_Validation(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	ids := testutil.CreateUsers(t, db, "alice")

	_, err := svc.GetOrCreate(ctx, ids[0], ids[0])
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.GetOrCreate(ctx, 0, ids[0])
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.GetOrCreate(ctx, ids[0], 999)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestGetAndBetween_NotFound(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	ids := testutil.CreateUsers(t, db, "a", "b")

	_, err := svc.Get(ctx, 42)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = svc.Between(ctx, ids[0], ids[1])
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestListByUser(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	ids := testutil.CreateUsers(t, db, "alice", "bob", "carol")

	_, err := svc.GetOrCreate(ctx, ids[0], ids[1])
	require.NoError(t, err)
	_, err = svc.GetOrCreate(ctx, ids[2], ids[0])
	require.NoError(t, err)
	_, err = svc.GetOrCreate(ctx, ids[1], ids[2])
	require.NoError(t, err)

	convs, err := svc.ListByUser(ctx, ids[0])
	require.NoError(t, err)
	require.Len(t, convs, 2)
	peers := []string{convs[0].PeerUsername, convs[1].PeerUsername}
	assert.ElementsMatch(t, []string{"bob", "carol"}, peers)
}

func TestDeleteBetween_RemovesSessionAndMessages(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	ids := testutil.CreateUsers(t, db, "alice", "bob", "carol")

	keep, err := svc.GetOrCreate(ctx, ids[0], ids[2])
	require.NoError(t, err)
	gone, err := svc.GetOrCreate(ctx, ids[0], ids[1])
	require.NoError(t, err)

	for _, dmID := range []int64{keep.ID, gone.ID, gone.ID} {
		id := dmID
		require.NoError(t, db.Create(&model.Message{Content: "x", Timestamp: time.Now(), SenderID: ids[0], DMID: &id}).Error)
	}

	var deleted []int64
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		deleted, err = svc.DeleteBetween(ctx, tx, ids[1], ids[0])
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{gone.ID}, deleted)

	var msgs int64
	db.Model(&model.Message{}).Where("dm_id = ?", gone.ID).Count(&msgs)
	assert.Zero(t, msgs)
	db.Model(&model.Message{}).Where("dm_id = ?", keep.ID).Count(&msgs)
	assert.Equal(t, int64(1), msgs)

	_, err = svc.Between(ctx, ids[0], ids[1])
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	// nothing left to delete
	none, err := svc.DeleteBetween(ctx, db, ids[0], ids[1])
	require.NoError(t, err)
	assert.Empty(t, none)
}
