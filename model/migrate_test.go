package model_test

import (
	"testing"
	"time"

	"github.com/kasuganosora/parley/server/model"
	"github.com/kasuganosora/parley/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutoMigrate_InsertAndQuery(t *testing.T) {
	db := testutil.SetupTestDB(t)

	alice := &model.User{Username: "alice", PasswordHash: "hash", Status: 1}
	bob := &model.User{Username: "bob", PasswordHash: "hash", Status: 1}
	require.NoError(t, db.Create(alice).Error)
	require.NoError(t, db.Create(bob).Error)
	assert.Greater(t, alice.ID, int64(0))

	low, high := model.CanonicalPair(bob.ID, alice.ID)
	rel := &model.Relationship{UserLow: low, UserHigh: high, RequesterID: alice.ID, Status: model.RelationPending}
	require.NoError(t, db.Create(rel).Error)
	assert.Equal(t, bob.ID, rel.Other(alice.ID))
	assert.True(t, rel.Involves(bob.ID))

	dm := &model.DMSession{UserLow: low, UserHigh: high}
	require.NoError(t, db.Create(dm).Error)
	assert.True(t, dm.Has(alice.ID))
	assert.Equal(t, alice.ID, dm.Peer(bob.ID))

	msg := &model.Message{Content: "hi", Timestamp: time.Now(), SenderID: alice.ID, DMID: &dm.ID}
	require.NoError(t, db.Create(msg).Error)

	var found model.Message
	require.NoError(t, db.Where("dm_id = ?", dm.ID).First(&found).Error)
	assert.Equal(t, "hi", found.Content)
	assert.Nil(t, found.ChannelID)

	al := &model.AuditLog{TraceID: "trace-001", Action: "friend_request", CreatedAt: time.Now()}
	require.NoError(t, db.Create(al).Error)
}

func TestRelationship_UniquePair(t *testing.T) {
	db := testutil.SetupTestDB(t)

	require.NoError(t, db.Create(&model.Relationship{UserLow: 1, UserHigh: 2, RequesterID: 1, Status: model.RelationPending}).Error)
	err := db.Create(&model.Relationship{UserLow: 1, UserHigh: 2, RequesterID: 2, Status: model.RelationPending}).Error
	assert.Error(t, err)
}

func TestCanonicalPair(t *testing.T) {
	l, h := model.CanonicalPair(9, 3)
	assert.Equal(t, int64(3), l)
	assert.Equal(t, int64(9), h)
	l, h = model.CanonicalPair(3, 9)
	assert.Equal(t, int64(3), l)
	assert.Equal(t, int64(9), h)
}
