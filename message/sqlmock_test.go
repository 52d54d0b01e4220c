package message

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/kasuganosora/parley/server/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newMockService runs the store over sqlmock so driver failures can be injected.
func newMockService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewService(db, 0, zap.NewNop()), mock
}

func TestCreate_PersistenceFailureIsServerError(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `messages`").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), Input{Content: "hi", SenderID: 1, ChannelID: ptr(1)})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindServer))
	assert.Equal(t, "failed to save message", apperr.Message(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_QueryFailureIsServerError(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectQuery("SELECT \\* FROM `messages`").WillReturnError(errors.New("timeout"))

	_, err := svc.ListByChannel(context.Background(), 4)
	assert.True(t, apperr.Is(err, apperr.KindServer))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidationNeverTouchesDB(t *testing.T) {
	svc, mock := newMockService(t)

	_, err := svc.Create(context.Background(), Input{Content: "", SenderID: 1, ChannelID: ptr(1)})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.NoError(t, mock.ExpectationsWereMet())
}
