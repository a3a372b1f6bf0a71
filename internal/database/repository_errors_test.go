package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var errConnLost = errors.New("connection lost")

func openMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 conn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
	require.NoError(t, err)
	return db, mock
}

func TestListExisting_QueryFailure(t *testing.T) {
	db, mock := openMockDB(t)
	repo := NewAudiobookRepository(db)

	mock.ExpectQuery(`SELECT .+ FROM "audiobooks"`).WillReturnError(errConnLost)

	_, err := repo.ListExisting(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, errConnLost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByPath_ExecFailure(t *testing.T) {
	db, mock := openMockDB(t)
	repo := NewAudiobookRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "audiobooks"`).WillReturnError(errConnLost)
	mock.ExpectRollback()

	rows, err := repo.DeleteByPath(context.Background(), 1, "/library/a.mp3")
	require.Error(t, err)
	assert.ErrorIs(t, err, errConnLost)
	assert.Zero(t, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatch_TransactionFailure(t *testing.T) {
	db, mock := openMockDB(t)
	repo := NewAudiobookRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "audiobooks"`).WillReturnError(errConnLost)
	mock.ExpectRollback()

	err := repo.UpsertBatch(context.Background(), []*Audiobook{
		seedBook(1, "/library/a.mp3", "A", "", 1),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errConnLost)
	assert.NoError(t, mock.ExpectationsWereMet())
}
