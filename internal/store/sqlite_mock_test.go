package store

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSQLite(t *testing.T) (*SQLite, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &SQLite{db: db}, mock
}

func TestSQLite_GetQueryError(t *testing.T) {
	kv, mock := newMockSQLite(t)
	mock.ExpectQuery("SELECT value FROM kv").WithArgs("raffleHistory").WillReturnError(stderrors.New("database is locked"))

	_, err := kv.Get(context.Background(), "raffleHistory")
	require.Error(t, err)
	assert.False(t, stderrors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "database is locked")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLite_GetNoRows(t *testing.T) {
	kv, mock := newMockSQLite(t)
	mock.ExpectQuery("SELECT value FROM kv").WithArgs("k").WillReturnRows(sqlmock.NewRows([]string{"value"}))

	_, err := kv.Get(context.Background(), "k")
	assert.True(t, stderrors.Is(err, ErrNotFound))
}

func TestSQLite_PutError(t *testing.T) {
	kv, mock := newMockSQLite(t)
	mock.ExpectExec("INSERT INTO kv").WithArgs("k", []byte("v")).WillReturnError(stderrors.New("disk I/O error"))

	err := kv.Put(context.Background(), "k", []byte("v"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `put "k"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLite_DeleteError(t *testing.T) {
	kv, mock := newMockSQLite(t)
	mock.ExpectExec("DELETE FROM kv").WithArgs("k").WillReturnError(stderrors.New("readonly database"))

	assert.Error(t, kv.Delete(context.Background(), "k"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
