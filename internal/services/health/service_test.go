package health

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusWithoutDatabase(t *testing.T) {
	got := NewService(nil).Status(context.Background())
	assert.Equal(t, Status{OK: true, Database: "memory"}, got)
}

func TestStatusPingsDatabase(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectPing()
	assert.Equal(t, Status{OK: true, Database: "up"}, NewService(db).Status(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.Equal(t, Status{OK: false, Database: "down"}, NewService(db).Status(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
