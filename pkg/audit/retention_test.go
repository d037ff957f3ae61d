package audit

import (
	"context"
	"io"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locafleet/locafleet/pkg/observability"
)

func TestPurgerRunOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM audit_log WHERE timestamp <`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	p := NewPurger(NewStore(db), RetentionPolicy{RetentionDays: 30, Schedule: "0 3 * * *"}, logger)

	p.RunOnce(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgerStartStop(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	p := NewPurger(NewStore(db), DefaultRetentionPolicy(), logger)

	require.NoError(t, p.Start())
	require.NoError(t, p.Stop(context.Background()))
}

func TestPurgerRejectsBadSchedule(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	p := NewPurger(NewStore(db), RetentionPolicy{RetentionDays: 30, Schedule: "not a schedule"}, logger)

	assert.Error(t, p.Start())
}
