package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgStore_Increment(t *testing.T) {
	t.Run("returns updated count and window start", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		store := NewPgStore(mock)
		windowStart := time.Now().UTC().Add(-10 * time.Second)

		mock.ExpectQuery(`INSERT INTO rate_limit_windows`).
			WithArgs("client-1", CategorySearch, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{"request_count", "window_start"}).
				AddRow(4, windowStart))

		count, start, err := store.Increment(context.Background(), "client-1", CategorySearch, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 4, count)
		assert.Equal(t, windowStart, start)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("propagates store errors", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		store := NewPgStore(mock)
		mock.ExpectQuery(`INSERT INTO rate_limit_windows`).
			WithArgs("client-1", CategorySearch, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(errors.New("connection refused"))

		_, _, err = store.Increment(context.Background(), "client-1", CategorySearch, time.Minute)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to increment rate limit counter")
	})
}

func TestPgStore_Purge(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPgStore(mock)
	mock.ExpectExec(`DELETE FROM rate_limit_windows WHERE window_start <= \$1`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	removed, err := store.Purge(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
