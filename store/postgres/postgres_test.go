package postgres

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	capistate "github.com/smallnest/capiflow/state"
	"github.com/smallnest/capiflow/store"
)

func TestStore_Put(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewWithPool(mock, "checkpoints")
	snap := capistate.New("sess-1", "trace-1", "user-1", "hi", capistate.WorkflowModeChat)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO checkpoints")).
		WithArgs("sess-1", "cp-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = s.Put(context.Background(), "sess-1", "cp-1", snap)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewWithPool(mock, "checkpoints")
	snap := capistate.New("sess-1", "trace-1", "user-1", "hi", capistate.WorkflowModeChat)
	blob, _ := json.Marshal(snap)

	rows := pgxmock.NewRows([]string{"snapshot"}).AddRow(blob)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT snapshot FROM checkpoints WHERE session_id = $1 AND checkpoint_id = $2")).
		WithArgs("sess-1", "cp-1").
		WillReturnRows(rows)

	got, err := s.Get(context.Background(), "sess-1", "cp-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, "hi", got.OriginalQuery)
}

func TestStore_Get_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewWithPool(mock, "checkpoints")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT snapshot FROM checkpoints WHERE session_id = $1 AND checkpoint_id = $2")).
		WithArgs("sess-1", "missing").
		WillReturnRows(pgxmock.NewRows([]string{"snapshot"}))

	_, err = s.Get(context.Background(), "sess-1", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_Clear(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewWithPool(mock, "checkpoints")
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM checkpoints WHERE session_id = $1")).
		WithArgs("sess-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	err = s.Clear(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
