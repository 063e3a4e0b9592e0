package recorder

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajmerced/sherpa-cli/api/schemas"
)

// flexibleSQLMatcher builds a whitespace-insensitive regex for SQL matching.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// newMockedStore returns a Store wired to a pgxmock pool with the ping and
// schema bootstrap already expected.
func newMockedStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	for range schemaStatements {
		mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS").
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}

	store, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return store, mockPool
}

func sampleStep() schemas.Instruction {
	return schemas.Instruction{
		ID:          "step-1",
		Description: "Click the green play button",
		Label:       "Play",
		Shape:       schemas.ShapeCircle,
		IsFinal:     false,
		IsSubstep:   false,
	}
}

func TestNew(t *testing.T) {
	t.Run("propagates ping failures", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("ensures the schema on startup", func(t *testing.T) {
		_, mockPool := newMockedStore(t)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("fails when schema bootstrap fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing()
		mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS").
			WillReturnError(errors.New("permission denied"))

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to ensure recorder schema")
	})
}

func TestRecordSessionStart(t *testing.T) {
	store, mockPool := newMockedStore(t)

	startedAt := time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC)
	session := schemas.Session{
		ID:        "session-1",
		Goal:      "Play the Taylor Swift album on Spotify",
		StartedAt: startedAt,
		Status:    schemas.StatusReady,
	}

	mockPool.ExpectExec(flexibleSQLMatcher(`INSERT INTO guide_sessions (id, goal, started_at) VALUES ($1, $2, $3);`)).
		WithArgs(session.ID, session.Goal, startedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordSessionStart(context.Background(), session))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecordStepCompletion(t *testing.T) {
	t.Run("inserts the completed step", func(t *testing.T) {
		store, mockPool := newMockedStore(t)
		step := sampleStep()
		completedAt := time.Date(2026, 8, 20, 10, 31, 0, 0, time.UTC)

		mockPool.ExpectExec("INSERT INTO guide_steps").
			WithArgs(step.ID, "session-1", step.Description, step.Label, "circle", false, false, completedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.RecordStepCompletion(context.Background(), "session-1", step, completedAt))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("wraps database errors", func(t *testing.T) {
		store, mockPool := newMockedStore(t)

		mockPool.ExpectExec("INSERT INTO guide_steps").
			WillReturnError(errors.New("connection reset"))

		err := store.RecordStepCompletion(context.Background(), "session-1", sampleStep(), time.Now())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to record step completion")
	})
}

func TestRecordFailure(t *testing.T) {
	store, mockPool := newMockedStore(t)

	mockPool.ExpectExec("INSERT INTO guide_failures").
		WithArgs("session-1", "model", "model unreachable", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.RecordFailure(context.Background(), "session-1", schemas.StageModel, errors.New("model unreachable"))
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSessionSteps(t *testing.T) {
	t.Run("returns steps in completion order", func(t *testing.T) {
		store, mockPool := newMockedStore(t)

		rows := pgxmock.NewRows([]string{"id", "description", "label", "shape", "is_final", "is_substep"}).
			AddRow("step-1", "Open Spotify", "Spotify", "box", false, false).
			AddRow("step-2", "Press play", "Play", "circle", true, false)

		mockPool.ExpectQuery("SELECT id, description, label, shape, is_final, is_substep").
			WithArgs("session-1").
			WillReturnRows(rows)

		steps, err := store.SessionSteps(context.Background(), "session-1")
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, "Open Spotify", steps[0].Description)
		assert.Equal(t, schemas.ShapeBox, steps[0].Shape)
		assert.True(t, steps[1].IsFinal)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("wraps query errors", func(t *testing.T) {
		store, mockPool := newMockedStore(t)

		mockPool.ExpectQuery("SELECT id, description").
			WillReturnError(errors.New("relation missing"))

		_, err := store.SessionSteps(context.Background(), "session-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to query session steps")
	})
}

func TestNoop(t *testing.T) {
	var r schemas.Recorder = Noop{}
	ctx := context.Background()

	assert.NoError(t, r.RecordSessionStart(ctx, schemas.Session{}))
	assert.NoError(t, r.RecordStepCompletion(ctx, "s", schemas.Instruction{}, time.Now()))
	assert.NoError(t, r.RecordFailure(ctx, "s", schemas.StageCapture, errors.New("x")))
}
