// File: internal/store/store_test.go
package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autosign-cli/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func terminalRun() *schemas.SignupRun {
	started := time.Now().UTC().Add(-time.Minute)
	return &schemas.SignupRun{
		ID: uuid.New().String(),
		Request: schemas.SignupRequest{
			RawCommand: "sign up for github",
			Profile: schemas.PlatformProfile{
				ID:        schemas.PlatformGitHub,
				SignupURL: "https://github.com/signup",
				Channel:   schemas.ChannelEmail,
			},
		},
		Credentials: schemas.Credentials{
			Recipient: "codes@example.test",
			Username:  "quiet_falcon_42",
			Password:  "W8#mqx2Tz!pk9Rv4",
		},
		Code:      "482913",
		State:     schemas.StateSucceeded,
		StartedAt: started,
		EndedAt:   started.Add(time.Minute),
	}
}

func TestNewStore_PingFailure(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err = New(context.Background(), mockPool, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPersistRun_Succeeded(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)

	run := terminalRun()

	mockPool.ExpectBegin()
	mockPool.ExpectExec(flexibleSQLMatcher("INSERT INTO signup_runs")).
		WithArgs(
			run.ID, "github", "https://github.com/signup",
			"codes@example.test", "quiet_falcon_42", "W8#mqx2Tz!pk9Rv4",
			"SUCCEEDED",
			(*string)(nil), (*string)(nil), (*string)(nil),
			pgxmock.AnyArg(),
			run.StartedAt.UTC(), run.EndedAt.UTC(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()
	mockPool.ExpectRollback() // deferred rollback after commit is a no-op

	require.NoError(t, s.PersistRun(context.Background(), run))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPersistRun_FailedRunCarriesFailureColumns(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)

	run := terminalRun()
	run.State = schemas.StateFailed
	run.Failure = schemas.NewRunFailure(schemas.StateAwaitingVerification, schemas.ErrVerificationTimeout)

	kind := string(schemas.FailVerificationTimeout)
	failedIn := string(schemas.StateAwaitingVerification)
	message := schemas.ErrVerificationTimeout.Error()

	mockPool.ExpectBegin()
	mockPool.ExpectExec(flexibleSQLMatcher("INSERT INTO signup_runs")).
		WithArgs(
			run.ID, "github", "https://github.com/signup",
			"codes@example.test", "quiet_falcon_42", "W8#mqx2Tz!pk9Rv4",
			"FAILED",
			&kind, &failedIn, &message,
			pgxmock.AnyArg(),
			run.StartedAt.UTC(), run.EndedAt.UTC(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()
	mockPool.ExpectRollback()

	require.NoError(t, s.PersistRun(context.Background(), run))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPersistRun_ExecFailureRollsBack(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)

	mockPool.ExpectBegin()
	mockPool.ExpectExec(flexibleSQLMatcher("INSERT INTO signup_runs")).
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(errors.New("constraint violation"))
	mockPool.ExpectRollback()

	err = s.PersistRun(context.Background(), terminalRun())
	require.Error(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)

	mockPool.ExpectExec(flexibleSQLMatcher("CREATE TABLE IF NOT EXISTS signup_runs")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestNoopStore(t *testing.T) {
	var s schemas.RunStore = NoopStore{}
	assert.NoError(t, s.PersistRun(context.Background(), terminalRun()))
}
