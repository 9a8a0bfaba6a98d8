package data

import (
	"context"
	"os"
	"regexp"
	"testing"
	"time"

	"RelayLane/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func setupAuditDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	return gormDB, mock
}

func TestAuditLogger_WritesBreakerEvents(t *testing.T) {
	db, mock := setupAuditDB(t)

	insert := regexp.QuoteMeta("INSERT INTO `breaker_audit_logs`")
	mock.ExpectExec(insert).
		WithArgs("primary", model.AuditEventBreakerOpened, sqlmock.AnyArg(), false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(insert).
		WithArgs("primary", model.AuditEventBreakerRecovered, sqlmock.AnyArg(), false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(insert).
		WithArgs("primary", model.AuditEventBreakerReset, `{"from_state":"open"}`, true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(3, 1))

	audit, closeAudit := NewAuditLogger(db, log.NewStdLogger(os.Stdout))
	ctx := context.Background()

	audit.LogBreakerOpened(ctx, "primary", 5, false, time.Now())
	audit.LogBreakerRecovered(ctx, "primary", 90*time.Second, 1)
	audit.LogBreakerReset(ctx, "primary", model.BreakerOpen)

	closeAudit()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLogger_WriteFailureDoesNotStop(t *testing.T) {
	db, mock := setupAuditDB(t)

	insert := regexp.QuoteMeta("INSERT INTO `breaker_audit_logs`")
	mock.ExpectExec(insert).WillReturnError(assert.AnError)
	mock.ExpectExec(insert).WillReturnResult(sqlmock.NewResult(2, 1))

	audit, closeAudit := NewAuditLogger(db, log.NewStdLogger(os.Stdout))
	audit.LogBreakerReset(context.Background(), "a", model.BreakerOpen)
	audit.LogBreakerReset(context.Background(), "b", model.BreakerHalfOpen)

	closeAudit()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLogger_RetriesDeadlockOnce(t *testing.T) {
	db, mock := setupAuditDB(t)

	insert := regexp.QuoteMeta("INSERT INTO `breaker_audit_logs`")
	mock.ExpectExec(insert).WillReturnError(&gomysql.MySQLError{Number: 1213, Message: "Deadlock found"})
	mock.ExpectExec(insert).WillReturnResult(sqlmock.NewResult(1, 1))
	// Non-transient errors are not retried
	mock.ExpectExec(insert).WillReturnError(&gomysql.MySQLError{Number: 1406, Message: "Data too long"})

	audit, closeAudit := NewAuditLogger(db, log.NewStdLogger(os.Stdout))
	audit.LogBreakerReset(context.Background(), "a", model.BreakerOpen)
	audit.LogBreakerReset(context.Background(), "b", model.BreakerOpen)

	closeAudit()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLogger_WithoutDatabase(t *testing.T) {
	audit, closeAudit := NewAuditLogger(nil, log.NewStdLogger(os.Stdout))
	audit.LogBreakerOpened(context.Background(), "primary", 3, true, time.Now())
	closeAudit()

	// Events after Close are dropped, and Close is idempotent
	audit.LogBreakerReset(context.Background(), "primary", model.BreakerOpen)
	closeAudit()
}

func TestAuditLog_TableName(t *testing.T) {
	assert.Equal(t, "breaker_audit_logs", AuditLog{}.TableName())
}
