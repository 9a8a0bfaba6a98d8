package data

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"RelayLane/internal/model"
	dberrors "RelayLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

const auditRetryDelay = 100 * time.Millisecond

// AuditLog is the GORM model for breaker_audit_logs table
type AuditLog struct {
	ID         int64     `gorm:"primaryKey;column:id"`
	Provider   string    `gorm:"column:provider;type:varchar(64);not null;index"`
	ActionType string    `gorm:"column:action_type;type:varchar(50);not null"`
	Details    string    `gorm:"column:details;type:json"` // JSON string
	Manual     bool      `gorm:"column:manual;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (AuditLog) TableName() string {
	return "breaker_audit_logs"
}

// AuditLoggerImpl implements biz.AuditLogger.
// Events are written asynchronously; without a database they are only logged.
type AuditLoggerImpl struct {
	db      *gorm.DB
	logChan chan *AuditLog
	logger  *log.Helper

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAuditLogger creates a new audit logger with async channel. db may be nil.
func NewAuditLogger(db *gorm.DB, logger log.Logger) (*AuditLoggerImpl, func()) {
	al := &AuditLoggerImpl{
		db:      db,
		logChan: make(chan *AuditLog, 1000), // Buffer size 1000 to prevent blocking
		logger:  log.NewHelper(logger),
		done:    make(chan struct{}),
	}

	go al.start()

	return al, al.Close
}

// start processes audit log events from channel
func (a *AuditLoggerImpl) start() {
	defer close(a.done)
	for event := range a.logChan {
		if a.db == nil {
			a.logger.Infow("msg", "audit event",
				"provider", event.Provider,
				"action_type", event.ActionType,
				"details", event.Details,
				"type", "audit")
			continue
		}
		if err := a.write(event); err != nil {
			a.logger.Errorw("msg", "failed to write audit log",
				"provider", event.Provider,
				"action_type", event.ActionType,
				"error_type", dberrors.ClassifyDBError(err).Type.String(),
				"error", err.Error())
		} else {
			a.logger.Debugw("msg", "audit log written",
				"provider", event.Provider,
				"action_type", event.ActionType)
		}
	}
}

// write inserts event, retrying once on a transient database error.
func (a *AuditLoggerImpl) write(event *AuditLog) error {
	err := a.db.WithContext(context.Background()).Create(event).Error
	if err == nil || !dberrors.IsRetryable(err) {
		return err
	}
	time.Sleep(auditRetryDelay)
	return a.db.WithContext(context.Background()).Create(event).Error
}

// Close stops accepting events and waits until queued events are written.
func (a *AuditLoggerImpl) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.logChan)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *AuditLoggerImpl) enqueue(provider, actionType string, manual bool, details map[string]interface{}) {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		a.logger.Errorw("msg", "failed to marshal audit log details", "error", err.Error())
		return
	}

	event := &AuditLog{
		Provider:   provider,
		ActionType: actionType,
		Details:    string(detailsJSON),
		Manual:     manual,
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.logger.Warnw("msg", "audit logger closed, dropping event",
			"provider", provider,
			"action_type", actionType)
		return
	}

	select {
	case a.logChan <- event:
	default:
		a.logger.Warnw("msg", "audit log channel full, dropping event",
			"provider", provider,
			"action_type", actionType)
	}
}

// LogBreakerOpened logs a breaker that stopped admitting calls.
func (a *AuditLoggerImpl) LogBreakerOpened(_ context.Context, provider string, failureCount int, fromHalfOpen bool, openedAt time.Time) {
	a.enqueue(provider, model.AuditEventBreakerOpened, false, map[string]interface{}{
		"failure_count":  failureCount,
		"from_half_open": fromHalfOpen,
		"opened_at":      openedAt.UTC().Format(time.RFC3339),
	})
}

// LogBreakerRecovered logs a breaker closed by a successful probe.
func (a *AuditLoggerImpl) LogBreakerRecovered(_ context.Context, provider string, recoverTime time.Duration, probeCount int) {
	a.enqueue(provider, model.AuditEventBreakerRecovered, false, map[string]interface{}{
		"recover_time_seconds": recoverTime.Seconds(),
		"probe_count":          probeCount,
	})
}

// LogBreakerReset logs an administrative reset.
func (a *AuditLoggerImpl) LogBreakerReset(_ context.Context, provider string, from model.BreakerState) {
	a.enqueue(provider, model.AuditEventBreakerReset, true, map[string]interface{}{
		"from_state": string(from),
	})
}
