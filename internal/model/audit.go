package model

// Audit event type constants
const (
	AuditEventBreakerOpened    = "BREAKER_OPENED"
	AuditEventBreakerRecovered = "BREAKER_RECOVERED"
	AuditEventBreakerReset     = "BREAKER_RESET"
)
