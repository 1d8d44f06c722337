package apperrors

// Error codes - organized by pipeline stage

// Mailbox errors (MAILBOX_*)
const (
	ErrCodeMailboxConnectFailed = "MAILBOX_CONNECT_FAILED"
	ErrCodeMailboxFetchFailed   = "MAILBOX_FETCH_FAILED"
	ErrCodeMailboxParseFailed   = "MAILBOX_PARSE_FAILED"
)

// Classification errors (CLASSIFY_*)
const (
	ErrCodeClassifyRateLimited   = "CLASSIFY_RATE_LIMITED"
	ErrCodeClassifyInputTooLarge = "CLASSIFY_INPUT_TOO_LARGE"
	ErrCodeClassifyTimeout       = "CLASSIFY_TIMEOUT"
	ErrCodeClassifyUpstream      = "CLASSIFY_UPSTREAM_ERROR"
)

// Search index errors (INDEX_*)
const (
	ErrCodeIndexWriteFailed = "INDEX_WRITE_FAILED"
	ErrCodeIndexNotFound    = "INDEX_DOCUMENT_NOT_FOUND"
)

// Notification errors (NOTIFY_*)
const (
	ErrCodeNotifyRateLimited     = "NOTIFY_RATE_LIMITED"
	ErrCodeNotifyChannelNotFound = "NOTIFY_CHANNEL_NOT_FOUND"
	ErrCodeNotifyTerminal        = "NOTIFY_TERMINAL"
	ErrCodeNotifyTransient       = "NOTIFY_TRANSIENT"
)

// Resource errors (RESOURCE_*)
const (
	ErrCodeAccountNotFound      = "RESOURCE_ACCOUNT_NOT_FOUND"
	ErrCodeNotificationNotFound = "RESOURCE_NOTIFICATION_NOT_FOUND"
)

// Validation errors (VALIDATION_*)
const (
	ErrCodeInvalidInput    = "VALIDATION_INVALID_INPUT"
	ErrCodeTooManyRequests = "VALIDATION_TOO_MANY_REQUESTS"
)

// Internal errors (INTERNAL_*)
const (
	ErrCodeDatabaseError   = "INTERNAL_DATABASE_ERROR"
	ErrCodeUnexpectedError = "INTERNAL_UNEXPECTED_ERROR"
)
