package logger

import "time"

// Common field constructors for structured logging

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an int field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates an int64 field
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Float64 creates a float64 field
func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a bool field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Err creates an error field
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Duration creates a duration field in milliseconds
func Duration(key string, d time.Duration) Field {
	return Field{Key: key, Value: d.Milliseconds()}
}

// Any creates a field with any value
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// --- Domain-specific field helpers ---

// Account creates an account field
func Account(name string) Field {
	return Field{Key: "account", Value: name}
}

// AccountID creates an account_id field
func AccountID(id int64) Field {
	return Field{Key: "account_id", Value: id}
}

// OwnerID creates an owner_id field
func OwnerID(id int64) Field {
	return Field{Key: "owner_id", Value: id}
}

// MessageID creates a message_id field
func MessageID(id string) Field {
	return Field{Key: "message_id", Value: id}
}

// Subject creates a subject field, truncated to keep log lines short
func Subject(s string) Field {
	if len(s) > 80 {
		s = s[:80]
	}
	return Field{Key: "subject", Value: s}
}

// Label creates a classification label field
func Label(label string) Field {
	return Field{Key: "label", Value: label}
}

// Channel creates a notification channel field
func Channel(name string) Field {
	return Field{Key: "channel", Value: name}
}

// Attempt creates an attempt field
func Attempt(n int) Field {
	return Field{Key: "attempt", Value: n}
}

// QueueLen creates a queue_len field
func QueueLen(n int) Field {
	return Field{Key: "queue_len", Value: n}
}

// Count creates a count field
func Count(count int) Field {
	return Field{Key: "count", Value: count}
}

// Status creates an HTTP status field
func Status(status int) Field {
	return Field{Key: "status", Value: status}
}

// Method creates an HTTP method field
func Method(method string) Field {
	return Field{Key: "method", Value: method}
}

// Path creates an HTTP path field
func Path(path string) Field {
	return Field{Key: "path", Value: path}
}

// RemoteIP creates a remote_ip field
func RemoteIP(ip string) Field {
	return Field{Key: "remote_ip", Value: ip}
}
