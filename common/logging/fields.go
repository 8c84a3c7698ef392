package logging

import "log/slog"

// Field names shared by every component so log queries stay stable.
const (
	FieldService   = "service"
	FieldRequestID = "request_id"
	FieldRunID     = "run_id"
	FieldWatchID   = "watch_id"
	FieldProvider  = "provider"
	FieldSignalID  = "signal_id"
	FieldCardID    = "card_id"
	FieldJobID     = "job_id"
	FieldRuleID    = "rule_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
	FieldQuery     = "query"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// WatchID returns a slog attribute for the watch ID.
func WatchID(id string) slog.Attr {
	return slog.String(FieldWatchID, id)
}

// Provider returns a slog attribute for an upstream provider name.
func Provider(name string) slog.Attr {
	return slog.String(FieldProvider, name)
}

// SignalID returns a slog attribute for a canonical signal ID.
func SignalID(id string) slog.Attr {
	return slog.String(FieldSignalID, id)
}

// CardID returns a slog attribute for an impact card ID.
func CardID(id string) slog.Attr {
	return slog.String(FieldCardID, id)
}

// JobID returns a slog attribute for a deep-dive job ID.
func JobID(id string) slog.Attr {
	return slog.String(FieldJobID, id)
}

// RuleID returns a slog attribute for a rule ID.
func RuleID(id string) slog.Attr {
	return slog.String(FieldRuleID, id)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Query returns a slog attribute for a provider query string.
func Query(query string) slog.Attr {
	return slog.String(FieldQuery, query)
}
