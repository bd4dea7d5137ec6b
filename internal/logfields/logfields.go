package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyProfile    = "profile"
	KeyRunID      = "run_id"
	KeyPID        = "pid"
	KeyPath       = "path"
	KeyStatus     = "status"
	KeyOperation  = "operation"
	KeyQueueDepth = "queue_depth"
	KeyExitCode   = "exit_code"
	KeyDurationMS = "duration_ms"
	KeyMethod     = "method"
	KeyHTTPStatus = "http_status"
	KeyRemoteAddr = "remote_addr"
	KeyUserAgent  = "user_agent"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Profile(name string) slog.Attr   { return slog.String(KeyProfile, name) }
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func PID(pid int) slog.Attr           { return slog.Int(KeyPID, pid) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Status(s string) slog.Attr       { return slog.String(KeyStatus, s) }
func Operation(op string) slog.Attr   { return slog.String(KeyOperation, op) }
func QueueDepth(n int) slog.Attr      { return slog.Int(KeyQueueDepth, n) }
func ExitCode(code int) slog.Attr     { return slog.Int(KeyExitCode, code) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Method(m string) slog.Attr       { return slog.String(KeyMethod, m) }
func HTTPStatus(code int) slog.Attr   { return slog.Int(KeyHTTPStatus, code) }
func RemoteAddr(a string) slog.Attr   { return slog.String(KeyRemoteAddr, a) }
func UserAgent(ua string) slog.Attr   { return slog.String(KeyUserAgent, ua) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
