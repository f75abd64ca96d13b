package dtls

import "github.com/pion/logging"

// defaultLogger backs Config.Logger when the caller doesn't supply one.
// The teacher sprinkles an unexported logf(logType, ...) call at every
// state transition (conn.go, client-state-machine.go, frame-reader.go);
// this driver does the same through a real leveled logger instead, since
// logf's own definition wasn't among the retrieved teacher sources.
func defaultLogger() logging.LeveledLogger {
	return logging.NewDefaultLoggerFactory().NewLogger("dtls")
}
