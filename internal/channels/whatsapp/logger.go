package whatsapp

import (
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"

	. "github.com/roelfdiedericks/wacodex/internal/logging"
)

// waLogger bridges whatsmeow's waLog.Logger to our L_* functions
type waLogger struct {
	module string
}

func newLogger(module string) waLog.Logger {
	return &waLogger{module: module}
}

func (l *waLogger) Debugf(msg string, args ...interface{}) {
	L_trace(l.line(msg, args))
}

func (l *waLogger) Infof(msg string, args ...interface{}) {
	L_debug(l.line(msg, args))
}

func (l *waLogger) Warnf(msg string, args ...interface{}) {
	L_warn(l.line(msg, args))
}

func (l *waLogger) Errorf(msg string, args ...interface{}) {
	L_error(l.line(msg, args))
}

func (l *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{module: l.module + "/" + module}
}

// line pre-formats so the printf detection in logging never sees the
// original verbs twice.
func (l *waLogger) line(msg string, args []interface{}) string {
	return fmt.Sprintf("whatsmeow/%s: %s", l.module, fmt.Sprintf(msg, args...))
}
