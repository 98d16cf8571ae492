package whatsapp

import (
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/sipeed/wabridge/pkg/logger"
)

// waLogger routes whatsmeow's printf-style logs into pkg/logger under the
// "whatsmeow/<module>" component. Debug lines are dropped unless enabled,
// the library is very chatty at that level.
type waLogger struct {
	component string
	debug     bool
}

func newWALogger(module string, debug bool) waLog.Logger {
	return &waLogger{component: "whatsmeow/" + module, debug: debug}
}

func (l *waLogger) Errorf(msg string, args ...interface{}) {
	logger.ErrorC(l.component, fmt.Sprintf(msg, args...))
}

func (l *waLogger) Warnf(msg string, args ...interface{}) {
	logger.WarnC(l.component, fmt.Sprintf(msg, args...))
}

func (l *waLogger) Infof(msg string, args ...interface{}) {
	logger.InfoC(l.component, fmt.Sprintf(msg, args...))
}

func (l *waLogger) Debugf(msg string, args ...interface{}) {
	if !l.debug {
		return
	}
	logger.DebugC(l.component, fmt.Sprintf(msg, args...))
}

func (l *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{component: l.component + "/" + module, debug: l.debug}
}
