package rtc

import (
	"fmt"

	"github.com/pion/logging"

	"github.com/1ureka/rudp/internal/util"
)

// loggerFactory routes pion's internal logging into the shared logger.
// Pion is chatty, so everything below warning is only shown in debug mode.
type loggerFactory struct{}

func (*loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &scopedLogger{prefix: "[" + scope + "] "}
}

type scopedLogger struct {
	prefix string
}

func (l *scopedLogger) Trace(msg string) {}

func (l *scopedLogger) Tracef(format string, args ...interface{}) {}

func (l *scopedLogger) Debug(msg string) { l.debug(msg) }

func (l *scopedLogger) Debugf(format string, args ...interface{}) {
	l.debug(fmt.Sprintf(format, args...))
}

func (l *scopedLogger) Info(msg string) { l.debug(msg) }

func (l *scopedLogger) Infof(format string, args ...interface{}) {
	l.debug(fmt.Sprintf(format, args...))
}

func (l *scopedLogger) Warn(msg string) { util.LogWarning("%s%s", l.prefix, msg) }

func (l *scopedLogger) Warnf(format string, args ...interface{}) {
	util.LogWarning("%s%s", l.prefix, fmt.Sprintf(format, args...))
}

func (l *scopedLogger) Error(msg string) { util.LogError("%s%s", l.prefix, msg) }

func (l *scopedLogger) Errorf(format string, args ...interface{}) {
	util.LogError("%s%s", l.prefix, fmt.Sprintf(format, args...))
}

func (l *scopedLogger) debug(msg string) {
	if util.DebugEnabled() {
		util.LogDebug("%s%s", l.prefix, msg)
	}
}
