package smtp

import (
	"fmt"
	"log/slog"

	"github.com/wneessen/go-mail/log"
)

// traceLogger routes the go-mail protocol trace into slog using the same
// "C: "/"S: " prefixes as the relay server.
type traceLogger struct {
	log *slog.Logger
}

func newTraceLogger(l *slog.Logger) *traceLogger {
	return &traceLogger{log: l}
}

func (l *traceLogger) Debugf(entry log.Log) {
	l.log.Debug(l.format(entry))
}

func (l *traceLogger) Infof(entry log.Log) {
	l.log.Info(l.format(entry))
}

func (l *traceLogger) Warnf(entry log.Log) {
	l.log.Warn(l.format(entry))
}

func (l *traceLogger) Errorf(entry log.Log) {
	l.log.Error(l.format(entry))
}

func (l *traceLogger) format(entry log.Log) string {
	prefix := "S: "
	if entry.Direction == log.DirClientToServer {
		prefix = "C: "
	}
	return prefix + fmt.Sprintf(entry.Format, entry.Messages...)
}
