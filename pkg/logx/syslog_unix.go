//go:build !windows

package logx

import (
	"fmt"
	"log/syslog"

	"github.com/sirupsen/logrus"
)

// syslogHook forwards logrus entries to the system log on Unix hosts,
// grounded on the daemon's previous direct syslog.Writer usage.
type syslogHook struct {
	writer *syslog.Writer
}

func newSyslogHook(tag string) (logrus.Hook, error) {
	w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, tag)
	if err != nil {
		return nil, err
	}
	return &syslogHook{writer: w}, nil
}

func (h *syslogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *syslogHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	switch entry.Level {
	case logrus.DebugLevel, logrus.TraceLevel:
		return h.writer.Debug(line)
	case logrus.InfoLevel:
		return h.writer.Info(line)
	case logrus.WarnLevel:
		return h.writer.Warning(line)
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return h.writer.Err(line)
	default:
		return fmt.Errorf("logx: unhandled level %v", entry.Level)
	}
}
