//go:build windows

package logx

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// newSyslogHook is unavailable on Windows; NewWithSyslog falls back to
// plain JSON-to-stdout logging.
func newSyslogHook(tag string) (logrus.Hook, error) {
	return nil, errors.New("logx: syslog is not available on windows")
}
