package daemon

import (
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/sirupsen/logrus"
)

// JournalHook forwards logrus entries to the systemd journal when one is
// available, so a supervised container's logs show up under its unit the
// same way `journalctl -u` would expect. It is a no-op hook on systems
// without journald.
type JournalHook struct{}

func NewJournalHook() *JournalHook { return &JournalHook{} }

func (h *JournalHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *JournalHook) Fire(entry *logrus.Entry) error {
	if !journal.Enabled() {
		return nil
	}
	priority := journalPriority(entry.Level)
	fields := make(map[string]string, len(entry.Data))
	for k, v := range entry.Data {
		fields[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return journal.Send(entry.Message, priority, fields)
}

func journalPriority(level logrus.Level) journal.Priority {
	switch level {
	case logrus.PanicLevel, logrus.FatalLevel:
		return journal.PriEmerg
	case logrus.ErrorLevel:
		return journal.PriErr
	case logrus.WarnLevel:
		return journal.PriWarning
	case logrus.InfoLevel:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}
