package logging

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	fimlogging "github.com/FimGroup/logging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const moduleField = "module"

var (
	root = newRootLogger()
	lock sync.RWMutex
)

func newRootLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

type Options struct {
	Level  string
	Format string // text or json
	// File is the path prefix of the rotating log files, {File}.YYYY-MM-DD.log.
	// Empty keeps console output only.
	File          string
	MaxDays       int
	MaxFileSize   int
	MaxFilePerDay int
}

// Setup reconfigures the shared logger. Entries obtained earlier follow the change.
func Setup(opts Options) error {
	lock.Lock()
	defer lock.Unlock()

	level := logrus.InfoLevel
	if opts.Level != "" {
		lvl, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return errors.Wrap(err, "parse log level")
		}
		level = lvl
	}

	switch opts.Format {
	case "", "text":
		root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		root.SetFormatter(&logrus.JSONFormatter{})
	default:
		return errors.New("unknown log format: " + opts.Format)
	}
	root.SetLevel(level)

	hooks := make(logrus.LevelHooks)
	if opts.File != "" {
		manager, err := fimlogging.NewLoggerManager(opts.File, opts.MaxDays, opts.MaxFileSize, opts.MaxFilePerDay, level, false, false)
		if err != nil {
			return errors.Wrap(err, "create log file manager")
		}
		hooks.Add(newFileHook(manager))
	}
	root.ReplaceHooks(hooks)
	return nil
}

func Module(name string) *logrus.Entry {
	lock.RLock()
	defer lock.RUnlock()
	return root.WithField(moduleField, name)
}

func Logger() *logrus.Logger {
	return root
}

// fileHook forwards entries to the rotating file loggers, one per module.
type fileHook struct {
	manager fimlogging.LoggerManager

	sync.Mutex
	loggers map[string]fimlogging.Logger
}

func newFileHook(manager fimlogging.LoggerManager) *fileHook {
	return &fileHook{
		manager: manager,
		loggers: map[string]fimlogging.Logger{},
	}
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fileHook) logger(name string) fimlogging.Logger {
	h.Lock()
	defer h.Unlock()
	l, ok := h.loggers[name]
	if !ok {
		l = h.manager.GetLogger(name)
		h.loggers[name] = l
	}
	return l
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	name, _ := entry.Data[moduleField].(string)
	l := h.logger(name)
	msg := formatLine(entry)
	switch entry.Level {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		l.Error(msg)
	case logrus.WarnLevel:
		l.Warn(msg)
	case logrus.InfoLevel:
		l.Info(msg)
	case logrus.DebugLevel:
		l.Debug(msg)
	default:
		l.Trace(msg)
	}
	return nil
}

// formatLine appends the entry fields, sorted, to the message.
func formatLine(entry *logrus.Entry) string {
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k != moduleField {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return entry.Message
	}
	sort.Strings(keys)
	b := new(strings.Builder)
	b.WriteString(entry.Message)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", k, entry.Data[k])
	}
	return b.String()
}
