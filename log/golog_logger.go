package log

import (
	"github.com/kataras/golog"
)

// GologLogger is the production logging backend: leveled, timestamped,
// colorized output via github.com/kataras/golog. The server binary
// installs one as the process default at startup; everything else keeps
// talking to the Logger interface.
type GologLogger struct {
	g *golog.Logger
}

var _ Logger = (*GologLogger)(nil)

// NewGologLogger builds a self-contained golog backend at the given
// level.
func NewGologLogger(level LogLevel) *GologLogger {
	g := golog.New()
	g.SetPrefix("capiflow ")
	l := &GologLogger{g: g}
	l.SetLevel(level)
	return l
}

// WrapGolog adopts a caller-configured golog instance (custom prefix,
// outputs, hooks) behind the Logger interface. The instance's own level
// stays authoritative until SetLevel is called.
func WrapGolog(g *golog.Logger) *GologLogger {
	return &GologLogger{g: g}
}

// SetLevel maps a capiflow level onto the underlying golog level.
func (l *GologLogger) SetLevel(level LogLevel) {
	l.g.SetLevel(gologLevelName(level))
}

func gologLevelName(level LogLevel) string {
	switch level {
	case LogLevelDebug:
		return "debug"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	case LogLevelNone:
		return "disable"
	}
	return "info"
}

func (l *GologLogger) Debug(format string, v ...any) { l.g.Debugf(format, v...) }
func (l *GologLogger) Info(format string, v ...any)  { l.g.Infof(format, v...) }
func (l *GologLogger) Warn(format string, v ...any)  { l.g.Warnf(format, v...) }
func (l *GologLogger) Error(format string, v ...any) { l.g.Errorf(format, v...) }
