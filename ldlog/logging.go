// Package ldlog provides the leveled logging abstraction used by the SDK.
package ldlog

import (
	"log"
	"os"
	"strings"
)

// BaseLogger is a generic logger interface with no level mechanism. Its methods are a
// subset of Go's log.Logger, so log.New() can be used to create one.
type BaseLogger interface {
	// Println logs a message on a single line, like log.Logger.Println.
	Println(values ...interface{})
	// Printf logs a message on a single line with a format string, like log.Logger.Printf.
	Printf(format string, values ...interface{})
}

// LogLevel describes one of the possible message thresholds, from Debug to Error.
type LogLevel int

const (
	_ = iota
	// Debug is the least significant level, for verbose output that is normally suppressed.
	Debug LogLevel = iota
	// Info is the level for informational messages about normal operation.
	Info LogLevel = iota
	// Warn is the level for uncommon conditions that are not necessarily errors.
	Warn LogLevel = iota
	// Error is the level for conditions that should not happen during normal operation.
	Error LogLevel = iota
	// None disables all output.
	None LogLevel = iota
)

// Name returns a descriptive name for this log level.
func (level LogLevel) Name() string {
	switch level {
	case Debug:
		return "Debug"
	case Info:
		return "Info"
	case Warn:
		return "Warn"
	case Error:
		return "Error"
	case None:
		return "None"
	}
	return "?"
}

// String is the default string representation of LogLevel, the same as Name().
func (level LogLevel) String() string {
	return level.Name()
}

// Loggers is a configurable logging component with a level filter.
//
// The zero value sends output to standard error with all levels except Debug enabled.
// Use the Set methods to change this.
type Loggers struct {
	debugLog   levelLogger
	infoLog    levelLogger
	warnLog    levelLogger
	errorLog   levelLogger
	baseLogger BaseLogger
	minLevel   LogLevel
	prefix     string
	inited     bool
}

type levelLogger struct {
	baseLogger     BaseLogger
	enabled        bool
	prefix         string
	overrideLogger bool
}

var disabledLog = levelLogger{enabled: false}

// NewDefaultLoggers returns a Loggers instance with the default configuration.
func NewDefaultLoggers() Loggers {
	var ret Loggers
	ret.ensureInited()
	return ret
}

// NewDisabledLoggers returns a Loggers instance that produces no output at all.
func NewDisabledLoggers() Loggers {
	var ret Loggers
	ret.ensureInited()
	ret.SetMinLevel(None)
	return ret
}

// Debug logs a message at Debug level, if enabled. It calls the BaseLogger's Println.
func (l Loggers) Debug(values ...interface{}) {
	l.ForLevel(Debug).Println(values...)
}

// Debugf logs a message at Debug level with a format string, if enabled.
func (l Loggers) Debugf(format string, values ...interface{}) {
	l.ForLevel(Debug).Printf(format, values...)
}

// Info logs a message at Info level, if enabled. It calls the BaseLogger's Println.
func (l Loggers) Info(values ...interface{}) {
	l.ForLevel(Info).Println(values...)
}

// Infof logs a message at Info level with a format string, if enabled.
func (l Loggers) Infof(format string, values ...interface{}) {
	l.ForLevel(Info).Printf(format, values...)
}

// Warn logs a message at Warn level, if enabled. It calls the BaseLogger's Println.
func (l Loggers) Warn(values ...interface{}) {
	l.ForLevel(Warn).Println(values...)
}

// Warnf logs a message at Warn level with a format string, if enabled.
func (l Loggers) Warnf(format string, values ...interface{}) {
	l.ForLevel(Warn).Printf(format, values...)
}

// Error logs a message at Error level, if enabled. It calls the BaseLogger's Println.
func (l Loggers) Error(values ...interface{}) {
	l.ForLevel(Error).Println(values...)
}

// Errorf logs a message at Error level with a format string, if enabled.
func (l Loggers) Errorf(format string, values ...interface{}) {
	l.ForLevel(Error).Printf(format, values...)
}

// ForLevel returns a BaseLogger that writes messages at the specified level. The
// existing level configuration still applies, so ForLevel(Debug).Println("x") is the
// same as Debug("x"). For an invalid level the return value is non-nil but silent.
func (l Loggers) ForLevel(level LogLevel) BaseLogger {
	l.ensureInited() // operates on a copy, so an uninitialized zero value still gets defaults
	if level >= l.minLevel {
		if lll := l.levelLogger(level); lll != nil {
			return *lll
		}
	}
	return disabledLog
}

// SetBaseLogger specifies the destination for output at all levels that have not been
// overridden with SetBaseLoggerForLevel. Messages are prefixed with "LEVEL: ".
// A nil value is ignored.
func (l *Loggers) SetBaseLogger(baseLogger BaseLogger) {
	l.ensureInited()
	if baseLogger == nil {
		return
	}
	l.baseLogger = baseLogger
	for _, ll := range l.allLevels() {
		if !ll.overrideLogger {
			ll.baseLogger = baseLogger
		}
	}
}

// SetBaseLoggerForLevel specifies the destination for output at one level only. Passing
// nil reverts that level to the default from SetBaseLogger.
func (l *Loggers) SetBaseLoggerForLevel(level LogLevel, baseLogger BaseLogger) {
	l.ensureInited()
	if ll := l.levelLogger(level); ll != nil {
		if baseLogger == nil {
			ll.baseLogger = l.baseLogger
			ll.overrideLogger = false
		} else {
			ll.baseLogger = baseLogger
			ll.overrideLogger = true
		}
	}
}

// SetMinLevel specifies the lowest level that will produce output. The default is Info.
func (l *Loggers) SetMinLevel(minLevel LogLevel) {
	l.ensureInited()
	l.minLevel = minLevel
	l.configureLevels()
}

// GetMinLevel returns the current lowest enabled level.
func (l *Loggers) GetMinLevel() LogLevel {
	l.ensureInited()
	return l.minLevel
}

// SetPrefix specifies a string inserted before every message, after the level prefix.
// Do not include a trailing space.
func (l *Loggers) SetPrefix(prefix string) {
	l.ensureInited()
	l.prefix = prefix
	l.configureLevels()
}

func (l *Loggers) ensureInited() {
	if l.inited {
		return
	}
	l.minLevel = Info
	l.baseLogger = log.New(os.Stderr, "", log.LstdFlags)
	for _, ll := range l.allLevels() {
		ll.baseLogger = l.baseLogger
	}
	l.configureLevels()
	l.inited = true
}

func (l *Loggers) configureLevels() {
	for level, ll := range l.allLevels() {
		ll.enabled = level >= l.minLevel
		ll.prefix = strings.ToUpper(level.Name()) + ":"
		if l.prefix != "" {
			ll.prefix = ll.prefix + " " + l.prefix
		}
	}
}

func (l *Loggers) allLevels() map[LogLevel]*levelLogger {
	return map[LogLevel]*levelLogger{
		Debug: &l.debugLog,
		Info:  &l.infoLog,
		Warn:  &l.warnLog,
		Error: &l.errorLog,
	}
}

func (l *Loggers) levelLogger(level LogLevel) *levelLogger {
	switch level {
	case Debug:
		return &l.debugLog
	case Info:
		return &l.infoLog
	case Warn:
		return &l.warnLog
	case Error:
		return &l.errorLog
	}
	return nil
}

func (ll levelLogger) Println(values ...interface{}) {
	if !ll.enabled || ll.baseLogger == nil {
		return
	}
	vs := make([]interface{}, 0, len(values)+1)
	vs = append(vs, ll.prefix)
	vs = append(vs, values...)
	ll.baseLogger.Println(vs...)
}

func (ll levelLogger) Printf(format string, args ...interface{}) {
	if ll.enabled && ll.baseLogger != nil {
		ll.baseLogger.Printf(ll.prefix+" "+format, args...)
	}
}
