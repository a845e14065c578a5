package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with typed fields. Error entries can additionally be
// aggregated by a LogCollector.
type Logger struct {
	zl        zerolog.Logger
	collector *LogCollector
	base      []Field
	out       io.Closer // set when logging to a file
}

type Config struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format     string `yaml:"format" default:"console" validate:"oneof=json console"`
	Output     string `yaml:"output" default:"stdout"` // stdout, stderr or a file path
	TimeFormat string `yaml:"time_format"`
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var (
		out  io.Writer
		file *os.File
	)
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		file, err = os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("could not open log file: %w", err)
		}
		out = file
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = timeFormat

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	}
	l := NewWithWriter(out, level)
	if file != nil {
		l.out = file
	}
	return l, nil
}

// NewWithWriter builds a logger on an arbitrary writer, mostly for tests.
func NewWithWriter(w io.Writer, level zerolog.Level) *Logger {
	zl := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		CallerWithSkipFrameCount(4).
		Logger()
	return &Logger{zl: zl}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger that stamps fields on every entry.
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		k, v := f.GetKeyValue()
		ctx = ctx.Interface(k, v)
	}
	base := make([]Field, 0, len(l.base)+len(fields))
	base = append(base, l.base...)
	base = append(base, fields...)
	return &Logger{zl: ctx.Logger(), collector: l.collector, base: base, out: l.out}
}

// Close stops the collector and closes the log file, if any. Children made
// with With share the file, so close only the root.
func (l *Logger) Close() error {
	l.DetachCollector()
	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	return err
}

func (l *Logger) Debug(msg string, fields ...Field) { l.write(l.zl.Debug(), msg, fields) }

func (l *Logger) Info(msg string, fields ...Field) { l.write(l.zl.Info(), msg, fields) }

func (l *Logger) Warn(msg string, fields ...Field) { l.write(l.zl.Warn(), msg, fields) }

func (l *Logger) Error(msg string, fields ...Field) {
	l.write(l.zl.Error(), msg, fields)
	l.collect("error", msg, fields)
}

func (l *Logger) write(event *zerolog.Event, msg string, fields []Field) {
	if event == nil {
		return
	}
	for _, f := range fields {
		f.AddTo(event)
	}
	event.Msg(msg)
}

func (l *Logger) collect(level, msg string, fields []Field) {
	if l.collector == nil {
		return
	}
	// skip collect -> Error -> caller
	caller := "unknown"
	if _, file, line, ok := runtime.Caller(2); ok {
		parts := strings.Split(file, "PriceSim")
		caller = fmt.Sprintf("%s:%d", parts[len(parts)-1], line)
	}
	all := make(map[string]any, len(l.base)+len(fields))
	for _, f := range l.base {
		k, v := f.GetKeyValue()
		all[k] = v
	}
	for _, f := range fields {
		k, v := f.GetKeyValue()
		all[k] = v
	}
	l.collector.AddLog(level, msg, all, caller)
}

// AttachCollector replaces any existing collector.
func (l *Logger) AttachCollector(cfg *CollectionConfig) {
	if l.collector != nil {
		l.collector.Close()
	}
	l.collector = NewLogCollector(cfg)
}

// DetachCollector flushes and stops the collector.
func (l *Logger) DetachCollector() {
	if l.collector != nil {
		l.collector.Close()
		l.collector = nil
	}
}

// Field is a typed key/value pair.
type Field interface {
	AddTo(event *zerolog.Event)
	GetKeyValue() (string, any)
}

type stringField struct {
	key string
	val string
}

func (f stringField) AddTo(e *zerolog.Event)     { e.Str(f.key, f.val) }
func (f stringField) GetKeyValue() (string, any) { return f.key, f.val }

type intField struct {
	key string
	val int64
}

func (f intField) AddTo(e *zerolog.Event)     { e.Int64(f.key, f.val) }
func (f intField) GetKeyValue() (string, any) { return f.key, f.val }

type uintField struct {
	key string
	val uint64
}

func (f uintField) AddTo(e *zerolog.Event)     { e.Uint64(f.key, f.val) }
func (f uintField) GetKeyValue() (string, any) { return f.key, f.val }

type floatField struct {
	key string
	val float64
}

func (f floatField) AddTo(e *zerolog.Event)     { e.Float64(f.key, f.val) }
func (f floatField) GetKeyValue() (string, any) { return f.key, f.val }

type boolField struct {
	key string
	val bool
}

func (f boolField) AddTo(e *zerolog.Event)     { e.Bool(f.key, f.val) }
func (f boolField) GetKeyValue() (string, any) { return f.key, f.val }

type durationField struct {
	key string
	val time.Duration
}

func (f durationField) AddTo(e *zerolog.Event)     { e.Dur(f.key, f.val) }
func (f durationField) GetKeyValue() (string, any) { return f.key, f.val.String() }

type timeField struct {
	key string
	val time.Time
}

func (f timeField) AddTo(e *zerolog.Event)     { e.Time(f.key, f.val) }
func (f timeField) GetKeyValue() (string, any) { return f.key, f.val.Format(time.RFC3339Nano) }

type errorField struct {
	err error
}

func (f errorField) AddTo(e *zerolog.Event) { e.Err(f.err) }
func (f errorField) GetKeyValue() (string, any) {
	if f.err == nil {
		return "error", nil
	}
	return "error", f.err.Error()
}

type anyField struct {
	key string
	val any
}

func (f anyField) AddTo(e *zerolog.Event)     { e.Interface(f.key, f.val) }
func (f anyField) GetKeyValue() (string, any) { return f.key, f.val }

func String(key, value string) Field { return stringField{key, value} }

func Strings(key string, value []string) Field { return stringField{key, strings.Join(value, ", ")} }

func Int(key string, value int) Field { return intField{key, int64(value)} }

func Int64(key string, value int64) Field { return intField{key, value} }

func Uint64(key string, value uint64) Field { return uintField{key, value} }

func Float64(key string, value float64) Field { return floatField{key, value} }

func Bool(key string, value bool) Field { return boolField{key, value} }

// Duration is rendered in zerolog's duration unit (milliseconds by default).
func Duration(key string, value time.Duration) Field { return durationField{key, value} }

func Time(key string, value time.Time) Field { return timeField{key, value} }

func Error(err error) Field { return errorField{err} }

func Any(key string, value any) Field { return anyField{key, value} }
