package gologger

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// ZerologLogger writes glog calls through zerolog. Key/value args become
// structured fields; a trailing odd arg is kept under "extra".
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger builds a logger at level ("trace" through "fatal"). A
// terminal writer gets the console format, anything else gets JSON lines.
func NewZerologLogger(w io.Writer, level string) *ZerologLogger {
	if w == nil {
		w = os.Stderr
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		w = zerolog.ConsoleWriter{Out: f, TimeFormat: "15:04:05"}
	}
	return &ZerologLogger{logger: zerolog.New(w).With().Timestamp().Logger().Level(parsed)}
}

// FromZerolog wraps an already configured zerolog logger.
func FromZerolog(logger zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: logger}
}

func (l *ZerologLogger) Trace(msg string, args ...any) { l.emit(l.logger.Trace(), msg, args) }
func (l *ZerologLogger) Debug(msg string, args ...any) { l.emit(l.logger.Debug(), msg, args) }
func (l *ZerologLogger) Info(msg string, args ...any)  { l.emit(l.logger.Info(), msg, args) }
func (l *ZerologLogger) Warn(msg string, args ...any)  { l.emit(l.logger.Warn(), msg, args) }
func (l *ZerologLogger) Error(msg string, args ...any) { l.emit(l.logger.Error(), msg, args) }

// Fatal logs at error level with fatal=true and does not exit; the CLI owns
// the process exit code.
func (l *ZerologLogger) Fatal(msg string, args ...any) {
	l.emit(l.logger.Error().Bool("fatal", true), msg, args)
}

func (l *ZerologLogger) WithContext(context.Context) glog.Logger {
	return l
}

func (l *ZerologLogger) WithFields(fields map[string]any) glog.Logger {
	if len(fields) == 0 {
		return l
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	ctx := l.logger.With()
	for _, key := range keys {
		ctx = ctx.Interface(key, fields[key])
	}
	return &ZerologLogger{logger: ctx.Logger()}
}

// Named returns a child logger tagged with a logger name.
func (l *ZerologLogger) Named(name string) *ZerologLogger {
	if name == "" {
		return l
	}
	return &ZerologLogger{logger: l.logger.With().Str("logger", name).Logger()}
}

func (l *ZerologLogger) emit(event *zerolog.Event, msg string, args []any) {
	if event == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			event = event.Interface("extra", args[i])
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if err, isErr := args[i+1].(error); isErr {
			event = event.AnErr(key, err)
			continue
		}
		event = event.Interface(key, args[i+1])
	}
	event.Msg(msg)
}

// ZerologProvider hands out named children of one root logger.
type ZerologProvider struct {
	root *ZerologLogger
}

func NewZerologProvider(root *ZerologLogger) *ZerologProvider {
	return &ZerologProvider{root: root}
}

func (p *ZerologProvider) GetLogger(name string) glog.Logger {
	if p == nil || p.root == nil {
		return glog.Nop()
	}
	return p.root.Named(name)
}

var (
	_ glog.Logger         = (*ZerologLogger)(nil)
	_ glog.FieldsLogger   = (*ZerologLogger)(nil)
	_ glog.LoggerProvider = (*ZerologProvider)(nil)
)
