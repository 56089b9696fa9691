package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	LogLevelInfo  = 0
	LogLevelWarn  = 1
	LogLevelError = 2
	LogLevelDebug = 3
)

var (
	outputMu sync.RWMutex
	output   io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.StampMicro}
)

// SetOutput redirects every logger created afterwards.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()

	output = w
}

type logger struct {
	prefix      string
	innerLogger zerolog.Logger
	writer      io.Writer
	level       int
}

func GetLogger(prefix string, level int) Logger {
	outputMu.RLock()
	w := output
	outputMu.RUnlock()

	zl := zerolog.New(w).Level(zerolog.InfoLevel)
	if level >= LogLevelDebug {
		zl = zl.Level(zerolog.DebugLevel)
	}

	return &logger{
		prefix:      prefix,
		innerLogger: zl.With().Timestamp().Str("component", prefix).Logger(),
		writer:      w,
		level:       level,
	}
}

func (l *logger) Info(message string, v ...interface{}) {
	l.innerLogger.Info().Msg(fmt.Sprintf(message, v...))
}

func (l *logger) Warn(message string, v ...interface{}) {
	if l.level < LogLevelWarn {
		return
	}

	l.innerLogger.Warn().Msg(fmt.Sprintf(message, v...))
}

func (l *logger) Error(message string, v ...interface{}) {
	if l.level < LogLevelError {
		return
	}

	l.innerLogger.Error().Msg(fmt.Sprintf(message, v...))
}

func (l *logger) Debug(message string, v ...interface{}) {
	if l.level < LogLevelDebug {
		return
	}

	l.innerLogger.Debug().Msg(fmt.Sprintf(message, v...))
}

func (l *logger) GetWriter() io.Writer {
	return l.writer
}
