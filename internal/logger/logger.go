// Package logger предоставляет логирование с префиксом сервиса и асинхронной записью,
// чтобы не блокировать основное приложение. Под капотом logrus; поддерживается логирование
// времени выполнения функций.
package logger

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const asyncBufferSize = 8192

// slowCall — порог, после которого LogDuration пишет вызов и на уровне info.
const slowCall = 100 * time.Millisecond

type record struct {
	level logrus.Level
	msg   string
	field logrus.Fields
}

var (
	base   = logrus.New()
	prefix atomic.Value // string
	ch     chan record
	once   sync.Once
)

func init() {
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	SetLevel(os.Getenv("LOG_LEVEL"))
}

func initWorker() {
	ch = make(chan record, asyncBufferSize)
	go func() {
		for r := range ch {
			base.WithFields(r.field).Log(r.level, r.msg)
		}
	}()
}

func enqueue(lvl logrus.Level, msg string, fields logrus.Fields) {
	once.Do(initWorker)
	if !base.IsLevelEnabled(lvl) {
		return
	}
	if fields == nil {
		fields = logrus.Fields{}
	}
	if p, _ := prefix.Load().(string); p != "" {
		fields["service"] = p
	}
	select {
	case ch <- record{level: lvl, msg: msg, field: fields}:
	default:
		// Буфер полон — не блокируем, теряем лог
	}
}

// SetPrefix задаёт префикс для всех последующих логов (например "api"). Можно вызывать в любой момент.
func SetPrefix(p string) {
	prefix.Store(p)
}

// SetLevel меняет уровень логирования ("debug", "info", "warn", "error"). Неизвестное значение — info.
func SetLevel(level string) {
	switch level {
	case "trace":
		base.SetLevel(logrus.TraceLevel)
	case "debug":
		base.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		base.SetLevel(logrus.WarnLevel)
	case "error":
		base.SetLevel(logrus.ErrorLevel)
	default:
		base.SetLevel(logrus.InfoLevel)
	}
}

// Info пишет в лог с префиксом (асинхронно).
func Info(v ...any) {
	enqueue(logrus.InfoLevel, fmt.Sprint(v...), nil)
}

// Infof форматирует и пишет с префиксом (асинхронно).
func Infof(format string, v ...any) {
	enqueue(logrus.InfoLevel, fmt.Sprintf(format, v...), nil)
}

func Debugf(format string, v ...any) {
	enqueue(logrus.DebugLevel, fmt.Sprintf(format, v...), nil)
}

func Warnf(format string, v ...any) {
	enqueue(logrus.WarnLevel, fmt.Sprintf(format, v...), nil)
}

// Error пишет ошибку с префиксом (асинхронно).
func Error(v ...any) {
	enqueue(logrus.ErrorLevel, fmt.Sprint(v...), nil)
}

// Errorf форматирует ошибку с префиксом (асинхронно).
func Errorf(format string, v ...any) {
	enqueue(logrus.ErrorLevel, fmt.Sprintf(format, v...), nil)
}

// LogDuration логирует имя функции и время выполнения в миллисекундах (асинхронно).
// При уровне info пишутся только вызовы дольше 100ms; при debug — все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	lvl := logrus.DebugLevel
	if elapsed >= slowCall {
		lvl = logrus.InfoLevel
	}
	enqueue(lvl, "call finished", logrus.Fields{"fn": fn, "duration_ms": elapsed.Milliseconds()})
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("HandlerName", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
