package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger writes category-tagged lines to stdout and, optionally, a log file.
type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	file  *os.File
	level Level
}

var (
	timeColor     = color.New(color.FgHiBlack).SprintFunc()
	categoryColor = color.New(color.FgCyan, color.Bold).SprintFunc()
	levelColors   = map[Level]func(a ...interface{}) string{
		LevelDebug: color.New(color.FgMagenta).SprintFunc(),
		LevelInfo:  color.New(color.FgGreen).SprintFunc(),
		LevelWarn:  color.New(color.FgYellow).SprintFunc(),
		LevelError: color.New(color.FgRed, color.Bold).SprintFunc(),
	}
	levelNames = map[Level]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
	}
)

// NewLogger builds the process logger from LOG_LEVEL and LOG_FILE.
func NewLogger() *Logger {
	l := &Logger{out: os.Stdout, level: LevelInfo}
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		l.level = LevelDebug
	}

	if path := os.Getenv("LOG_FILE"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
		} else {
			l.file = f
		}
	}
	return l
}

// New returns a logger writing to w. Used by tests with io.Discard.
func New(w io.Writer, level Level) *Logger {
	return &Logger{out: w, level: level}
}

func (l *Logger) write(level Level, category, msg string) {
	if l == nil || level < l.level {
		return
	}
	now := time.Now().Format("2006-01-02 15:04:05.000")

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintf(l.out, "%s %s [%s] %s\n",
		timeColor(now), levelColors[level](fmt.Sprintf("%-5s", levelNames[level])), categoryColor(category), msg)
	if l.file != nil {
		fmt.Fprintf(l.file, "%s %-5s [%s] %s\n", now, levelNames[level], category, msg)
	}
}

func (l *Logger) Debug(category, msg string) { l.write(LevelDebug, category, msg) }
func (l *Logger) Info(category, msg string)  { l.write(LevelInfo, category, msg) }
func (l *Logger) Warn(category, msg string)  { l.write(LevelWarn, category, msg) }
func (l *Logger) Error(category, msg string) { l.write(LevelError, category, msg) }

func (l *Logger) Fatal(category, msg string) {
	l.write(LevelError, category, msg)
	l.Close()
	os.Exit(1)
}

func (l *Logger) LogProcess(process, msg string) {
	l.Info(process, "⚙️  "+msg)
}

func (l *Logger) LogDatabase(operation, db, msg string) {
	l.Debug("DB:"+db, fmt.Sprintf("%s - %s", operation, msg))
}

func (l *Logger) LogKafka(operation, topic, msg string) {
	l.Info("KAFKA:"+topic, fmt.Sprintf("%s - %s", operation, msg))
}

func (l *Logger) LogRedis(operation, key, msg string) {
	l.Debug("REDIS", fmt.Sprintf("%s %s - %s", operation, key, msg))
}

func (l *Logger) LogPayment(operation, paymentID, msg string) {
	l.Info("PAYMENT", fmt.Sprintf("%s [%s] %s", operation, paymentID, msg))
}

func (l *Logger) LogReservation(operation, reservationID, msg string) {
	l.Info("RESERVATION", fmt.Sprintf("%s [%s] %s", operation, reservationID, msg))
}

func (l *Logger) LogWorker(worker, msg string) {
	l.Info("WORKER:"+worker, msg)
}

func (l *Logger) LogAPI(method, path, status, duration string) {
	l.Info("API", fmt.Sprintf("%s %s - %s (%s)", method, path, status, duration))
}

func (l *Logger) LogSecurity(event, msg string) {
	l.Warn("SECURITY", fmt.Sprintf("%s - %s", event, msg))
}

func (l *Logger) Close() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
