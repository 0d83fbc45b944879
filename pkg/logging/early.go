package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// EarlyLog writes JSON lines with the structured logger's keys before that
// logger exists (config and .env loading).
type EarlyLog struct {
	service string
	out     io.Writer
	exit    func(int)
}

func NewEarlyLog(service string) *EarlyLog {
	return &EarlyLog{service: service, out: os.Stderr, exit: os.Exit}
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	l.write("error", msg, args)
}

func (l *EarlyLog) Fatal(msg string, args ...interface{}) {
	l.write("fatal", msg, args)
	l.exit(1)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	l.write("warn", msg, args)
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	l.write("info", msg, args)
}

func (l *EarlyLog) write(level, msg string, args []interface{}) {
	line, err := json.Marshal(map[string]string{
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"level":        level,
		"message":      fmt.Sprintf(msg, args...),
		ServiceNameKey: l.service,
	})
	if err != nil {
		return
	}
	_, _ = l.out.Write(append(line, '\n'))
}
