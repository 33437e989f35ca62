// Package actionlog records past invocations of the model image tool,
// one "timestamp,action,args..." line per invocation.
package actionlog

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultDir  = "logs"
	DefaultFile = "cli.log"

	timeLayout = "2006-01-02 15:04:05.000000"
)

type Log struct {
	mu  sync.Mutex
	w   io.WriteCloser
	now func() time.Time
}

// Open appends to dir/cli.log, rotating the file past 10MB.
func Open(dir string) *Log {
	return New(&lumberjack.Logger{
		Filename:   filepath.Join(dir, DefaultFile),
		MaxSize:    10,
		MaxBackups: 5,
	})
}

func New(w io.WriteCloser) *Log {
	return &Log{w: w, now: time.Now}
}

func (l *Log) Record(action string, args ...string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	fields := append([]string{l.now().Format(timeLayout), action}, args...)
	_, err := fmt.Fprintln(l.w, strings.Join(fields, ","))
	return err
}

func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	return l.w.Close()
}
