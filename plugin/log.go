/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package plugin

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/valyala/bytebufferpool"
)

// Level is the severity of a log entry.
type Level int

const (
	LevelConfig Level = iota
	LevelInfo
	LevelWarning
	LevelSevere
	LevelOff
)

// dd/MM/yyyy hh:mm:ss.SSS, hours on a 12-hour clock
const timeLayout = "02/01/2006 03:04:05.000"

var levelName = []string{
	"CONFIG",
	"INFO",
	"WARNING",
	"SEVERE",
}

func (l Level) String() string {
	if l >= LevelConfig && l < LevelOff {
		return levelName[l]
	}
	if l == LevelOff {
		return "OFF"
	}
	return "LEVEL(" + strconv.Itoa(int(l)) + ")"
}

// ParseLevel accepts a level name (case-insensitive, "error" and "debug" are
// aliases of SEVERE and CONFIG) or its numeric value.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CONFIG", "DEBUG":
		return LevelConfig, nil
	case "INFO":
		return LevelInfo, nil
	case "WARNING", "WARN":
		return LevelWarning, nil
	case "SEVERE", "ERROR":
		return LevelSevere, nil
	case "OFF":
		return LevelOff, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < int(LevelConfig) || n > int(LevelOff) {
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return Level(n), nil
}

// Logger writes formatted entries to a console sink and an append-only file sink.
// It is created once per Manager and shared with every block through its Handle.
type Logger struct {
	mu      sync.Mutex
	level   Level
	console io.Writer
	file    *os.File
	now     func() time.Time
}

// NewLogger builds a logger writing to console and, when path is not empty, to
// the file at path. If the file cannot be opened the logger is still returned,
// console-only, together with the error.
func NewLogger(level Level, console io.Writer, path string) (*Logger, error) {
	if console == nil {
		console = os.Stderr
	}
	l := &Logger{
		level:   level,
		console: console,
		now:     time.Now,
	}
	if path == "" {
		return l, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return l, fmt.Errorf("open log file %s: %w", path, err)
	}
	l.file = f
	return l, nil
}

// SetLogLevel changes the minimum level that is written.
func (l *Logger) SetLogLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) enabled(level Level) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.level && level < LevelOff
}

func (l *Logger) log(level Level, msg string) {
	if !l.enabled(level) {
		return
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	formatEntry(buf, l.now(), level, msg)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.console.Write(buf.B); err != nil {
		fmt.Fprintf(os.Stderr, "logger console write failed: %v\n", err)
	}
	if l.file != nil {
		if _, err := l.file.Write(buf.B); err != nil {
			fmt.Fprintf(os.Stderr, "logger file write failed: %v\n", err)
		}
	}
}

// formatEntry renders "<timestamp> - [<LEVEL>] - <message>\n".
func formatEntry(buf *bytebufferpool.ByteBuffer, t time.Time, level Level, msg string) {
	buf.B = t.AppendFormat(buf.B, timeLayout)
	_, _ = buf.WriteString(" - [")
	_, _ = buf.WriteString(level.String())
	_, _ = buf.WriteString("] - ")
	_, _ = buf.WriteString(msg)
	_ = buf.WriteByte('\n')
}

func blockMessage(name, msg string) string {
	return "[" + name + "] - " + msg
}

func (l *Logger) Config(msg string)  { l.log(LevelConfig, msg) }
func (l *Logger) Info(msg string)    { l.log(LevelInfo, msg) }
func (l *Logger) Warning(msg string) { l.log(LevelWarning, msg) }
func (l *Logger) Severe(msg string)  { l.log(LevelSevere, msg) }

func (l *Logger) Configf(format string, a ...interface{}) {
	l.log(LevelConfig, fmt.Sprintf(format, a...))
}

func (l *Logger) Infof(format string, a ...interface{}) {
	l.log(LevelInfo, fmt.Sprintf(format, a...))
}

func (l *Logger) Warnf(format string, a ...interface{}) {
	l.log(LevelWarning, fmt.Sprintf(format, a...))
}

func (l *Logger) Severef(format string, a ...interface{}) {
	l.log(LevelSevere, fmt.Sprintf(format, a...))
}

// Printf lets the worker pool report through the same sinks, at CONFIG level.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.log(LevelConfig, strings.TrimRight(fmt.Sprintf(format, args...), "\n"))
}

// Close syncs and closes the file sink. Later entries reach the console only.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
