package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

const (
	LevelFatal slog.Level = 12

	logRetention = 30 * 24 * time.Hour
)

// sink serialises every handler's output through one goroutine and owns the
// daily log file when a directory is configured.
type sink struct {
	ch          chan []byte
	console     io.Writer
	writer      io.Writer
	currentDay  int
	currentFile *os.File
	basePath    string
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

func newSink(console io.Writer, basePath string) *sink {
	s := &sink{
		ch:       make(chan []byte, 1024),
		console:  console,
		writer:   console,
		basePath: basePath,
	}
	if basePath != "" {
		if err := s.rotateIfNeeded(); err != nil {
			fmt.Fprintf(os.Stderr, "log file unavailable, console only: %v\n", err)
		}
	}
	s.wg.Add(1)
	go s.startWorker()
	return s
}

func (s *sink) cleanOldLogs() {
	files, _ := filepath.Glob(s.basePath + "/*.log")
	now := time.Now()

	for _, f := range files {
		fi, err := os.Stat(f)
		if err != nil {
			continue
		}
		if now.Sub(fi.ModTime()) > logRetention {
			_ = os.Remove(f)
		}
	}
}

func (s *sink) rotateIfNeeded() error {
	now := time.Now()
	currentDay := now.YearDay()

	if currentDay == s.currentDay && s.currentFile != nil {
		return nil
	}

	if s.currentFile != nil {
		if err := s.currentFile.Close(); err != nil {
			return fmt.Errorf("closing log file: %w", err)
		}
	}

	logPath := s.getLogPath(now)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // configured log dir
	if err != nil {
		return fmt.Errorf("creating log file: %w", err)
	}

	s.currentFile = f
	s.currentDay = currentDay
	s.writer = io.MultiWriter(s.console, s.currentFile)
	s.cleanOldLogs()
	return nil
}

func (s *sink) getLogPath(now time.Time) string {
	return fmt.Sprintf("%s/%s.log", s.basePath, now.Format("2006-01-02"))
}

func (s *sink) startWorker() {
	defer s.wg.Done()
	for data := range s.ch {
		if s.basePath != "" {
			_ = s.rotateIfNeeded()
		}
		_, _ = s.writer.Write(data)
	}
}

func (s *sink) write(p []byte) {
	pb := make([]byte, len(p))
	copy(pb, p)
	s.ch <- pb
}

func (s *sink) close() error {
	s.closeOnce.Do(func() {
		close(s.ch)
		s.wg.Wait()
		if s.currentFile != nil {
			_ = s.currentFile.Sync()
			_ = s.currentFile.Close()
		}
	})
	return nil
}

// AsyncHandler is a slog.Handler printing "time | LEVEL | message k=v" lines.
type AsyncHandler struct {
	out      *sink
	attrs    []slog.Attr
	group    string
	logLevel slog.Leveler
}

func NewAsyncHandler(console io.Writer, basePath string, logLevel slog.Leveler) *AsyncHandler {
	return &AsyncHandler{
		out:      newSink(console, basePath),
		logLevel: logLevel,
	}
}

func (h *AsyncHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.logLevel.Level()
}

func (h *AsyncHandler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String()

	switch r.Level {
	case slog.LevelDebug:
		level = color.MagentaString(level)
	case slog.LevelInfo:
		level = color.BlueString(level)
	case slog.LevelWarn:
		level = color.YellowString(level)
	case slog.LevelError:
		level = color.RedString(level)
	case LevelFatal:
		level = color.HiRedString("FATAL")
	}

	var line strings.Builder
	fmt.Fprintf(&line, "%s | %-5s | %s",
		color.GreenString(r.Time.Format("2006-01-02T15:04:05")),
		level,
		color.CyanString(r.Message),
	)

	for _, attr := range h.attrs {
		line.WriteString(color.CyanString(" %s=%v", attr.Key, attr.Value))
	}

	r.Attrs(func(attr slog.Attr) bool {
		key := attr.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		line.WriteString(color.CyanString(" %s=%v", key, attr.Value))
		return true
	})

	line.WriteString("\n")
	h.out.write([]byte(line.String()))
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	newAttrs = append(newAttrs, h.attrs...)
	for _, attr := range attrs {
		if h.group != "" {
			attr.Key = h.group + "." + attr.Key
		}
		newAttrs = append(newAttrs, attr)
	}

	return &AsyncHandler{
		out:      h.out,
		attrs:    newAttrs,
		group:    h.group,
		logLevel: h.logLevel,
	}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &AsyncHandler{
		out:      h.out,
		attrs:    h.attrs,
		group:    group,
		logLevel: h.logLevel,
	}
}

func (h *AsyncHandler) Close() error {
	return h.out.close()
}

// ShutdownCallback flushes the handler; it satisfies event.Callable.
type ShutdownCallback struct {
	handler *AsyncHandler
}

func (lc *ShutdownCallback) Invoke(_ context.Context) error {
	return lc.handler.Close()
}

// Options configure Init.
type Options struct {
	Dir       string
	Level     string
	DebugMode bool
	Console   io.Writer
}

// ParseLevel maps debug/info/warn/error/fatal onto slog levels, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "fatal", "panic":
		return LevelFatal
	default:
		return slog.LevelInfo
	}
}

// Init installs the async handler as the slog default.
func Init(opts Options) *ShutdownCallback {
	level := ParseLevel(opts.Level)
	if opts.DebugMode {
		level = slog.LevelDebug
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	handler := NewAsyncHandler(console, opts.Dir, level)
	slog.SetDefault(slog.New(handler))
	slog.Debug("Logger initialized")
	return &ShutdownCallback{handler: handler}
}

func Debug(msg string, v ...interface{}) {
	slog.Debug(msg, v...)
}

func DebugF(msg string, v ...interface{}) {
	slog.Debug(fmt.Sprintf(msg, v...))
}

func Info(msg string, v ...interface{}) {
	slog.Info(msg, v...)
}

func InfoF(msg string, v ...interface{}) {
	slog.Info(fmt.Sprintf(msg, v...))
}

func Warn(msg string, v ...interface{}) {
	slog.Warn(msg, v...)
}

func WarnF(msg string, v ...interface{}) {
	slog.Warn(fmt.Sprintf(msg, v...))
}

func Error(msg string, v ...interface{}) {
	slog.Error(msg, v...)
}

func ErrorF(msg string, v ...interface{}) {
	slog.Error(fmt.Sprintf(msg, v...))
}

func Fatal(msg string, v ...interface{}) {
	slog.Log(context.Background(), LevelFatal, msg, v...)
}

func FatalF(msg string, v ...interface{}) {
	slog.Log(context.Background(), LevelFatal, fmt.Sprintf(msg, v...))
}
