package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	golog "github.com/ipfs/go-log/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	handlerOpts = &slog.HandlerOptions{Level: slog.LevelInfo}
	Logger      = slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
	mu          sync.Mutex
	logWriter   io.Writer = os.Stderr
)

// libp2pLevels keeps the substrate's own subsystems from flooding the log file.
var libp2pLevels = map[string]string{
	"swarm2":    "error",
	"relay":     "info",
	"autorelay": "info",
	"autonat":   "warn",
	"pubsub":    "warn",
	"dht":       "warn",
	"holepunch": "info",
}

func InitWithWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logWriter = w
	Logger = slog.New(slog.NewTextHandler(logWriter, handlerOpts))
}

// Init sends all records to a rotating file. An empty path keeps stderr.
func Init(path string, maxSizeMB int) {
	if path == "" {
		InitWithWriter(os.Stderr)
		return
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	InitWithWriter(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   false,
	})
}

func SetLevel(level slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	handlerOpts.Level = level
	if logWriter != nil {
		Logger = slog.New(slog.NewTextHandler(logWriter, handlerOpts))
	}
}

// ParseLevel accepts debug, info, warn and error (case-insensitive).
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}

// QuietLibp2p applies the default subsystem levels to libp2p's go-log loggers.
// Unknown subsystem names only mean that component was not linked in.
func QuietLibp2p() {
	for subsystem, level := range libp2pLevels {
		_ = golog.SetLogLevel(subsystem, level)
	}
}

func current() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return Logger
}

func Debug(msg string, detail any) {
	current().Debug(msg, "detail", detail)
}

func Info(msg string, detail any) {
	current().Info(msg, "detail", detail)
}

func Warn(msg string, detail any) {
	current().Warn(msg, "detail", detail)
}

func Error(msg string, detail any) {
	current().Error(msg, "detail", detail)
}

// Record writes msg with pre-built attributes at level.
func Record(level slog.Level, msg string, attrs ...slog.Attr) {
	current().LogAttrs(context.Background(), level, msg, attrs...)
}
