package logging

import (
	"log/slog"
	"sort"
	"strings"

	"terralink/internal/logger"
)

// Log writes a structured line: [MODULE] action=... key=value ...
func Log(module, action string, fields map[string]string) {
	write(slog.LevelInfo, module, action, fields)
}

// Debug is Log at debug level, for chatty per-message records.
func Debug(module, action string, fields map[string]string) {
	write(slog.LevelDebug, module, action, fields)
}

func write(level slog.Level, module, action string, fields map[string]string) {
	logger.Record(level, Format(module, action, fields))
}

// Format renders the line Log would write.
func Format(module, action string, fields map[string]string) string {
	if module == "" {
		module = "APP"
	}
	parts := []string{}
	if action != "" {
		parts = append(parts, "action="+action)
	}
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			val := strings.ReplaceAll(fields[k], " ", "_")
			parts = append(parts, k+"="+val)
		}
	}
	if len(parts) == 0 {
		return "[" + module + "]"
	}
	return "[" + module + "] " + strings.Join(parts, " ")
}
