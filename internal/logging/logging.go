// Package logging sets up the extension's slog pipeline: console or file
// text output, the current map and round on every record, and optional OTel
// and Graylog sinks.
package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

// LogFilePath builds the per-session log file path, e.g.
// logs/ctf_extension.20240601_200000.log.
func LogFilePath(logsDir, extensionName string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", extensionName, sessionStart.Format("20060102_150405")),
	)
}
