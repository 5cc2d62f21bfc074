package nowplaying

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/genricoloni/tabcast/internal/protocol"
	"go.uber.org/zap"
)

// FileWriter keeps a text file in sync with the current song, for stream
// overlays and status bars that read a file
type FileWriter struct {
	logger *zap.Logger
	path   string
	format *Format
	mu     sync.Mutex
}

// NewFileWriter creates a writer for path. An invalid format is logged and
// replaced by a marker text so the file still shows that output is running.
func NewFileWriter(logger *zap.Logger, path, format string) *FileWriter {
	f, err := ParseFormat(format)
	if err != nil {
		logger.Warn("Invalid output format", zap.String("format", format), zap.Error(err))
		f = RawFormat("invalid format")
	}
	logger.Debug("Enabled output to file", zap.String("path", path))
	return &FileWriter{logger: logger, path: path, format: f}
}

// Write renders info into the file. Nothing playing empties it.
func (w *FileWriter) Write(info *protocol.PlayInfo) error {
	var content string
	if info != nil {
		content = strings.TrimRight(w.format.Render(info), " \t\r\n")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(w.path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}

// OnChange adapts Write to a Manager callback, logging failures
func (w *FileWriter) OnChange(info *protocol.PlayInfo) {
	if err := w.Write(info); err != nil {
		w.logger.Warn("Couldn't write to file", zap.Error(err))
	}
}
