// Package logging configures the process-wide charmbracelet logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"golang.org/x/term"
)

// Options controls where log output goes.
type Options struct {
	// Level is a charmbracelet level name: debug, info, warn or error.
	Level string
	// File overrides the log file path. Empty means the user cache dir.
	File string
	// Verbose mirrors log output to stderr when it is a terminal.
	Verbose bool
}

// DefaultFile returns the log file path under the user cache dir.
func DefaultFile() (string, error) {
	dir, err := gap.NewScope(gap.User, "recite").CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "recite.log"), nil
}

// Setup points the default logger at a file and returns its closer.
// When the file cannot be opened, logging is discarded rather than failing
// the command.
func Setup(opts Options) (func() error, error) {
	log.SetOutput(io.Discard)

	level := log.InfoLevel
	if opts.Level != "" {
		l, err := log.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = l
	}
	log.SetLevel(level)
	log.SetReportTimestamp(true)
	log.SetTimeFormat(time.RFC3339)

	path := opts.File
	if path == "" {
		p, err := DefaultFile()
		if err != nil {
			return func() error { return nil }, nil //nolint:nilerr
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec
		return func() error { return nil }, nil //nolint:nilerr
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
	if err != nil {
		return func() error { return nil }, nil //nolint:nilerr
	}

	var out io.Writer = f
	if opts.Verbose && term.IsTerminal(int(os.Stderr.Fd())) {
		out = io.MultiWriter(f, os.Stderr)
	}
	log.SetOutput(out)
	log.Debug("logging initialized", "path", path, "level", level)
	return f.Close, nil
}
