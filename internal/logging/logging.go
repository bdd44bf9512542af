// Package logging wraps logrus with the compact single-line formatter and
// process-lifecycle helpers the rest of the codebase expects.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config controls the global logger.
type Config struct {
	Level string // debug, info, warn, error (default: info)
	// Output defaults to os.Stdout when nil.
	Output io.Writer
}

// SetDefaults fills unset fields with their defaults.
func (c *Config) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

var root = logrus.New()

// Init configures the package-level root logger. Call once at process start.
func Init(cfg Config) error {
	cfg.SetDefaults()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	root.SetLevel(level)
	root.SetOutput(out)
	root.SetFormatter(&compactFormatter{})
	root.SetReportCaller(true)
	return nil
}

// New returns a fresh entry carrying the given component field, for
// injection into a kernel component constructor. Components log through
// the returned *logrus.Entry rather than the package-level root so that
// tests can swap in a buffer-backed logger.
func New(component string) *logrus.Entry {
	return root.WithField("component", component)
}

// Root returns the process-global logger, for callers outside the kernel
// (CLI, API) that don't carry a component-scoped entry.
func Root() *logrus.Logger {
	return root
}

// compactFormatter renders "[LEVEL] pkg/file.go:line message  field=value ...".
type compactFormatter struct{}

func (f *compactFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var sb strings.Builder

	sb.WriteString("[")
	sb.WriteString(strings.ToUpper(entry.Level.String()))
	sb.WriteString("] ")

	if entry.Caller != nil {
		sb.WriteString(shortCaller(entry.Caller.File))
		sb.WriteString(":")
		fmt.Fprintf(&sb, "%d ", entry.Caller.Line)
	}

	sb.WriteString(entry.Message)

	for k, v := range entry.Data {
		fmt.Fprintf(&sb, "  %s=%v", k, v)
	}

	sb.WriteString("\n")
	return []byte(sb.String()), nil
}

func shortCaller(file string) string {
	dir, base := filepath.Split(file)
	parent := filepath.Base(strings.TrimSuffix(dir, string(os.PathSeparator)))
	if parent == "." || parent == "" {
		return base
	}
	return parent + "/" + base
}
