// Package logging builds the diagnostics logger. Diagnostics always go to
// stderr; stdout is reserved for result rows.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// ColorMode controls colorized diagnostics.
type ColorMode string

const (
	// ColorAuto colors only when the output is a terminal and NO_COLOR is unset.
	ColorAuto ColorMode = "auto"
	ColorOn   ColorMode = "on"
	ColorOff  ColorMode = "off"
)

// ParseColorMode parses "auto", "on" or "off".
func ParseColorMode(s string) (ColorMode, error) {
	switch m := ColorMode(s); m {
	case ColorAuto, ColorOn, ColorOff:
		return m, nil
	}
	return "", fmt.Errorf("invalid color mode %q (want auto, on or off)", s)
}

// Config contains logger configuration.
type Config struct {
	// Level sets the logging level (debug, info, warn, error).
	Level string
	// Color selects colorized output. Empty means ColorAuto.
	Color ColorMode
	// Output sets the output writer (defaults to os.Stderr).
	Output io.Writer
}

// DefaultConfig returns the configuration used when no flags are given.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Color:  ColorAuto,
		Output: os.Stderr,
	}
}

// New creates a console logger with the given configuration.
func New(cfg Config) zerolog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	console := zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: "15:04:05",
		NoColor:    !UseColor(cfg.Color, output),
	}

	return zerolog.New(console).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

func parseLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

// fder is implemented by *os.File.
type fder interface {
	Fd() uintptr
}

// UseColor resolves mode against w.
func UseColor(mode ColorMode, w io.Writer) bool {
	switch mode {
	case ColorOn:
		return true
	case ColorOff:
		return false
	}

	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(fder)
	return ok && term.IsTerminal(int(f.Fd()))
}
