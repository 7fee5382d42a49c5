// Package logging renders import progress as "[15:04:05] message key=value" lines
// using log/slog, with a Success level between Info and Warn.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// LevelSuccess marks completed steps. It only changes how a line is presented.
const LevelSuccess = slog.Level(2)

// New returns a logger writing to w. Colour is applied only when useColor is set.
func New(w io.Writer, level slog.Level, useColor bool) *slog.Logger {
	return slog.New(NewHandler(w, level, useColor))
}

// Setup configures the default logger for the command line tool
func Setup(level string, noColor bool) *slog.Logger {
	logger := New(os.Stdout, ParseLevel(level), !noColor && !color.NoColor)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel converts a string log level to slog.Level
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "success":
		return LevelSuccess
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Success logs msg at LevelSuccess
func Success(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelSuccess, msg, args...)
}

// Handler is a slog.Handler producing single-line, timestamped console output
type Handler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Level
	attrs  []slog.Attr
	prefix string // Group prefix for attribute keys
	colors map[slog.Level]*color.Color
	color  bool
}

// NewHandler creates a console handler
func NewHandler(w io.Writer, level slog.Level, useColor bool) *Handler {
	colors := map[slog.Level]*color.Color{
		slog.LevelDebug: color.New(color.FgHiBlack),
		slog.LevelInfo:  color.New(color.FgWhite),
		LevelSuccess:    color.New(color.FgGreen),
		slog.LevelWarn:  color.New(color.FgYellow),
		slog.LevelError: color.New(color.FgRed, color.Bold),
	}
	for _, c := range colors {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return &Handler{
		mu:     &sync.Mutex{},
		w:      w,
		level:  level,
		colors: colors,
		color:  useColor,
	}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(r.Time.Format("15:04:05"))
	sb.WriteString("] ")

	msg := r.Message
	if !h.color {
		switch {
		case r.Level >= slog.LevelError:
			msg = "ERROR: " + msg
		case r.Level >= slog.LevelWarn:
			msg = "WARNING: " + msg
		}
	}
	sb.WriteString(h.colorFor(r.Level).Sprint(msg))

	for _, a := range h.attrs {
		writeAttr(&sb, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&sb, h.prefix, a)
		return true
	})
	sb.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	h2.attrs = append(h2.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		h2.attrs = append(h2.attrs, a)
	}
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

func (h *Handler) colorFor(level slog.Level) *color.Color {
	switch {
	case level >= slog.LevelError:
		return h.colors[slog.LevelError]
	case level >= slog.LevelWarn:
		return h.colors[slog.LevelWarn]
	case level >= LevelSuccess:
		return h.colors[LevelSuccess]
	case level >= slog.LevelInfo:
		return h.colors[slog.LevelInfo]
	default:
		return h.colors[slog.LevelDebug]
	}
}

func writeAttr(sb *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(sb, prefix+a.Key+".", ga)
		}
		return
	}
	sb.WriteString(" ")
	sb.WriteString(prefix)
	sb.WriteString(a.Key)
	sb.WriteString("=")
	sb.WriteString(quoteIfNeeded(a.Value.String()))
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\"=") {
		return strconv.Quote(s)
	}
	return s
}

// FormatElapsed renders a duration as hh:mm:ss
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}
