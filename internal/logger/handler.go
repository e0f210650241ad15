package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// newHandler picks the slog.Handler for the configured format. The color
// format (and the default) degrades to the plain text handler when output
// is not an interactive terminal.
func newHandler(format string, level slog.Level, output io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "json":
		return slog.NewJSONHandler(output, opts)
	case "text":
		return slog.NewTextHandler(output, opts)
	}
	if isTerminal(output) {
		return newColorHandler(output, level)
	}
	return slog.NewTextHandler(output, opts)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// colorHandler renders records as "HH:MM:SS.mmm LEVEL msg key=value ...",
// coloring only the level tag. It accumulates With-attrs and group prefixes
// itself rather than delegating to another handler, so derived loggers cost
// one slice copy and rendering stays a single buffered write.
type colorHandler struct {
	mu     *sync.Mutex // shared across WithAttrs/WithGroup clones
	out    io.Writer
	level  slog.Level
	attrs  []slog.Attr // keys already qualified with the prefix they were added under
	prefix string      // dotted group path applied to record-time attr keys
}

func newColorHandler(out io.Writer, level slog.Level) *colorHandler {
	return &colorHandler{mu: &sync.Mutex{}, out: out, level: level}
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(levelTag(r.Level))
	b.WriteByte(' ')
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&b, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.prefix, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		nh.attrs = append(nh.attrs, slog.Attr{Key: qualify(h.prefix, a.Key), Value: a.Value})
	}
	return &nh
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.prefix = qualify(h.prefix, name)
	return &nh
}

// writeAttr appends one " key=value" pair, flattening group values into
// dotted keys.
func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			writeAttr(b, qualify(prefix, a.Key), ga)
		}
		return
	}
	fmt.Fprintf(b, " %s=%v", qualify(prefix, a.Key), v)
}

func qualify(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func levelTag(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return color.RedString("ERROR")
	case l >= slog.LevelWarn:
		return color.YellowString("WARN")
	case l >= slog.LevelInfo:
		return color.GreenString("INFO")
	default:
		return color.CyanString("DEBUG")
	}
}
