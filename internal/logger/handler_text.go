package logger

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	colorReset   = "\033[0m"
	colorRed     = "\033[31m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorMagenta = "\033[35m"
	colorCyan    = "\033[36m"
	colorGray    = "\033[90m"
)

const textTimeLayout = "2006-01-02 15:04:05.000"

// lockTag collects the lock identity of a record. It is printed as one
// bracketed segment ahead of the message, e.g. "[L12 IX {41: Database} FIFO]",
// instead of four key=value pairs.
type lockTag struct {
	locker   string
	mode     string
	resource string
	policy   string
}

func (t *lockTag) take(a slog.Attr) bool {
	switch a.Key {
	case KeyLockerID:
		t.locker = "L" + a.Value.String()
	case KeyLockMode:
		t.mode = a.Value.String()
	case KeyResource:
		t.resource = a.Value.String()
	case KeyPolicy:
		t.policy = a.Value.String()
	default:
		return false
	}
	return true
}

func (t lockTag) empty() bool {
	return t == lockTag{}
}

func (t lockTag) appendTo(buf []byte) []byte {
	buf = append(buf, '[')
	first := true
	for _, part := range [...]string{t.locker, t.mode, t.resource, t.policy} {
		if part == "" {
			continue
		}
		if !first {
			buf = append(buf, ' ')
		}
		buf = append(buf, part...)
		first = false
	}
	return append(buf, ']')
}

// ColorTextHandler writes one line per record:
//
//	[2026-01-02 15:04:05.000] [DEBUG] [L12 X {1: Global}] Lock wait timed out timeout_ms=20
//
// Attributes inside a group are written as group.key and never feed the lock
// tag.
type ColorTextHandler struct {
	opts     *slog.HandlerOptions
	w        io.Writer
	mu       *sync.Mutex
	useColor bool

	// tag and attrs hold what WithAttrs added, already split.
	tag    lockTag
	attrs  []slog.Attr
	prefix string
}

// NewColorTextHandler creates a text handler writing to w.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, useColor bool) *ColorTextHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &ColorTextHandler{
		opts:     opts,
		w:        w,
		mu:       &sync.Mutex{},
		useColor: useColor,
	}
}

func (h *ColorTextHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *ColorTextHandler) Handle(_ context.Context, r slog.Record) error {
	tag := h.tag
	var rest []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		a.Value = a.Value.Resolve()
		if h.prefix != "" || !tag.take(a) {
			rest = append(rest, a)
		}
		return true
	})

	buf := make([]byte, 0, 128)
	buf = append(buf, '[')
	buf = r.Time.AppendFormat(buf, textTimeLayout)
	buf = append(buf, "] ["...)
	buf = h.appendLevel(buf, r.Level)
	buf = append(buf, "] "...)

	if !tag.empty() {
		buf = h.colorize(buf, colorMagenta, func(b []byte) []byte { return tag.appendTo(b) })
		buf = append(buf, ' ')
	}
	buf = append(buf, r.Message...)

	for _, a := range h.attrs {
		buf = h.appendAttr(buf, "", a)
	}
	for _, a := range rest {
		buf = h.appendAttr(buf, h.prefix, a)
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *ColorTextHandler) appendLevel(buf []byte, level slog.Level) []byte {
	var name, color string
	switch {
	case level < slog.LevelInfo:
		name, color = "DEBUG", colorGray
	case level < slog.LevelWarn:
		name, color = "INFO", colorGreen
	case level < slog.LevelError:
		name, color = "WARN", colorYellow
	default:
		name, color = "ERROR", colorRed
	}
	return h.colorize(buf, color, func(b []byte) []byte { return append(b, name...) })
}

func (h *ColorTextHandler) colorize(buf []byte, color string, body func([]byte) []byte) []byte {
	if !h.useColor {
		return body(buf)
	}
	buf = append(buf, color...)
	buf = body(buf)
	return append(buf, colorReset...)
}

func (h *ColorTextHandler) appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	if a.Equal(slog.Attr{}) {
		return buf
	}
	a.Value = a.Value.Resolve()

	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			buf = h.appendAttr(buf, prefix, ga)
		}
		return buf
	}

	buf = append(buf, ' ')
	buf = h.colorize(buf, colorCyan, func(b []byte) []byte {
		b = append(b, prefix...)
		return append(b, a.Key...)
	})
	buf = append(buf, '=')
	return appendValue(buf, a.Value)
}

func appendValue(buf []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if s == "" || strings.ContainsAny(s, " \t\n\"=") {
			return strconv.AppendQuote(buf, s)
		}
		return append(buf, s...)
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'f', 3, 64)
	case slog.KindBool:
		return strconv.AppendBool(buf, v.Bool())
	case slog.KindDuration:
		return append(buf, v.Duration().String()...)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339)
	default:
		return append(buf, v.String()...)
	}
}

// WithAttrs returns a handler that adds attrs to every record. Lock keys
// outside a group go to the lock tag.
func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := h.clone()
	for _, a := range attrs {
		a.Value = a.Value.Resolve()
		if h.prefix == "" && h2.tag.take(a) {
			continue
		}
		if h.prefix != "" {
			a = slog.Group(strings.TrimSuffix(h.prefix, "."), a)
		}
		h2.attrs = append(h2.attrs, a)
	}
	return h2
}

// WithGroup returns a handler that qualifies later keys with name.
func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.prefix = h.prefix + name + "."
	return h2
}

func (h *ColorTextHandler) clone() *ColorTextHandler {
	return &ColorTextHandler{
		opts:     h.opts,
		w:        h.w,
		mu:       h.mu,
		useColor: h.useColor,
		tag:      h.tag,
		attrs:    append([]slog.Attr(nil), h.attrs...),
		prefix:   h.prefix,
	}
}
