package client

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/epimonitor/manager/pkg/types"
)

// LevelCritical is the slog level mirrored as CRITICAL. A CRITICAL record
// finishes the session with errors on the manager.
const LevelCritical = slog.Level(12)

// mirrorTimeout bounds a single log delivery.
const mirrorTimeout = 10 * time.Second

// ReplaceLevel is a slog ReplaceAttr hook that names LevelCritical
// "CRITICAL" in local output.
func ReplaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey && len(groups) == 0 {
		if level, ok := a.Value.Any().(slog.Level); ok && level >= LevelCritical {
			a.Value = slog.StringValue("CRITICAL")
		}
	}
	return a
}

// managerLevel maps a slog level onto the manager's four levels. ok is
// false for records below INFO.
func managerLevel(l slog.Level) (level types.Level, ok bool) {
	switch {
	case l >= LevelCritical:
		return types.LevelCritical, true
	case l >= slog.LevelError:
		return types.LevelError, true
	case l >= slog.LevelWarn:
		return types.LevelWarning, true
	case l >= slog.LevelInfo:
		return types.LevelInfo, true
	}
	return "", false
}

// mirrorHandler writes every record to a local handler and sends records at
// INFO and above to the manager. Delivery failures go to the fallback writer.
type mirrorHandler struct {
	iface  *Interface
	local  slog.Handler
	attrs  []slog.Attr
	groups []string
}

func newMirrorHandler(iface *Interface, local slog.Handler) *mirrorHandler {
	return &mirrorHandler{iface: iface, local: local}
}

func (h *mirrorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo || h.local.Enabled(ctx, level)
}

func (h *mirrorHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.local.Enabled(ctx, r.Level) {
		if err := h.local.Handle(ctx, r); err != nil {
			fmt.Fprintf(h.iface.fallback, "local log handler: %v\n", err)
		}
	}

	level, ok := managerLevel(r.Level)
	if !ok {
		return nil
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
	defer cancel()
	if err := h.iface.appendLog(sendCtx, level, h.message(r)); err != nil {
		fmt.Fprintf(h.iface.fallback, "Failed to send log to API: %v\n", err)
	}
	return nil
}

// message renders the record message followed by its attributes as
// key=value pairs.
func (h *mirrorHandler) message(r slog.Record) string {
	var b strings.Builder
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		appendAttr(&b, "", a)
	}
	prefix := strings.Join(h.groups, ".")
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, prefix, a)
		return true
	})
	return b.String()
}

func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" && key != "" {
		key = prefix + "." + key
	} else if key == "" {
		key = prefix
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			appendAttr(b, key, ga)
		}
		return
	}
	fmt.Fprintf(b, " %s=%v", key, a.Value)
}

func (h *mirrorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.local = h.local.WithAttrs(attrs)

	prefix := strings.Join(h.groups, ".")
	nh.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a = slog.Attr{Key: prefix + "." + a.Key, Value: a.Value}
		}
		nh.attrs = append(nh.attrs, a)
	}
	return &nh
}

func (h *mirrorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.local = h.local.WithGroup(name)
	nh.groups = append(append([]string(nil), h.groups...), name)
	return &nh
}
