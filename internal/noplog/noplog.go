// Package noplog provides the silent default logger shared by packages that
// accept an optional *slog.Logger. Logging stays off unless the caller
// wires a real handler in.
package noplog

import (
	"context"
	"log/slog"
)

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }

var nop = slog.New(nopHandler{})

// Logger returns a logger that discards every record.
func Logger() *slog.Logger { return nop }

// Or returns l when non-nil, the nop logger otherwise.
func Or(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return nop
}
