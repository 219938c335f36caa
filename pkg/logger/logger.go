// Package logger builds the go-kit logger of the orchestrator.
package logger

import (
	"io"
	stdlog "log"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

var levels = map[string]level.Option{
	"debug": level.AllowDebug(),
	"info":  level.AllowInfo(),
	"warn":  level.AllowWarn(),
	"error": level.AllowError(),
}

// New returns a logger writing logfmt, or JSON when format is "json", to w.
// Entries below lvl are dropped; an unknown lvl keeps everything. The
// standard library logger is redirected to the result.
func New(w io.Writer, format, lvl string) log.Logger {
	sw := log.NewSyncWriter(w)

	l := log.NewLogfmtLogger(sw)
	if format == "json" {
		l = log.NewJSONLogger(sw)
	}

	allow, ok := levels[lvl]
	if !ok {
		allow = level.AllowAll()
	}
	l = log.With(level.NewFilter(l, allow), "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	stdlog.SetOutput(log.NewStdlibAdapter(l))
	return l
}
