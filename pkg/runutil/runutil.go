// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

// Package runutil closes upstream bodies and long-lived resources without
// losing their errors.
//
// Response bodies must be drained before closing for the connection to be
// reused:
//
//	defer runutil.ExhaustCloseWithLogOnErr(logger, resp.Body, "close upstream body")
package runutil

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/efficientgo/core/merrors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	pkgerrors "github.com/pkg/errors"
)

// CloseWithLogOnErr closes closer and logs the error, if any. Closing an
// already closed resource is not reported.
func CloseWithLogOnErr(logger log.Logger, closer io.Closer, format string, a ...interface{}) {
	err := closer.Close()
	if err == nil || errors.Is(err, os.ErrClosed) {
		return
	}
	if logger == nil {
		logger = log.NewLogfmtLogger(os.Stderr)
	}
	level.Warn(logger).Log("msg", "detected close error", "err", pkgerrors.Wrap(err, fmt.Sprintf(format, a...)))
}

// ExhaustCloseWithLogOnErr drains r before closing it.
func ExhaustCloseWithLogOnErr(logger log.Logger, r io.ReadCloser, format string, a ...interface{}) {
	if _, err := io.Copy(io.Discard, r); err != nil && logger != nil {
		level.Warn(logger).Log("msg", "failed to exhaust reader, connection may not be reused", "err", err)
	}
	CloseWithLogOnErr(logger, r, format, a...)
}

// CloseAll closes every closer, in order, and returns all their errors.
func CloseAll(closers ...io.Closer) error {
	merr := merrors.New()
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			merr.Add(err)
		}
	}
	return merr.Err()
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

func (f CloserFunc) Close() error { return f() }

// ExhaustCloseRequestBodyHandler drains and closes the inbound request body
// once next returns.
func ExhaustCloseRequestBodyHandler(logger log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := r.Body
		r.Body = io.NopCloser(r.Body)
		next.ServeHTTP(w, r)
		ExhaustCloseWithLogOnErr(logger, b, "close request body")
	})
}
