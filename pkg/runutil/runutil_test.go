// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

package runutil

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/efficientgo/core/testutil"
	pkgerrors "github.com/pkg/errors"
)

type loggerCapturer struct {
	calls int
}

func (lc *loggerCapturer) Log(keyvals ...interface{}) error {
	lc.calls++
	return nil
}

// trackingCloser succeeds once, then reports being closed already, then
// fails.
type trackingCloser struct {
	io.Reader
	closes int
}

func (c *trackingCloser) Close() error {
	c.closes++
	switch c.closes {
	case 1:
		return nil
	case 2:
		return pkgerrors.Wrap(os.ErrClosed, "wrapped")
	default:
		return errors.New("broken pipe")
	}
}

func TestCloseWithLogOnErr(t *testing.T) {
	lc := &loggerCapturer{}
	c := &trackingCloser{Reader: strings.NewReader("body")}

	CloseWithLogOnErr(lc, c, "close %d", 1)
	CloseWithLogOnErr(lc, c, "close %d", 2)
	testutil.Equals(t, 0, lc.calls)

	CloseWithLogOnErr(lc, c, "close %d", 3)
	testutil.Equals(t, 1, lc.calls)
}

func TestExhaustCloseWithLogOnErr(t *testing.T) {
	r := strings.NewReader("remaining bytes")
	c := &trackingCloser{Reader: r}
	ExhaustCloseWithLogOnErr(&loggerCapturer{}, c, "close")
	testutil.Equals(t, 0, r.Len())
	testutil.Equals(t, 1, c.closes)
}

func TestCloseAll(t *testing.T) {
	var order []string
	closer := func(name string, err error) io.Closer {
		return CloserFunc(func() error {
			order = append(order, name)
			return err
		})
	}

	testutil.Ok(t, CloseAll(closer("a", nil), nil, closer("b", os.ErrClosed)))
	testutil.Equals(t, []string{"a", "b"}, order)

	order = nil
	err := CloseAll(closer("a", errors.New("first")), closer("b", nil), closer("c", errors.New("second")))
	testutil.NotOk(t, err)
	testutil.Equals(t, []string{"a", "b", "c"}, order)
	testutil.Assert(t, strings.Contains(err.Error(), "first"))
	testutil.Assert(t, strings.Contains(err.Error(), "second"))
}

func TestExhaustCloseRequestBodyHandler(t *testing.T) {
	body := &trackingCloser{Reader: strings.NewReader("unread")}
	h := ExhaustCloseRequestBodyHandler(&loggerCapturer{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		testutil.Ok(t, r.Body.Close())
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Body = body
	h.ServeHTTP(httptest.NewRecorder(), req)
	testutil.Equals(t, 1, body.closes)
}
