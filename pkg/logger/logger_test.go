package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/efficientgo/core/testutil"
	"github.com/go-kit/log/level"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json", "info")

	level.Debug(l).Log("msg", "hidden")
	level.Info(l).Log("msg", "shown", "user", "jdoe")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	testutil.Equals(t, 1, len(lines))

	var entry map[string]interface{}
	testutil.Ok(t, json.Unmarshal([]byte(lines[0]), &entry))
	testutil.Equals(t, "shown", entry["msg"])
	testutil.Equals(t, "jdoe", entry["user"])
	testutil.Equals(t, "info", entry["level"])
	testutil.Assert(t, entry["ts"] != nil, "entries are timestamped")
	testutil.Assert(t, entry["caller"] != nil, "entries carry their caller")
}

func TestNewLogfmt(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "logfmt", "error")

	level.Warn(l).Log("msg", "hidden")
	level.Error(l).Log("msg", "failed")

	testutil.Assert(t, strings.Contains(buf.String(), "level=error"), buf.String())
	testutil.Assert(t, strings.Contains(buf.String(), "msg=failed"), buf.String())
	testutil.Assert(t, !strings.Contains(buf.String(), "hidden"), buf.String())
}

func TestNewUnknownLevelKeepsAll(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "logfmt", "all")

	level.Debug(l).Log("msg", "detail")
	testutil.Assert(t, strings.Contains(buf.String(), "msg=detail"), buf.String())
}
