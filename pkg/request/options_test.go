package request

import (
	"io/ioutil"
	"net/http"
	"strings"
	"testing"

	"github.com/efficientgo/core/testutil"
)

func TestResolveURL(t *testing.T) {
	for _, tc := range []struct {
		url, expect string
	}{
		{url: "/posts/1", expect: "https://api.example.com/posts/1"},
		{url: "http://other.example.com/x", expect: "http://other.example.com/x"},
		{url: "ftp://files/x", expect: "ftp://files/x"},
	} {
		o := &Options{URL: tc.url}
		testutil.Equals(t, tc.expect, o.ResolveURL("https://api.example.com"))
	}
}

func TestEncodeBody(t *testing.T) {
	for _, tc := range []struct {
		name   string
		body   interface{}
		expect string
	}{
		{name: "structured", body: map[string]interface{}{"a": 1}, expect: `{"a":1}`},
		{name: "string", body: "raw text", expect: "raw text"},
		{name: "bytes", body: []byte("raw bytes"), expect: "raw bytes"},
		{name: "reader", body: strings.NewReader("stream"), expect: "stream"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r, err := (&Options{Body: tc.body}).EncodeBody()
			testutil.Ok(t, err)
			b, err := ioutil.ReadAll(r)
			testutil.Ok(t, err)
			testutil.Equals(t, tc.expect, string(b))
		})
	}

	r, err := (&Options{}).EncodeBody()
	testutil.Ok(t, err)
	testutil.Assert(t, r == nil, "no body expected")
}

func TestMergedHeaders(t *testing.T) {
	o := &Options{Headers: http.Header{"content-type": []string{"text/plain"}, "X-Extra": []string{"1"}}}
	h := o.MergedHeaders()
	testutil.Equals(t, "text/plain", h.Get("Content-Type"))
	testutil.Equals(t, "application/json; charset=utf-8", h.Get("Accept"))
	testutil.Equals(t, "1", h.Get("X-Extra"))
}

func TestCloneDoesNotShare(t *testing.T) {
	o := &Options{Headers: http.Header{}, Auth: &BasicAuth{User: "u"}}
	c := o.Clone()
	c.Headers.Set("X", "1")
	c.Auth.Pass = "secret"
	testutil.Equals(t, "", o.Headers.Get("X"))
	testutil.Equals(t, "", o.Auth.Pass)
}

func TestLogKeyvalsMasksCredentials(t *testing.T) {
	o := &Options{
		Method:  "post",
		URL:     "/posts",
		Auth:    &BasicAuth{User: "jdoe", Pass: "PT-123"},
		Headers: http.Header{"X-Sessionid": []string{"abc"}},
	}

	masked := toMap(o.LogKeyvals(false))
	testutil.Equals(t, Masked, masked["auth.user"])
	testutil.Equals(t, Masked, masked["auth.pass"])
	testutil.Equals(t, Masked, masked["header.x-sessionid"])
	testutil.Equals(t, "POST", masked["method"])

	clear := toMap(o.LogKeyvals(true))
	testutil.Equals(t, "jdoe", clear["auth.user"])
	testutil.Equals(t, "PT-123", clear["auth.pass"])
}

func TestHeaders(t *testing.T) {
	testutil.Equals(t, "text/csv; charset=utf-8", Headers(CSV, "").Get("Content-Type"))
	testutil.Equals(t, "attachment; filename=report.pdf", Headers("pdf", "report").Get("Content-Disposition"))
	testutil.Equals(t, "application/json; charset=utf-8", Headers("", "").Get("Accept"))
}

func TestBuildURL(t *testing.T) {
	params := map[string]string{"b": "x y", "a": "1&2"}
	testutil.Equals(t, "/search?a=1%262&b=x%20y", BuildURL("/search", params, true))
	testutil.Equals(t, "/search?a=1&2&b=x y", BuildURL("/search", params, false))
}

func TestBase64(t *testing.T) {
	enc := Base64Encode("user:pass")
	testutil.Equals(t, "dXNlcjpwYXNz", enc)
	dec, err := Base64Decode(enc)
	testutil.Ok(t, err)
	testutil.Equals(t, "user:pass", dec)
}

func toMap(kv []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	return m
}
