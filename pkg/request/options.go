package request

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Masked replaces credentials in logs.
const Masked = "********"

// SessionIDHeader carries the upstream API session identifier.
const SessionIDHeader = "x-sessionid"

var schemeRegexp = regexp.MustCompile(`^.+://`)

// BasicAuth holds the credentials sent with HTTP basic authentication.
type BasicAuth struct {
	User string
	Pass string
}

// Options describes one outbound call.
type Options struct {
	Method string
	// URL is either absolute or relative to the configured API URL.
	URL string
	// Body is JSON encoded unless it is a string, a []byte or an io.Reader.
	Body    interface{}
	Headers http.Header
	Auth    *BasicAuth
}

// Clone returns a copy that can be modified without affecting o.
func (o *Options) Clone() *Options {
	c := *o
	if o.Headers != nil {
		c.Headers = o.Headers.Clone()
	}
	if o.Auth != nil {
		a := *o.Auth
		c.Auth = &a
	}
	return &c
}

// ResolveURL prefixes relative URLs with base.
func (o *Options) ResolveURL(base string) string {
	if schemeRegexp.MatchString(o.URL) {
		return o.URL
	}
	return base + o.URL
}

// HTTPMethod returns the method, defaulting to GET.
func (o *Options) HTTPMethod() string {
	if o.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(o.Method)
}

// MergedHeaders returns the JSON defaults overridden by the caller's headers.
func (o *Options) MergedHeaders() http.Header {
	h := Headers(JSON, "")
	for k, v := range o.Headers {
		h[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
	}
	return h
}

// EncodeBody returns a reader over the serialized body, or nil when there is none.
func (o *Options) EncodeBody() (io.Reader, error) {
	switch b := o.Body.(type) {
	case nil:
		return nil, nil
	case io.Reader:
		return b, nil
	case string:
		return strings.NewReader(b), nil
	case []byte:
		return bytes.NewReader(b), nil
	case json.RawMessage:
		return bytes.NewReader(b), nil
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode request body")
		}
		return bytes.NewReader(raw), nil
	}
}

// LogKeyvals returns go-kit key/value pairs describing o. Credentials are
// masked unless clear is set.
func (o *Options) LogKeyvals(clear bool) []interface{} {
	kv := []interface{}{"method", o.HTTPMethod(), "url", o.URL}
	if o.Auth != nil {
		user, pass := o.Auth.User, o.Auth.Pass
		if !clear {
			user, pass = Masked, Masked
		}
		kv = append(kv, "auth.user", user, "auth.pass", pass)
	}
	for _, name := range []string{SessionIDHeader, "Authorization"} {
		if v := o.Headers.Get(name); v != "" {
			if !clear {
				v = Masked
			}
			kv = append(kv, "header."+strings.ToLower(name), v)
		}
	}
	return kv
}
