// Package response normalizes upstream answers into envelopes and serves
// item ranges of them.
package response

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// Shape is the kind of document an upstream answered with.
type Shape int

const (
	ShapeArray Shape = iota
	ShapeObject
	ShapeRaw
)

func (s Shape) String() string {
	switch s {
	case ShapeArray:
		return "array"
	case ShapeObject:
		return "object"
	default:
		return "raw"
	}
}

// CustomHeader copies an upstream response header into the metadata under
// Property, or under Header when Property is empty.
type CustomHeader struct {
	Header   string `yaml:"header"`
	Property string `yaml:"property"`
}

// Meta describes the upstream call that produced an envelope.
type Meta struct {
	Status  int
	Elapsed time.Duration
	// Custom holds one entry per configured header, nil when the header
	// was missing.
	Custom map[string]interface{}
}

// MetaData builds the metadata of resp.
func MetaData(resp *http.Response, elapsed time.Duration, headers []CustomHeader) Meta {
	m := Meta{
		Status:  resp.StatusCode,
		Elapsed: elapsed,
		Custom:  make(map[string]interface{}, len(headers)),
	}
	for _, h := range headers {
		name := h.Property
		if name == "" {
			name = h.Header
		}
		var v interface{}
		if values := resp.Header.Values(h.Header); len(values) > 0 {
			v = values[0]
		}
		m.Custom[name] = v
	}
	return m
}

// Map returns the JSON form of m. Custom properties sit next to debug and
// status.
func (m Meta) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(m.Custom)+2)
	for k, v := range m.Custom {
		out[k] = v
	}
	out["debug"] = map[string]interface{}{"elapsedMs": m.Elapsed.Milliseconds()}
	out["status"] = m.Status
	return out
}

func (m Meta) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Map())
}

// Envelope is the normalized result of a successful fetch.
type Envelope struct {
	Shape Shape
	// Data is the array of an array envelope or the body of a raw one.
	Data interface{}
	// Fields are the top-level fields of an object envelope.
	Fields map[string]interface{}
	Meta   Meta
}

// Data shapes body: JSON arrays become {data, meta}, JSON objects keep
// their fields next to meta, anything else is kept as a string under data.
func Data(body []byte, meta Meta) *Envelope {
	switch v := decodeJSON(body).(type) {
	case []interface{}:
		return &Envelope{Shape: ShapeArray, Data: v, Meta: meta}
	case map[string]interface{}:
		return &Envelope{Shape: ShapeObject, Fields: v, Meta: meta}
	default:
		return &Envelope{Shape: ShapeRaw, Data: string(body), Meta: meta}
	}
}

// Payload returns the envelope without its metadata.
func (e *Envelope) Payload() map[string]interface{} {
	if e.Shape == ShapeObject {
		out := make(map[string]interface{}, len(e.Fields))
		for k, v := range e.Fields {
			out[k] = v
		}
		delete(out, "meta")
		return out
	}
	return map[string]interface{}{"data": e.Data}
}

// Map returns the JSON form of e.
func (e *Envelope) Map() map[string]interface{} {
	out := e.Payload()
	out["meta"] = e.Meta
	return out
}

func (e *Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Map())
}

// decodeJSON returns the decoded document, or nil when body is not a
// single JSON array or object.
func decodeJSON(body []byte) interface{} {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil
	}
	return v
}
