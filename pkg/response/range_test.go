package response

import (
	"net/http"
	"testing"

	"github.com/efficientgo/core/testutil"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/request"
)

func intp(i int) *int { return &i }

func TestParseRange(t *testing.T) {
	for _, tc := range []struct {
		header, query string
		want          *Range
	}{
		{header: "index=1-2", want: &Range{Unit: "index", Start: 1, End: intp(2)}},
		{header: "items 5-", want: &Range{Unit: "items", Start: 5}},
		{header: "ITEMS=-3", want: &Range{Unit: "ITEMS", End: intp(3)}},
		{header: "index=0-0", want: &Range{Unit: "index", End: intp(0)}},
		{header: "index=1-2", query: "index=3-4", want: &Range{Unit: "index", Start: 1, End: intp(2)}},
		{query: "index=3-4", want: &Range{Unit: "index", Start: 3, End: intp(4)}},
		{header: "12-14"},
		{header: "index"},
		{},
	} {
		t.Run(tc.header+"|"+tc.query, func(t *testing.T) {
			testutil.Equals(t, tc.want, ParseRange(tc.header, tc.query))
		})
	}
}

func TestApplyRange(t *testing.T) {
	for _, tc := range []struct {
		name         string
		header       string
		status       int
		payload      []interface{}
		contentRange string
		errString    string
	}{
		{
			name:         "partial",
			header:       "index=1-2",
			status:       http.StatusPartialContent,
			payload:      []interface{}{"b", "c"},
			contentRange: "index 1-2/4",
		},
		{
			name:    "whole window",
			header:  "index=0-3",
			status:  http.StatusOK,
			payload: []interface{}{"a", "b", "c", "d"},
		},
		{
			name:    "open end from zero",
			header:  "index=0-",
			status:  http.StatusOK,
			payload: []interface{}{"a", "b", "c", "d"},
		},
		{
			name:         "open end",
			header:       "index=2-",
			status:       http.StatusPartialContent,
			payload:      []interface{}{"c", "d"},
			contentRange: "index 2-3/4",
		},
		{
			name:         "single item",
			header:       "index=3-3",
			status:       http.StatusPartialContent,
			payload:      []interface{}{"d"},
			contentRange: "index 3-3/4",
		},
		{
			name:         "past the end",
			header:       "index=0-6",
			status:       http.StatusRequestedRangeNotSatisfiable,
			contentRange: "index */4",
			errString:    "Cannot get range 0-6 of 4",
		},
		{
			name:         "start after end",
			header:       "index=3-1",
			status:       http.StatusRequestedRangeNotSatisfiable,
			contentRange: "index */4",
			errString:    "Cannot get range 3-1 of 4",
		},
		{
			name:         "start past size",
			header:       "index=4-",
			status:       http.StatusRequestedRangeNotSatisfiable,
			contentRange: "index */4",
			errString:    "Cannot get range 4-3 of 4",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			source := []interface{}{"a", "b", "c", "d"}
			payload := map[string]interface{}{"data": source}

			w, err := ApplyRange(ParseRange(tc.header, ""), payload)
			testutil.Equals(t, tc.status, w.Status)
			testutil.Equals(t, tc.contentRange, w.ContentRange)
			if tc.errString != "" {
				testutil.NotOk(t, err)
				e := request.AsError(err)
				testutil.Equals(t, request.KindRange, e.Kind)
				testutil.Equals(t, http.StatusRequestedRangeNotSatisfiable, e.HTTPStatusCode())
				testutil.Equals(t, tc.errString, e.MessageString())
				return
			}
			testutil.Ok(t, err)
			testutil.Equals(t, map[string]interface{}{"data": tc.payload}, w.Payload)

			// The source collection is left untouched and ranging again
			// yields the same window.
			testutil.Equals(t, []interface{}{"a", "b", "c", "d"}, source)
			again, err := ApplyRange(ParseRange(tc.header, ""), payload)
			testutil.Ok(t, err)
			testutil.Equals(t, w, again)
		})
	}
}

func TestApplyRangeIdempotent(t *testing.T) {
	const size = 7
	source := make([]int, size)
	for i := range source {
		source[i] = i * 10
	}
	payload := map[string]interface{}{"items": source}

	for start := 0; start < size; start++ {
		for end := start; end < size; end++ {
			rng := &Range{Unit: "items", Start: start, End: intp(end)}
			first, err := ApplyRange(rng, payload)
			testutil.Ok(t, err)
			second, err := ApplyRange(rng, payload)
			testutil.Ok(t, err)
			testutil.Equals(t, first, second)

			got := first.Payload.(map[string]interface{})["items"].([]int)
			testutil.Equals(t, end-start+1, len(got))
			testutil.Equals(t, start*10, got[0])
		}
	}
	for i, v := range source {
		testutil.Equals(t, i*10, v)
	}
}

func TestApplyRangeShapes(t *testing.T) {
	rng := &Range{Unit: "index", Start: 1, End: intp(1)}
	env := &Envelope{Shape: ShapeArray, Data: []interface{}{"a", "b", "c"}, Meta: Meta{Status: 200}}

	t.Run("envelope", func(t *testing.T) {
		w, err := ApplyRange(rng, env)
		testutil.Ok(t, err)
		testutil.Equals(t, http.StatusPartialContent, w.Status)
		got := w.Payload.(*Envelope)
		testutil.Equals(t, []interface{}{"b"}, got.Data)
		testutil.Equals(t, 200, got.Meta.Status)
		testutil.Equals(t, []interface{}{"a", "b", "c"}, env.Data)
	})

	t.Run("nested envelope", func(t *testing.T) {
		w, err := ApplyRange(rng, map[string]interface{}{"items": env})
		testutil.Ok(t, err)
		testutil.Equals(t, "index 1-1/3", w.ContentRange)
		got := w.Payload.(map[string]interface{})["items"].(*Envelope)
		testutil.Equals(t, []interface{}{"b"}, got.Data)
	})

	for _, tc := range []struct {
		name    string
		payload interface{}
	}{
		{name: "several keys", payload: map[string]interface{}{"a": []interface{}{1, 2}, "b": []interface{}{3}}},
		{name: "not an array", payload: map[string]interface{}{"a": "text"}},
		{name: "object envelope", payload: &Envelope{Shape: ShapeObject, Fields: map[string]interface{}{"a": 1}}},
		{name: "raw", payload: "text"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w, err := ApplyRange(rng, tc.payload)
			testutil.Ok(t, err)
			testutil.Equals(t, http.StatusOK, w.Status)
			testutil.Equals(t, tc.payload, w.Payload)
		})
	}

	w, err := ApplyRange(nil, env)
	testutil.Ok(t, err)
	testutil.Equals(t, http.StatusOK, w.Status)
}
