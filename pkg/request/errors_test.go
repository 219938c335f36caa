package request

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/efficientgo/core/testutil"
	"github.com/pkg/errors"
)

func TestNewError(t *testing.T) {
	for _, tc := range []struct {
		name    string
		message string
		expect  interface{}
	}{
		{name: "plain string", message: "Unauthorized", expect: "Unauthorized"},
		{name: "json object", message: `{"error":"nope"}`, expect: map[string]interface{}{"error": "nope"}},
		{name: "json array", message: `["a"]`, expect: []interface{}{"a"}},
		{name: "json scalar stays text", message: `404`, expect: "404"},
		{name: "empty", message: "", expect: ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := NewError(KindUpstream, http.StatusNotFound, tc.message)
			testutil.Equals(t, tc.expect, err.Message)
			testutil.Equals(t, http.StatusNotFound, err.HTTPStatusCode())
		})
	}
}

func TestStatusCode(t *testing.T) {
	testutil.Equals(t, http.StatusInternalServerError, StatusCode(fmt.Errorf("boom")))
	testutil.Equals(t, http.StatusUnauthorized, StatusCode(NewError(KindAuth, http.StatusUnauthorized, "Invalid proxy ticket")))

	wrapped := errors.Wrap(NewError(KindRange, http.StatusRequestedRangeNotSatisfiable, "x"), "context")
	testutil.Equals(t, http.StatusRequestedRangeNotSatisfiable, StatusCode(wrapped))
}

func TestAsError(t *testing.T) {
	testutil.Assert(t, AsError(nil) == nil, "nil error must stay nil")

	cause := fmt.Errorf("dial tcp: connection refused")
	e := AsError(cause)
	testutil.Equals(t, http.StatusInternalServerError, e.StatusCode)
	testutil.Equals(t, "dial tcp: connection refused", e.Message)
	testutil.Assert(t, errors.Is(e, cause), "cause must be unwrappable")

	orig := NewError(KindAuth, http.StatusUnauthorized, "Unauthorized")
	testutil.Assert(t, AsError(orig) == orig, "an *Error must be returned as is")
}

func TestErrorString(t *testing.T) {
	err := NewError(KindUpstream, http.StatusBadRequest, `{"field":"id"}`)
	testutil.Equals(t, `upstream error (400): {"field":"id"}`, err.Error())
}
