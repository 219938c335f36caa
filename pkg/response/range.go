package response

import (
	"fmt"
	"math"
	"net/http"
	"reflect"
	"regexp"
	"strconv"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/request"
)

var rangeRegexp = regexp.MustCompile(`(?i)([a-z]+)\W*(\d*)-(\d*)`)

// Range selects items of the array held by a payload.
type Range struct {
	Unit  string
	Start int
	// End is inclusive; nil selects up to the last item.
	End *int
}

// ParseRange reads the Range header, falling back to the range query
// parameter. It returns nil when neither holds a recognizable range.
func ParseRange(header, query string) *Range {
	raw := header
	if raw == "" {
		raw = query
	}
	m := rangeRegexp.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}

	r := &Range{Unit: m[1], Start: atoi(m[2])}
	if m[3] != "" {
		end := atoi(m[3])
		r.End = &end
	}
	return r
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return math.MaxInt
	}
	return n
}

// Apply resolves r against a collection of size items. full reports that
// the window covers the whole collection.
func (r *Range) Apply(size int) (start, end int, full bool, err error) {
	start, end = r.Start, size-1
	if r.End != nil {
		end = *r.End
	}
	if start > end || start >= size || end >= size {
		return start, end, false, request.NewError(request.KindRange, http.StatusRequestedRangeNotSatisfiable,
			fmt.Sprintf("Cannot get range %d-%d of %d", start, end, size))
	}
	return start, end, end-start == size-1, nil
}

// Window is the outcome of applying a range to a payload.
type Window struct {
	Payload      interface{}
	Status       int
	ContentRange string
}

// ApplyRange serves the part of payload selected by rng. Only payloads
// holding a single array can be ranged: a map with one key whose value is
// an array or an array envelope, or an array envelope itself. Everything
// else, like a nil rng, is served whole. payload is never modified.
func ApplyRange(rng *Range, payload interface{}) (Window, error) {
	whole := Window{Payload: payload, Status: http.StatusOK}
	if rng == nil {
		return whole, nil
	}

	items, rebuild, ok := rangeable(payload)
	if !ok {
		return whole, nil
	}

	size := items.Len()
	start, end, full, err := rng.Apply(size)
	if err != nil {
		return Window{Status: http.StatusRequestedRangeNotSatisfiable, ContentRange: fmt.Sprintf("%s */%d", rng.Unit, size)}, err
	}
	if full {
		return whole, nil
	}

	part := reflect.MakeSlice(items.Type(), end-start+1, end-start+1)
	reflect.Copy(part, items.Slice(start, end+1))
	return Window{
		Payload:      rebuild(part.Interface()),
		Status:       http.StatusPartialContent,
		ContentRange: fmt.Sprintf("%s %d-%d/%d", rng.Unit, start, end, size),
	}, nil
}

// rangeable finds the array of payload and returns a function building a
// copy of payload holding another array in its place.
func rangeable(payload interface{}) (reflect.Value, func(interface{}) interface{}, bool) {
	switch p := payload.(type) {
	case *Envelope:
		if p.Shape != ShapeArray {
			return reflect.Value{}, nil, false
		}
		items := reflect.ValueOf(p.Data)
		if items.Kind() != reflect.Slice {
			return reflect.Value{}, nil, false
		}
		return items, func(part interface{}) interface{} {
			c := *p
			c.Data = part
			return &c
		}, true

	case map[string]interface{}:
		if len(p) != 1 {
			return reflect.Value{}, nil, false
		}
		for key, value := range p {
			var (
				items   reflect.Value
				rebuild = func(part interface{}) interface{} { return part }
			)
			if env, ok := value.(*Envelope); ok {
				var found bool
				if items, rebuild, found = rangeable(env); !found {
					return reflect.Value{}, nil, false
				}
			} else if items = reflect.ValueOf(value); items.Kind() != reflect.Slice {
				return reflect.Value{}, nil, false
			}
			return items, func(part interface{}) interface{} {
				return map[string]interface{}{key: rebuild(part)}
			}, true
		}
	}
	return reflect.Value{}, nil, false
}
