package response

import (
	"context"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/request"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/session"
)

// Formatter reshapes a payload before it is written to the client.
type Formatter interface {
	Format(ctx context.Context, data interface{}) interface{}
}

// FormatterFunc adapts a function to Formatter.
type FormatterFunc func(ctx context.Context, data interface{}) interface{}

func (f FormatterFunc) Format(ctx context.Context, data interface{}) interface{} {
	return f(ctx, data)
}

const (
	FormatterNone      = "none"
	FormatterResponses = "responses"
	FormatterStandard  = "standard"
)

// NewFormatter returns the built-in formatter called name. The empty name
// and FormatterNone return nil, which passes data through.
func NewFormatter(name string) (Formatter, error) {
	switch name {
	case "", FormatterNone:
		return nil, nil
	case FormatterResponses:
		return FormatterFunc(formatResponses), nil
	case FormatterStandard:
		return FormatterFunc(formatStandard), nil
	default:
		return nil, request.ConfigError("unknown formatter %q", name)
	}
}

// Format applies f to data. A nil f returns data unchanged.
func Format(ctx context.Context, f Formatter, data interface{}) interface{} {
	if f == nil {
		return data
	}
	return f.Format(ctx, data)
}

// formatResponses turns a map of envelopes keyed by service into a map of
// {...meta, data}. The data of an envelope is its data field when it has
// one, the whole payload otherwise.
func formatResponses(_ context.Context, data interface{}) interface{} {
	services, ok := data.(map[string]interface{})
	if !ok {
		return data
	}
	out := make(map[string]interface{}, len(services))
	for name, v := range services {
		meta, payload := split(v)
		if p, ok := payload.(map[string]interface{}); ok {
			if d, ok := p["data"]; ok && d != nil {
				payload = d
			}
		}
		meta["data"] = payload
		out[name] = meta
	}
	return out
}

// formatStandard wraps a map of envelopes keyed by service together with
// the attributes of the authenticated user.
func formatStandard(ctx context.Context, data interface{}) interface{} {
	sess, _ := session.FromContext(ctx)
	out := map[string]interface{}{
		"auth":   sess.FlattenedAttributes(),
		"isAuth": true,
	}

	services, _ := data.(map[string]interface{})
	if len(services) == 0 {
		out["responses"] = map[string]interface{}{
			"count":    0,
			"debug":    map[string]interface{}{"elapsedMs": 0},
			"messages": []interface{}{},
			"status":   200,
		}
		return out
	}

	responses := make(map[string]interface{}, len(services))
	for name, v := range services {
		meta, payload := split(v)
		meta["data"] = payload
		responses[name] = meta
	}
	out["responses"] = responses
	return out
}

// split separates the metadata of an envelope, or of a map carrying a meta
// field, from its payload. Neither v nor its fields are modified.
func split(v interface{}) (map[string]interface{}, interface{}) {
	switch e := v.(type) {
	case *Envelope:
		return e.Meta.Map(), e.Payload()
	case map[string]interface{}:
		meta := map[string]interface{}{}
		switch m := e["meta"].(type) {
		case Meta:
			meta = m.Map()
		case map[string]interface{}:
			for k, mv := range m {
				meta[k] = mv
			}
		}
		payload := make(map[string]interface{}, len(e))
		for k, pv := range e {
			if k != "meta" {
				payload[k] = pv
			}
		}
		return meta, payload
	default:
		return map[string]interface{}{}, v
	}
}
