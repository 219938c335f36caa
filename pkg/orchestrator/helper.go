package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/request"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/response"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/server"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/session"
)

const requestBodyLimit = 10 << 20

// Dispatcher performs authenticated upstream calls.
type Dispatcher interface {
	Fetch(ctx context.Context, sess *session.Session, opts *request.Options) (*response.Envelope, error)
	GetFile(ctx context.Context, w http.ResponseWriter, sess *session.Session, opts *request.Options)
}

// Helper is handed to every route handler. It fetches upstream data on
// behalf of the session of the request and writes the answer.
type Helper struct {
	w      http.ResponseWriter
	r      *http.Request
	srv    *Server
	logger log.Logger
}

// HandlerFunc serves a route with a Helper.
type HandlerFunc func(h *Helper)

// Request returns the inbound request.
func (h *Helper) Request() *http.Request { return h.r }

// ResponseWriter returns the writer of the inbound request.
func (h *Helper) ResponseWriter() http.ResponseWriter { return h.w }

// Session returns the session of the request. Requests on ignored paths get
// an empty session.
func (h *Helper) Session() *session.Session {
	if s, ok := session.FromContext(h.r.Context()); ok {
		return s
	}
	return &session.Session{}
}

// User returns the authenticated user.
func (h *Helper) User() string {
	return session.User(h.r.Context())
}

// Attributes returns the CAS attributes of the user.
func (h *Helper) Attributes() map[string]interface{} {
	s, _ := session.FromContext(h.r.Context())
	return s.FlattenedAttributes()
}

// Fetch calls the upstream API. It may be called from several goroutines
// of one handler; they share the cached credentials of the session.
func (h *Helper) Fetch(opts *request.Options) (*response.Envelope, error) {
	return h.srv.dispatcher.Fetch(h.r.Context(), h.Session(), opts)
}

// GetFile streams an upstream document as the response.
func (h *Helper) GetFile(opts *request.Options) {
	h.srv.dispatcher.GetFile(h.r.Context(), h.w, h.Session(), opts)
}

// QueryParameters returns the parameters of the request URL.
func (h *Helper) QueryParameters() url.Values {
	return h.r.URL.Query()
}

// RequestParameters merges the query parameters with the fields of a JSON
// or form body, the body taking precedence. Parameters given once are
// strings, repeated ones are []string.
func (h *Helper) RequestParameters() (map[string]interface{}, error) {
	params := flatten(h.QueryParameters())
	if h.r.Body == nil || h.r.Method == http.MethodGet {
		return params, nil
	}

	mediaType, _, _ := mime.ParseMediaType(h.r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var body map[string]interface{}
		if err := json.NewDecoder(io.LimitReader(h.r.Body, requestBodyLimit)).Decode(&body); err != nil && err != io.EOF {
			return nil, request.WrapError(request.KindUpstream, http.StatusBadRequest, errors.Wrap(err, "invalid JSON body"))
		}
		for k, v := range body {
			params[k] = v
		}
	case "application/x-www-form-urlencoded", "multipart/form-data":
		h.r.Body = http.MaxBytesReader(h.w, h.r.Body, requestBodyLimit)
		if err := h.r.ParseForm(); err != nil {
			return nil, request.WrapError(request.KindUpstream, http.StatusBadRequest, errors.Wrap(err, "invalid form body"))
		}
		for k, v := range flatten(h.r.PostForm) {
			params[k] = v
		}
	}
	return params, nil
}

func flatten(values url.Values) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		if len(v) == 1 {
			out[k] = v[0]
			continue
		}
		out[k] = v
	}
	return out
}

// ResponseOption changes how HandleResponse writes a payload.
type ResponseOption func(*responseOptions)

type responseOptions struct {
	format  bool
	headers http.Header
}

// WithoutFormatting writes the payload without the response formatter.
func WithoutFormatting() ResponseOption {
	return func(o *responseOptions) { o.format = false }
}

// WithHeaders adds headers to the response.
func WithHeaders(headers http.Header) ResponseOption {
	return func(o *responseOptions) {
		for k, v := range headers {
			o.headers[k] = v
		}
	}
}

// HandleResponse writes payload, or the part of it selected by the range
// of the request, formatted by the configured response formatter.
func (h *Helper) HandleResponse(payload interface{}, opts ...ResponseOption) {
	o := responseOptions{format: true, headers: http.Header{}}
	for _, opt := range opts {
		opt(&o)
	}
	for k, v := range o.headers {
		h.w.Header()[http.CanonicalHeaderKey(k)] = v
	}

	rng := response.ParseRange(h.r.Header.Get("Range"), h.r.URL.Query().Get("range"))
	win, err := response.ApplyRange(rng, payload)
	if win.ContentRange != "" {
		h.w.Header().Set("Content-Range", win.ContentRange)
	}
	if err != nil {
		h.HandleError(err)
		return
	}

	data := win.Payload
	if o.format {
		data = response.Format(h.r.Context(), h.srv.responseFormatter, data)
	}
	h.write(win.Status, data)
}

// HandleError writes err with its status, 500 unless it carries one.
func (h *Helper) HandleError(err error) {
	e := request.AsError(err)
	status := e.HTTPStatusCode()
	level.Warn(h.logger).Log("msg", "request failed", "status", status, "err", err)

	h.write(status, response.Format(h.r.Context(), h.srv.errorFormatter, e.Message))
}

func (h *Helper) write(status int, data interface{}) {
	var (
		body        []byte
		contentType = "application/json; charset=utf-8"
	)
	switch d := data.(type) {
	case string:
		body, contentType = []byte(d), "text/plain; charset=utf-8"
	case []byte:
		body, contentType = d, "application/octet-stream"
	default:
		var err error
		if body, err = json.Marshal(d); err != nil {
			level.Error(h.logger).Log("msg", "failed to encode response", "err", err)
			http.Error(h.w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
	}

	if h.w.Header().Get("Content-Type") == "" {
		h.w.Header().Set("Content-Type", contentType)
	}
	h.w.WriteHeader(status)
	if _, err := h.w.Write(body); err != nil {
		level.Debug(h.logger).Log("msg", "failed to write response", "err", err)
	}
}

func (s *Server) helper(w http.ResponseWriter, r *http.Request) *Helper {
	return &Helper{
		w:      w,
		r:      r,
		srv:    s,
		logger: log.With(s.logger, "request", middleware.GetReqID(r.Context()), "sn", server.SerialFromContext(r.Context()), "user", session.User(r.Context())),
	}
}
