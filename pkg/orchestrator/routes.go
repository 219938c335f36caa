package orchestrator

import (
	"io"
	"net/http"
	"net/url"
	"regexp"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/config"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/request"
)

var placeholderRegexp = regexp.MustCompile(`\{(\w+)\}`)

// ProxyRoutes serves configured routes by forwarding them to the upstream
// API with the credentials of the session.
func ProxyRoutes(routes []config.Route) func(r *Routes) {
	return func(r *Routes) {
		for _, route := range routes {
			method := route.Method
			if method == "" {
				method = http.MethodGet
			}
			r.Handle(method, route.Path, proxy(route))
		}
	}
}

func proxy(route config.Route) HandlerFunc {
	return func(h *Helper) {
		opts, err := upstreamOptions(route, h.Request())
		if err != nil {
			h.HandleError(err)
			return
		}

		if route.File {
			h.GetFile(opts)
			return
		}

		env, err := h.Fetch(opts)
		if err != nil {
			h.HandleError(err)
			return
		}
		if route.Name != "" {
			h.HandleResponse(map[string]interface{}{route.Name: env})
			return
		}
		h.HandleResponse(env)
	}
}

// upstreamOptions fills the placeholders of the route upstream with the
// URL parameters of r and forwards its query and body.
func upstreamOptions(route config.Route, r *http.Request) (*request.Options, error) {
	target := placeholderRegexp.ReplaceAllStringFunc(route.Upstream, func(m string) string {
		name := placeholderRegexp.FindStringSubmatch(m)[1]
		return url.PathEscape(chi.URLParam(r, name))
	})
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	opts := &request.Options{
		Method: r.Method,
		URL:    target,
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		opts.Headers = http.Header{"Content-Type": []string{ct}}
	}
	if r.Body != nil && r.Method != http.MethodGet {
		body, err := io.ReadAll(io.LimitReader(r.Body, requestBodyLimit))
		if err != nil {
			return nil, request.WrapError(request.KindTransport, http.StatusBadRequest, errors.Wrap(err, "read request body"))
		}
		if len(body) > 0 {
			opts.Body = body
		}
	}
	return opts, nil
}
