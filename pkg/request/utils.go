package request

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// DataType selects a header preset.
type DataType string

const (
	JSON DataType = "JSON"
	CSV  DataType = "CSV"
	PDF  DataType = "PDF"
)

// Headers returns the headers matching t. filename is only used for PDF
// and must not carry an extension.
func Headers(t DataType, filename string) http.Header {
	h := http.Header{}
	switch DataType(strings.ToUpper(string(t))) {
	case CSV:
		h.Set("Content-Type", "text/csv; charset=utf-8")
		h.Set("Accept", "application/json; charset=utf-8")
	case PDF:
		h.Set("Content-Type", "application/pdf")
		h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.pdf", filename))
	default:
		h.Set("Content-Type", "application/json; charset=utf-8")
		h.Set("Accept", "application/json; charset=utf-8")
	}
	return h
}

func Base64Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func Base64Decode(s string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// BuildURL appends params to u as a query string. Parameters are sorted by
// name; values are escaped unless encode is false.
func BuildURL(u string, params map[string]string, encode bool) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		v := params[name]
		if encode {
			v = strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
		}
		pairs = append(pairs, name+"="+v)
	}
	return u + "?" + strings.Join(pairs, "&")
}
