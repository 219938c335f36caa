package config

import (
	"bytes"
	"errors"
	"io"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gopkg.in/yaml.v3"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/request"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/response"
)

// Load reads the YAML file at path over Defaults and validates the result.
// An empty path validates the defaults alone.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, request.ConfigError("failed to read configuration file %q: %v", path, err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data over cfg. Unknown fields are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return request.ConfigError("failed to parse configuration: %v", err)
	}
	return nil
}

// Validate checks c, compiling auth patterns and resolving formatters. Every
// failure is a configuration error.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.APIURL, validation.Required, is.URL),
		validation.Field(&c.SessionURL, is.URL),
		validation.Field(&c.RequestTimeout, validation.Min(0)),
		validation.Field(&c.RateLimit, validation.Min(0)),
		validation.Field(&c.CustomHeaders, validation.Each(validation.By(validateCustomHeader))),
		validation.Field(&c.AuthPatterns, validation.Each(validation.By(validateAuthPattern))),
		validation.Field(&c.NocasUser, validation.When(!c.EnableAuth, validation.Required)),
		validation.Field(&c.CAS, validation.When(c.EnableAuth, validation.By(validateCAS))),
		validation.Field(&c.Cookies, validation.By(validateCookies)),
		validation.Field(&c.Log, validation.By(validateLog)),
		validation.Field(&c.Routes, validation.Each(validation.By(validateRoute))),
	)
	if err != nil {
		return request.ConfigError("invalid configuration: %v", err)
	}

	for _, name := range []string{c.ResponseFormatter, c.ErrorFormatter} {
		if _, err := response.NewFormatter(name); err != nil {
			return err
		}
	}
	return nil
}

func validateCustomHeader(v interface{}) error {
	h := v.(response.CustomHeader)
	return validation.ValidateStruct(&h, validation.Field(&h.Header, validation.Required))
}

func validateAuthPattern(v interface{}) error {
	p := v.(AuthPattern)
	if err := validation.ValidateStruct(&p,
		validation.Field(&p.Path, validation.Required),
		validation.Field(&p.Plugin, validation.Required),
		validation.Field(&p.SessionURL, is.URL),
	); err != nil {
		return err
	}
	_, err := p.Compile()
	return err
}

func validateCAS(v interface{}) error {
	c := v.(CAS)
	return validation.ValidateStruct(&c,
		validation.Field(&c.ServerPath, validation.Required, is.URL),
		validation.Field(&c.TargetService, validation.Required),
		validation.Field(&c.FromAjax, validation.By(func(v interface{}) error {
			a := v.(FromAjax)
			return validation.ValidateStruct(&a, validation.Field(&a.Status, validation.Min(100), validation.Max(599)))
		})),
	)
}

func validateCookies(v interface{}) error {
	c := v.(Cookies)
	return validation.ValidateStruct(&c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.Path, validation.Required),
	)
}

func validateLog(v interface{}) error {
	l := v.(Log)
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error", "all")),
		validation.Field(&l.Format, validation.In("logfmt", "json")),
	)
}

func validateRoute(v interface{}) error {
	r := v.(Route)
	return validation.ValidateStruct(&r,
		validation.Field(&r.Method, validation.In("GET", "POST", "PUT", "DELETE", "PATCH")),
		validation.Field(&r.Path, validation.Required),
		validation.Field(&r.Upstream, validation.Required),
	)
}
