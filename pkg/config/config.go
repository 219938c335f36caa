// Package config loads the orchestrator configuration.
package config

import (
	"net/http"
	"time"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/authorize"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/response"
)

// AuthPattern selects the authentication strategy of matching upstream URLs.
type AuthPattern = authorize.Pattern

// Config is the whole orchestrator configuration. The zero value of each
// field is replaced by Defaults before a file is applied.
type Config struct {
	APIURL         string        `yaml:"apiUrl"`
	SessionURL     string        `yaml:"sessionUrl"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`

	CustomHeaders []response.CustomHeader `yaml:"customHeaders"`
	AuthPatterns  []AuthPattern           `yaml:"authPatterns"`

	ResponseFormatter string `yaml:"responseFormatter"`
	ErrorFormatter    string `yaml:"errorFormatter"`

	EnableAuth bool   `yaml:"enableAuth"`
	NocasUser  string `yaml:"nocasUser"`
	NocasPwd   string `yaml:"nocasPwd"`

	EnableCORS     bool     `yaml:"enableCORS"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	AllowedMethods []string `yaml:"allowedMethods"`

	// FatalOnPanic stops the process when a handler panics.
	FatalOnPanic bool `yaml:"fatalOnPanic"`
	Handle404    bool `yaml:"handle404"`
	// RateLimit is the minimum interval between two requests of a user.
	RateLimit time.Duration `yaml:"rateLimit"`

	Cookies Cookies `yaml:"cookies"`
	CAS     CAS     `yaml:"cas"`
	Log     Log     `yaml:"log"`
	Cache   Cache   `yaml:"cache"`
	Routes  []Route `yaml:"routes"`
}

type Cookies struct {
	MaxAge   time.Duration `yaml:"maxAge"`
	Name     string        `yaml:"name"`
	Path     string        `yaml:"path"`
	HTTPOnly bool          `yaml:"httpOnly"`
	Secure   bool          `yaml:"secure"`
}

type CAS struct {
	ServerPath    string   `yaml:"serverPath"`
	TargetService string   `yaml:"targetService"`
	Ignore        []string `yaml:"ignore"`
	Paths         CASPaths `yaml:"paths"`
	FromAjax      FromAjax `yaml:"fromAjax"`
}

type CASPaths struct {
	Validate        string `yaml:"validate"`
	ServiceValidate string `yaml:"serviceValidate"`
	Proxy           string `yaml:"proxy"`
	Login           string `yaml:"login"`
	Logout          string `yaml:"logout"`
	ProxyCallback   string `yaml:"proxyCallback"`
}

// FromAjax is the answer given to unauthenticated requests carrying Header.
type FromAjax struct {
	Header string `yaml:"header"`
	Status int    `yaml:"status"`
}

type Log struct {
	Level                      string `yaml:"level"`
	Format                     string `yaml:"format"`
	ShowCredentialsAsClearText bool   `yaml:"showCredentialsAsClearText"`
}

// Cache configures the session store and the upstream GET cache. Memory is
// used when no Memcached server is listed.
type Cache struct {
	Memcached []string      `yaml:"memcached"`
	Expire    time.Duration `yaml:"expire"`
	// Upstream enables caching of successful upstream GET answers.
	Upstream    bool          `yaml:"upstream"`
	UpstreamTTL time.Duration `yaml:"upstreamTtl"`
}

// Route proxies an inbound chi pattern to an upstream path template.
// {name} placeholders in Upstream are filled with URL parameters. A named
// route answers {name: envelope} so that the responses formatter can key it.
type Route struct {
	Name     string `yaml:"name"`
	Method   string `yaml:"method"`
	Path     string `yaml:"path"`
	Upstream string `yaml:"upstream"`
	File     bool   `yaml:"file"`
}

// Defaults returns the configuration used for every field a file omits.
func Defaults() *Config {
	return &Config{
		RequestTimeout:    30 * time.Second,
		ResponseFormatter: response.FormatterNone,
		ErrorFormatter:    response.FormatterNone,
		EnableAuth:        true,
		NocasUser:         "nocas",
		NocasPwd:          "nocas",
		EnableCORS:        true,
		AllowedMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions, http.MethodPut, http.MethodDelete},
		FatalOnPanic:      true,
		Handle404:         true,
		Cookies: Cookies{
			MaxAge:   14400000 * time.Millisecond,
			Name:     "udes-node-orchestrator",
			Path:     "/",
			HTTPOnly: true,
		},
		CAS: CAS{
			Paths: CASPaths{
				Validate:        "/validate",
				ServiceValidate: "/proxyValidate",
				Proxy:           "/proxy",
				Login:           "/login",
				Logout:          "/logout",
				ProxyCallback:   "/proxyCallback",
			},
			FromAjax: FromAjax{
				Header: "x-client-ajax",
				Status: http.StatusUnauthorized,
			},
		},
		Log: Log{
			Level:  "error",
			Format: "logfmt",
		},
		Cache: Cache{
			Expire:      14400000 * time.Millisecond,
			UpstreamTTL: time.Minute,
		},
	}
}

// LoginURL is where browsers without a session are sent.
func (c *Config) LoginURL() string {
	if c.CAS.ServerPath == "" {
		return ""
	}
	return c.CAS.ServerPath + c.CAS.Paths.Login
}

// DefaultAuthPattern is the strategy used for every URL when no pattern is
// configured.
func (c *Config) DefaultAuthPattern() AuthPattern {
	p := authorize.DefaultPattern(c.EnableAuth, c.SessionURL)
	p.TargetService = c.CAS.TargetService
	return p
}
