// Package netclient builds the outbound HTTP client shared by the provider
// and chat clients. Proxy selection is explicit; process environment is read
// only when no proxy mode is configured and is never modified.
package netclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http/httpproxy"
	"golang.org/x/net/proxy"
)

const Direct = "direct"

type Config struct {
	// Proxy is "" (honour HTTP(S)_PROXY), "direct", a socks5:// or http(s):// URL,
	// or a bare host:port taken as SOCKS5.
	Proxy               string
	NoProxy             string        // comma separated hosts, domains or CIDRs that bypass Proxy
	Timeout             time.Duration // whole request, 0 = none
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.TLSHandshakeTimeout <= 0 {
		c.TLSHandshakeTimeout = 10 * time.Second
	}
	return c
}

func New(cfg Config) (*http.Client, error) {
	cfg = cfg.withDefaults()

	base := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:           base.DialContext,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		MaxIdleConns:          32,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}

	spec := strings.TrimSpace(cfg.Proxy)
	switch {
	case spec == "":
		transport.Proxy = http.ProxyFromEnvironment
	case strings.EqualFold(spec, Direct):
		transport.Proxy = nil
	default:
		u, err := parseProxy(spec)
		if err != nil {
			return nil, err
		}
		switch u.Scheme {
		case "http", "https":
			pc := httpproxy.Config{HTTPProxy: u.String(), HTTPSProxy: u.String(), NoProxy: cfg.NoProxy}
			fn := pc.ProxyFunc()
			transport.Proxy = func(r *http.Request) (*url.URL, error) { return fn(r.URL) }
		case "socks5", "socks5h":
			dialer, err := proxy.FromURL(u, base)
			if err != nil {
				return nil, fmt.Errorf("socks proxy %s: %w", u.Host, err)
			}
			if cfg.NoProxy != "" {
				perHost := proxy.NewPerHost(dialer, base)
				perHost.AddFromString(cfg.NoProxy)
				dialer = perHost
			}
			transport.DialContext = contextDialer(dialer)
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}, nil
}

func parseProxy(spec string) (*url.URL, error) {
	if !strings.Contains(spec, "://") {
		spec = "socks5://" + spec
	}
	u, err := url.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse proxy %q: %w", spec, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy %q has no host", spec)
	}
	return u, nil
}

func contextDialer(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(network, addr)
	}
}

// Describe returns the proxy setting with credentials removed, for logs.
func Describe(cfg Config) string {
	spec := strings.TrimSpace(cfg.Proxy)
	switch {
	case spec == "":
		return "environment"
	case strings.EqualFold(spec, Direct):
		return Direct
	}
	u, err := parseProxy(spec)
	if err != nil {
		return "invalid"
	}
	u.User = nil
	return u.String()
}
