package network

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/xkilldash9x/gatewalk/internal/config"
)

// Defaults applied when the corresponding config value is zero.
const (
	DefaultDialTimeout           = 10 * time.Second
	DefaultKeepAliveInterval     = 15 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 60 * time.Second
	DefaultRequestTimeout        = 90 * time.Second
	DefaultIdleConnTimeout       = 90 * time.Second
	DefaultMaxIdleConnsPerHost   = 4
)

// ClientConfig holds the configuration for the HTTP client and transport layers.
type ClientConfig struct {
	IgnoreTLSErrors       bool
	RequestTimeout        time.Duration
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration
	MaxIdleConnsPerHost   int
	ForceHTTP2            bool
	ProxyURL              *url.URL
	Logger                *zap.Logger
}

// ClientConfigFrom translates the network section of the application config.
func ClientConfigFrom(cfg config.NetworkConfig, logger *zap.Logger) (*ClientConfig, error) {
	cc := &ClientConfig{
		IgnoreTLSErrors:     cfg.IgnoreTLSErrors,
		RequestTimeout:      cfg.Timeout,
		DialTimeout:         cfg.DialTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		ForceHTTP2:          true,
		Logger:              logger,
	}
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid network.proxy %q: %w", cfg.Proxy, err)
		}
		cc.ProxyURL = u
	}
	return cc, nil
}

func (c *ClientConfig) withDefaults() ClientConfig {
	out := *c
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = DefaultRequestTimeout
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = DefaultDialTimeout
	}
	if out.TLSHandshakeTimeout <= 0 {
		out.TLSHandshakeTimeout = DefaultTLSHandshakeTimeout
	}
	if out.ResponseHeaderTimeout <= 0 {
		out.ResponseHeaderTimeout = DefaultResponseHeaderTimeout
	}
	if out.IdleConnTimeout <= 0 {
		out.IdleConnTimeout = DefaultIdleConnTimeout
	}
	if out.MaxIdleConnsPerHost <= 0 {
		out.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
	return out
}

// NewHTTPTransport creates an http.Transport for calls to the perception oracle.
func NewHTTPTransport(cfg *ClientConfig) *http.Transport {
	if cfg == nil {
		cfg = &ClientConfig{ForceHTTP2: true}
	}
	c := cfg.withDefaults()

	dialer := &net.Dialer{Timeout: c.DialTimeout, KeepAlive: DefaultKeepAliveInterval}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.IgnoreTLSErrors}, //nolint:gosec // opt-in via config
		TLSHandshakeTimeout:   c.TLSHandshakeTimeout,
		ResponseHeaderTimeout: c.ResponseHeaderTimeout,
		IdleConnTimeout:       c.IdleConnTimeout,
		MaxIdleConnsPerHost:   c.MaxIdleConnsPerHost,
		ForceAttemptHTTP2:     c.ForceHTTP2,
		Proxy:                 http.ProxyFromEnvironment,
	}
	if c.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(c.ProxyURL)
	}

	if c.ForceHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			c.Logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
		}
	} else {
		transport.TLSClientConfig.NextProtos = []string{"http/1.1"}
	}
	return transport
}

// NewClient returns an http.Client whose overall timeout bounds a single oracle call.
// Response bodies are decompressed by CompressionMiddleware.
func NewClient(cfg *ClientConfig) *http.Client {
	if cfg == nil {
		cfg = &ClientConfig{ForceHTTP2: true}
	}
	c := cfg.withDefaults()
	return &http.Client{
		Transport: NewCompressionMiddleware(NewHTTPTransport(&c)),
		Timeout:   c.RequestTimeout,
	}
}
