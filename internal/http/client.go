// Package http builds the outbound HTTP client shared by the network chunk
// transports and classifies their failures for retry.
package http

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	nethttp "net/http"
	"os"

	"github.com/Azure/go-ntlmssp"
	"golang.org/x/net/http2"

	"github.com/rescale/chunkup/internal/config"
	"github.com/rescale/chunkup/internal/constants"
	"github.com/rescale/chunkup/internal/logging"
)

// NewClient returns the client used by the http, s3 and azure transports.
// The pool is sized for many concurrent chunk requests to a single host,
// response compression is off and there is no overall timeout: each chunk
// request carries its own context.
//
// HTTP/2 is used unless DISABLE_HTTP2=true or a proxy is in the path.
// FORCE_HTTP2=true keeps it on behind a proxy. A nil cfg behaves like the
// "system" proxy mode.
func NewClient(cfg *config.ProxyConfig, log *logging.Logger) (*nethttp.Client, error) {
	if log == nil {
		log = logging.Nop()
	}
	if cfg == nil {
		cfg = &config.ProxyConfig{Mode: "system"}
	}

	tr := newTransport()
	rt, err := applyProxy(tr, cfg, log)
	if err != nil {
		return nil, err
	}

	if wantHTTP2(cfg) {
		tr.ForceAttemptHTTP2 = true
		if err := http2.ConfigureTransport(tr); err != nil {
			log.Debug().Err(err).Msg("HTTP/2 setup failed, using HTTP/1.1")
		}
	} else {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = map[string]func(string, *tls.Conn) nethttp.RoundTripper{}
	}

	client := &nethttp.Client{Transport: rt}
	if err := warmup(client, cfg); err != nil {
		return nil, fmt.Errorf("proxy warmup failed: %w", err)
	}
	return client, nil
}

// WithRootCAs returns a copy of c whose TLS connections verify servers
// against pool instead of the system roots. An NTLM proxy wrapper is kept.
// c itself is left untouched, so other transports sharing it are unaffected.
func WithRootCAs(c *nethttp.Client, pool *x509.CertPool) (*nethttp.Client, error) {
	var base *nethttp.Transport
	wrap := func(rt nethttp.RoundTripper) nethttp.RoundTripper { return rt }

	switch rt := c.Transport.(type) {
	case nil:
		base = nethttp.DefaultTransport.(*nethttp.Transport)
	case *nethttp.Transport:
		base = rt
	case ntlmssp.Negotiator:
		inner, ok := rt.RoundTripper.(*nethttp.Transport)
		if !ok {
			return nil, fmt.Errorf("cannot set root CAs on %T", rt.RoundTripper)
		}
		base = inner
		wrap = func(rt nethttp.RoundTripper) nethttp.RoundTripper {
			return ntlmssp.Negotiator{RoundTripper: rt}
		}
	default:
		return nil, fmt.Errorf("cannot set root CAs on %T", c.Transport)
	}

	tr := base.Clone()
	if tr.TLSClientConfig == nil {
		tr.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	tr.TLSClientConfig.RootCAs = pool

	cpy := *c
	cpy.Transport = wrap(tr)
	return &cpy, nil
}

func newTransport() *nethttp.Transport {
	return &nethttp.Transport{
		DialContext: (&net.Dialer{
			Timeout:   constants.HTTPDialTimeout,
			KeepAlive: constants.HTTPDialKeepAlive,
		}).DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:          512,
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
		DisableCompression:    true,
	}
}

func wantHTTP2(cfg *config.ProxyConfig) bool {
	if os.Getenv("DISABLE_HTTP2") == "true" {
		return false
	}
	// Proxies tend to break HTTP/2 multiplexing mid-transfer.
	return !proxyActive(cfg) || os.Getenv("FORCE_HTTP2") == "true"
}

func proxyActive(cfg *config.ProxyConfig) bool {
	switch cfg.Mode {
	case "", "no-proxy":
		return false
	case "system":
		for _, k := range []string{"HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy"} {
			if os.Getenv(k) != "" {
				return true
			}
		}
		return false
	}
	return cfg.Host != ""
}
