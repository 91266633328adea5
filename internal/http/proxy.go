package http

import (
	"context"
	"fmt"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"golang.org/x/net/http/httpproxy"

	"github.com/rescale/chunkup/internal/config"
	"github.com/rescale/chunkup/internal/constants"
	"github.com/rescale/chunkup/internal/logging"
)

const defaultProxyPort = 8080

// applyProxy sets tr.Proxy for cfg.Mode and returns the round tripper the
// client should use: tr itself, or tr wrapped in an NTLM negotiator.
func applyProxy(tr *nethttp.Transport, cfg *config.ProxyConfig, log *logging.Logger) (nethttp.RoundTripper, error) {
	mode := strings.ToLower(cfg.Mode)
	switch mode {
	case "", "no-proxy":
		tr.Proxy = nil
		return tr, nil
	case "system":
		tr.Proxy = nethttp.ProxyFromEnvironment
		return tr, nil
	case "basic", "ntlm":
	default:
		return nil, fmt.Errorf("unsupported proxy mode: %s", cfg.Mode)
	}

	if cfg.Host == "" {
		log.Warn().Str("mode", mode).Msg("Proxy host is missing, connecting directly")
		tr.Proxy = nil
		return tr, nil
	}
	if NeedsProxyPassword(cfg) {
		log.Warn().Str("user", cfg.User).Msg("Proxy password not set, proxy authentication disabled")
	}

	tr.Proxy = bypassProxy(proxyURL(cfg), cfg.NoProxy, log)
	if mode == "ntlm" {
		return ntlmssp.Negotiator{RoundTripper: tr}, nil
	}
	return tr, nil
}

// proxyURL carries credentials only when both user and password are set;
// some proxies reject an empty password outright.
func proxyURL(cfg *config.ProxyConfig) *url.URL {
	port := cfg.Port
	if port == 0 {
		port = defaultProxyPort
	}
	u := &url.URL{Scheme: "http", Host: cfg.Host + ":" + strconv.Itoa(port)}
	if cfg.User != "" && cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	return u
}

// bypassProxy routes every request through proxy except hosts matched by
// noProxy, a comma separated list of domains, wildcards and CIDRs.
func bypassProxy(proxy *url.URL, noProxy string, log *logging.Logger) func(*nethttp.Request) (*url.URL, error) {
	if noProxy == "" {
		return nethttp.ProxyURL(proxy)
	}
	match := (&httpproxy.Config{
		HTTPProxy:  proxy.String(),
		HTTPSProxy: proxy.String(),
		NoProxy:    noProxy,
	}).ProxyFunc()

	return func(req *nethttp.Request) (*url.URL, error) {
		u, err := match(req.URL)
		if u == nil {
			log.Debug().Str("host", req.URL.Host).Msg("Proxy bypass")
		}
		return u, err
	}
}

// warmup sends a HEAD to cfg.WarmupURL so that a proxy authenticates the
// connection before the first chunk. It is skipped unless warmup is enabled
// and, for authenticated modes, both credentials are present.
func warmup(client *nethttp.Client, cfg *config.ProxyConfig) error {
	if !cfg.Warmup || cfg.WarmupURL == "" {
		return nil
	}
	switch strings.ToLower(cfg.Mode) {
	case "system":
	case "basic", "ntlm":
		if cfg.Host == "" || cfg.User == "" || cfg.Password == "" {
			return nil
		}
	default:
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.ProxyWarmupTimeout)
	defer cancel()
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodHead, cfg.WarmupURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("warmup returned %d", resp.StatusCode)
	}
	return nil
}

// NeedsProxyPassword reports whether an authenticated proxy mode has a user
// but no password.
func NeedsProxyPassword(cfg *config.ProxyConfig) bool {
	switch strings.ToLower(cfg.Mode) {
	case "basic", "ntlm":
		return cfg.User != "" && cfg.Password == ""
	}
	return false
}
