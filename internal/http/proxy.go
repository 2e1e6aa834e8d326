// Package http builds the outbound HTTP clients shared by the storage providers
// and the version check.
package http

import (
	"crypto/tls"
	"fmt"
	"net"
	nethttp "net/http"
	"net/url"
	"strings"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http/httpproxy"

	"github.com/rescale/cloudcmd/internal/config"
	"github.com/rescale/cloudcmd/internal/constants"
)

// ConfigureHTTPClient configures an HTTP client with proxy settings
func ConfigureHTTPClient(cfg config.ProxyConfig) (*nethttp.Client, error) {
	transport := &nethttp.Transport{
		DialContext: (&net.Dialer{
			Timeout:   constants.HTTPDialTimeout,
			KeepAlive: constants.HTTPDialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
	}

	switch strings.ToLower(cfg.Mode) {
	case "no-proxy", "":
		transport.Proxy = nil

	case "system":
		transport.Proxy = nethttp.ProxyFromEnvironment

	case "ntlm":
		// Fall back to a direct connection when the host is missing so the
		// daemon still starts with an incomplete config
		if cfg.Host == "" {
			log.Warn().Msg("Proxy mode is NTLM but host is missing - falling back to no-proxy mode")
			return &nethttp.Client{Transport: transport}, nil
		}
		transport.Proxy = proxyFuncWithBypass(buildProxyURL(cfg), cfg.NoProxy)
		return &nethttp.Client{
			Transport: ntlmssp.Negotiator{RoundTripper: transport},
		}, nil

	case "basic":
		if cfg.Host == "" {
			log.Warn().Msg("Proxy mode is basic but host is missing - falling back to no-proxy mode")
			return &nethttp.Client{Transport: transport}, nil
		}
		if cfg.User != "" && cfg.Password == "" {
			log.Warn().Msg("Proxy user configured but password missing - proxy auth disabled until password is set")
		}
		transport.Proxy = proxyFuncWithBypass(buildProxyURL(cfg), cfg.NoProxy)

	default:
		return nil, fmt.Errorf("unsupported proxy mode: %s", cfg.Mode)
	}

	return &nethttp.Client{Transport: transport}, nil
}

// buildProxyURL constructs a proxy URL from config
func buildProxyURL(cfg config.ProxyConfig) *url.URL {
	port := cfg.Port
	if port == 0 {
		port = 8080
	}

	proxyURL := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, port),
	}

	// Only embed credentials if both user AND password are provided
	if cfg.User != "" && cfg.Password != "" {
		proxyURL.User = url.UserPassword(cfg.User, cfg.Password)
	}

	return proxyURL
}

// proxyFuncWithBypass returns a proxy function that respects the NoProxy bypass list.
// If noProxy is empty, behaves identically to nethttp.ProxyURL.
func proxyFuncWithBypass(proxyURL *url.URL, noProxy string) func(*nethttp.Request) (*url.URL, error) {
	if noProxy == "" {
		return nethttp.ProxyURL(proxyURL)
	}
	cfg := httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
		NoProxy:    noProxy,
	}
	proxyFunc := cfg.ProxyFunc()
	return func(req *nethttp.Request) (*url.URL, error) {
		result, err := proxyFunc(req.URL)
		if result == nil {
			log.Debug().Str("host", req.URL.Host).Msg("proxy bypass")
		} else {
			log.Debug().Str("host", req.URL.Host).Str("proxy", result.Host).Msg("proxied")
		}
		return result, err
	}
}

// ProxyActive reports whether requests built from cfg go through a proxy.
func ProxyActive(cfg config.ProxyConfig, getenv func(string) string) bool {
	switch strings.ToLower(cfg.Mode) {
	case "no-proxy", "":
		return false
	case "system":
		return getenv("HTTP_PROXY") != "" || getenv("HTTPS_PROXY") != "" ||
			getenv("http_proxy") != "" || getenv("https_proxy") != ""
	default:
		return true
	}
}
