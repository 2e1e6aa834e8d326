package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/rescale/cloudcmd/internal/config"
	"github.com/rescale/cloudcmd/internal/constants"
)

// CreateTransferClient creates an HTTP client tuned for object transfers:
// a large connection pool, no compression, HTTP/2 when talking directly to
// the endpoint. Per-operation timeouts come from the caller's context.
func CreateTransferClient(cfg config.ProxyConfig) (*nethttp.Client, error) {
	baseClient, err := ConfigureHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	tr, ok := baseClient.Transport.(*nethttp.Transport)
	if !ok {
		// NTLM wraps the transport in a negotiator; keep it as-is
		baseClient.Timeout = 0
		return baseClient, nil
	}

	tr.MaxIdleConns = 512
	tr.MaxIdleConnsPerHost = 100
	tr.MaxConnsPerHost = 100
	tr.IdleConnTimeout = constants.HTTPIdleConnTimeout
	tr.DisableCompression = true
	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	// Proxies often break HTTP/2 multiplexing mid-transfer. DISABLE_HTTP2
	// forces HTTP/1.1 even without one.
	if os.Getenv("DISABLE_HTTP2") == "true" || ProxyActive(cfg, os.Getenv) {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	baseClient.Transport = tr
	baseClient.Timeout = 0
	return baseClient, nil
}
