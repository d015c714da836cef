package davhttp

import (
	"crypto/tls"
	"fmt"
	"net"
	nethttp "net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpproxy"
)

// newTransport builds the HTTP transport for transfer traffic. An explicit
// proxy URL overrides the environment; an empty one keeps standard
// HTTP_PROXY/HTTPS_PROXY/NO_PROXY handling.
func newTransport(proxyURL string) (*nethttp.Transport, error) {
	transport := &nethttp.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   30 * time.Second,
		ExpectContinueTimeout: 5 * time.Second,
		// Uploads are mostly already-compressed media; skip transparent gzip.
		DisableCompression: true,
	}

	if proxyURL == "" {
		transport.Proxy = nethttp.ProxyFromEnvironment
		return transport, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url %q: %w", proxyURL, err)
	}
	cfg := &httpproxy.Config{
		HTTPProxy:  parsed.String(),
		HTTPSProxy: parsed.String(),
	}
	proxyFunc := cfg.ProxyFunc()
	transport.Proxy = func(req *nethttp.Request) (*url.URL, error) {
		return proxyFunc(req.URL)
	}
	return transport, nil
}
