// Package transport builds the single outbound HTTP client shared by all
// provider adapters and classifies network-level failures.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/BaSui01/narraflow/types"
)

// DefaultTimeout bounds one provider call end to end when the caller does
// not override it.
const DefaultTimeout = 120 * time.Second

// NewHTTPClient builds an *http.Client honoring the proxy policy. When
// proxying is disabled the transport applies no proxy at all — environment
// proxies included — so a populated but disabled config never leaks into
// requests.
func NewHTTPClient(proxy types.ProxyConfig, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	tr := &http.Transport{
		Proxy:                 nil,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if proxy.Enabled {
		proxyFn, err := proxyFunc(proxy)
		if err != nil {
			return nil, err
		}
		tr.Proxy = proxyFn
	}

	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

// proxyFunc selects the proxy URL by target scheme, the same shape a
// scheme-keyed proxies table has. A scheme without a configured URL goes
// direct.
func proxyFunc(proxy types.ProxyConfig) (func(*http.Request) (*url.URL, error), error) {
	var httpURL, httpsURL *url.URL
	var err error

	if proxy.HTTP != "" {
		httpURL, err = url.Parse(proxy.HTTP)
		if err != nil {
			return nil, types.WrapError(types.ErrInvalidConfig, "parse http proxy url", err)
		}
	}
	if proxy.HTTPS != "" {
		httpsURL, err = url.Parse(proxy.HTTPS)
		if err != nil {
			return nil, types.WrapError(types.ErrInvalidConfig, "parse https proxy url", err)
		}
	}

	return func(req *http.Request) (*url.URL, error) {
		switch req.URL.Scheme {
		case "https":
			return httpsURL, nil
		case "http":
			return httpURL, nil
		default:
			return nil, nil
		}
	}, nil
}

// Classify maps a network-level failure into a typed TRANSPORT error with
// the retryable flag set for transient conditions: timeouts, connection
// resets and temporary DNS failures retry; cancellation and unresolvable
// hosts do not.
func Classify(err error, provider string) *types.Error {
	if err == nil {
		return nil
	}

	retryable := false
	msg := "request failed"

	switch {
	case errors.Is(err, context.Canceled):
		msg = "request cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		msg = "request timed out"
		retryable = true
	default:
		var netErr net.Error
		var dnsErr *net.DNSError
		switch {
		case errors.As(err, &dnsErr):
			msg = fmt.Sprintf("dns lookup %s failed", dnsErr.Name)
			retryable = dnsErr.Temporary() && !dnsErr.IsNotFound
		case errors.As(err, &netErr) && netErr.Timeout():
			msg = "request timed out"
			retryable = true
		case errors.Is(err, net.ErrClosed):
			msg = "connection closed"
			retryable = true
		default:
			// Connection refused/reset surface via *url.Error with an
			// *net.OpError underneath.
			var opErr *net.OpError
			if errors.As(err, &opErr) {
				msg = fmt.Sprintf("%s %s failed", opErr.Op, opErr.Net)
				retryable = true
			}
		}
	}

	return types.WrapError(types.ErrTransport, msg, err).
		WithRetryable(retryable).
		WithProvider(provider)
}
