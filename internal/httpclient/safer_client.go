// Package httpclient provides the outbound HTTP client used for remote LLM
// providers. It refuses to dial loopback, private and link-local addresses so
// a misconfigured base_url cannot be pointed at internal services.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/recap/errors"
)

// ErrBlocked is wrapped by every request refused by address policy
var ErrBlocked = errors.New("blocked by outbound address policy")

// blockedPrefixes covers loopback, RFC 1918, link-local, CGNAT, multicast and reserved ranges
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("ff00::/8"),
}

// SaferClient wraps http.Client with outbound address checks
type SaferClient struct {
	*http.Client
	blockPrivate bool
	maxRedirects int
}

// Options customizes a SaferClient
type Options struct {
	BlockPrivateIP *bool // Default: true
	MaxRedirects   *int  // Default: 5
}

// New creates a client that applies the address policy to the request URL,
// every redirect and every dialed address (DNS rebinding).
func New(timeout time.Duration, opts Options) *SaferClient {
	c := &SaferClient{
		Client:       &http.Client{Timeout: timeout},
		blockPrivate: true,
		maxRedirects: 5,
	}
	if opts.BlockPrivateIP != nil {
		c.blockPrivate = *opts.BlockPrivateIP
	}
	if opts.MaxRedirects != nil {
		c.maxRedirects = *opts.MaxRedirects
	}

	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= c.maxRedirects {
			return errors.Newf("stopped after %d redirects", c.maxRedirects)
		}
		return c.Check(req.URL)
	}

	if c.blockPrivate {
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		c.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, errors.Wrap(err, "invalid address")
				}
				addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
				if err != nil {
					return nil, errors.Wrapf(err, "failed to resolve host %q", host)
				}
				for _, a := range addrs {
					if IsBlockedAddr(a) {
						return nil, errors.Wrapf(ErrBlocked, "%s resolves to %s", host, a)
					}
				}
				return dialer.DialContext(ctx, network, net.JoinHostPort(addrs[0].String(), port))
			},
			MaxIdleConns:          50,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		}
	}

	return c
}

// WrapClient wraps an existing http.Client without address checks.
// Only for tests that talk to httptest servers on loopback.
func WrapClient(client *http.Client) *SaferClient {
	return &SaferClient{Client: client, maxRedirects: 5}
}

// Check validates a URL against scheme and address policy
func (c *SaferClient) Check(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return errors.Wrapf(ErrBlocked, "scheme %q not allowed", u.Scheme)
	}
	if u.User != nil {
		return errors.Wrap(ErrBlocked, "URL carries userinfo")
	}

	host := u.Hostname()
	if host == "" {
		return errors.New("URL missing hostname")
	}
	if !c.blockPrivate {
		return nil
	}

	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return errors.Wrap(ErrBlocked, "localhost access blocked")
	}
	if a, err := netip.ParseAddr(host); err == nil && IsBlockedAddr(a) {
		return errors.Wrapf(ErrBlocked, "address %s", host)
	}
	return nil
}

// Do executes an HTTP request after validating its URL
func (c *SaferClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.Check(req.URL); err != nil {
		return nil, errors.Wrap(err, "request blocked")
	}
	return c.Client.Do(req)
}

// IsBlockedAddr reports whether a falls in a non-public range
func IsBlockedAddr(a netip.Addr) bool {
	a = a.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}
