package adaptive

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"
)

const defaultProbeTimeout = 3 * time.Second

// ConnectivityProbe checks TCP reachability of the API host.
type ConnectivityProbe struct {
	Addr    string
	Timeout time.Duration
	Dialer  *net.Dialer
}

// NewConnectivityProbe returns a probe for the host of baseURL.
func NewConnectivityProbe(baseURL string) (*ConnectivityProbe, error) {
	addr, err := ProbeAddr(baseURL)
	if err != nil {
		return nil, err
	}
	return &ConnectivityProbe{Addr: addr, Timeout: defaultProbeTimeout, Dialer: &net.Dialer{}}, nil
}

// ProbeAddr returns host:port for baseURL, defaulting the port from the scheme.
func ProbeAddr(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("connectivity: parse base url: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("connectivity: base url %q has no host", baseURL)
	}
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// Online dials the API host and reports whether the connection succeeded.
func (p *ConnectivityProbe) Online(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	d := p.Dialer
	if d == nil {
		d = &net.Dialer{}
	}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
