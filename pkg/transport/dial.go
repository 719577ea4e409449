package transport

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTCPPort is the port table servers listen on for raw TCP
	DefaultTCPPort = "7465"
	// DefaultHTTPPort is the port table servers serve WebSocket and HTTP on
	DefaultHTTPPort = "7466"
)

// Address is a parsed server address.
type Address struct {
	Scheme   string // tcp, ws or wss
	HostPort string
}

func (a Address) String() string {
	if a.Scheme == "tcp" {
		return a.HostPort
	}
	return a.Scheme + "://" + a.HostPort
}

// ParseAddress accepts host[:port], tcp://host[:port], ws://host[:port] and
// wss://host[:port]. The port defaults by scheme.
func ParseAddress(raw string) (Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Address{}, errors.New("server address is empty")
	}

	scheme := "tcp"
	hostPort := trimmed
	if strings.Contains(trimmed, "://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return Address{}, fmt.Errorf("invalid server address %q: %w", raw, err)
		}

		if u.Scheme != "" {
			scheme = strings.ToLower(u.Scheme)
		}

		if u.Host != "" {
			hostPort = u.Host
		} else if u.Path != "" {
			hostPort = u.Path
		}

		hostPort = strings.TrimPrefix(hostPort, "//")
	}

	var defaultPort string
	switch scheme {
	case "tcp":
		defaultPort = DefaultTCPPort
	case "ws", "wss":
		defaultPort = DefaultHTTPPort
	default:
		return Address{}, fmt.Errorf("unsupported server scheme %q", scheme)
	}

	host, port, err := splitHostPortWithDefault(hostPort, defaultPort)
	if err != nil {
		return Address{}, err
	}

	return Address{Scheme: scheme, HostPort: net.JoinHostPort(host, port)}, nil
}

// Dial opens a raw connection to addr.
func Dial(addr Address, timeout time.Duration) (net.Conn, error) {
	switch addr.Scheme {
	case "tcp":
		conn, err := net.DialTimeout("tcp", addr.HostPort, timeout)
		if err != nil {
			return nil, err
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}
		return conn, nil
	case "ws":
		return DialWebSocket(addr.HostPort, false, timeout)
	case "wss":
		return DialWebSocket(addr.HostPort, true, timeout)
	default:
		return nil, fmt.Errorf("unsupported server scheme %q", addr.Scheme)
	}
}

func splitHostPortWithDefault(hostPort, defaultPort string) (string, string, error) {
	hostPort = strings.TrimSpace(hostPort)
	if hostPort == "" {
		return "", "", errors.New("missing host in server address")
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err == nil {
		return host, port, nil
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) && strings.Contains(strings.ToLower(addrErr.Err), "missing port") {
		host = hostPort
		if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
			host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
		}
		return host, defaultPort, nil
	}

	return "", "", err
}
