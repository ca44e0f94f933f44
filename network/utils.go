// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package network

import (
	"net"
	"net/http"
	"strings"

	"github.com/almalinux/mirrorsvc/core"
)

// RemoteIPFromAddr strips the port from a remote address
func RemoteIPFromAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// ExtractClientIP returns the address a request should be attributed
// to: the first public hop of X-Forwarded-For, then X-Real-Ip, then the
// peer address. TEST_IP_ADDRESS overrides everything for local testing.
func ExtractClientIP(r *http.Request) string {
	if ip := core.TestIPAddress(); ip != "" {
		return ip
	}

	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		hop = strings.TrimSpace(hop)
		if hop == "" {
			continue
		}
		if ip := net.ParseIP(hop); ip != nil && !isInternal(ip) {
			return hop
		}
	}

	if ip := strings.TrimSpace(r.Header.Get("X-Real-Ip")); ip != "" {
		return ip
	}

	return RemoteIPFromAddr(r.RemoteAddr)
}

func isInternal(ip net.IP) bool {
	return ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
