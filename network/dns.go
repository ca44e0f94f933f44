// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package network

import (
	"context"
	"errors"
	"net"
	"time"
)

const (
	dnsTimeout = 5 * time.Second
	dnsTries   = 2
)

var resolver = &net.Resolver{}

// ResolveA returns the IPv4 addresses of a host
func ResolveA(ctx context.Context, host string) ([]string, error) {
	return resolve(ctx, "ip4", host)
}

// ResolveAAAA returns the IPv6 addresses of a host
func ResolveAAAA(ctx context.Context, host string) ([]string, error) {
	return resolve(ctx, "ip6", host)
}

func resolve(ctx context.Context, network, host string) ([]string, error) {
	var lastErr error
	for attempt := 0; attempt < dnsTries; attempt++ {
		queryCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
		addrs, err := resolver.LookupIP(queryCtx, network, host)
		cancel()

		if err == nil {
			out := make([]string, 0, len(addrs))
			for _, a := range addrs {
				out = append(out, a.String())
			}
			return out, nil
		}
		lastErr = err

		// NXDOMAIN and friends will not improve on retry
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && !dnsErr.IsTimeout && !dnsErr.IsTemporary {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}
