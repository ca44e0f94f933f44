// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package daemon

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Header sent with every probe so mirrors see us as a package manager
const userAgent = "libdnf (AlmaLinux 8.3; generic; Linux.x86_64)"

const (
	requestTimeout = 15 * time.Second
	connectTimeout = 10 * time.Second
	retryAttempts  = 2
	retryBackoff   = 500 * time.Millisecond
)

// newHTTPClient builds the client shared by every probe of an update
// cycle. The pool is sized for a few thousand mirrors probed in
// parallel without exhausting a single host.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: connectTimeout,
			}).DialContext,
			MaxIdleConns:        10000,
			MaxConnsPerHost:     20,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     10 * time.Minute,
			TLSHandshakeTimeout: connectTimeout,
		},
	}
}

// doRequest issues a request with the standard headers, retrying on
// transport errors with a short backoff.
func (p *Processor) doRequest(ctx context.Context, method, rawurl string, params url.Values) (*http.Response, error) {
	if params != nil {
		rawurl += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBackoff << (attempt - 1)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, rawurl, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := p.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

// checkURL returns nil when the URL answers 2xx. The body is drained
// so the connection can be reused.
func (p *Processor) checkURL(ctx context.Context, method, rawurl string) error {
	resp, err := p.doRequest(ctx, method, rawurl, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", rawurl, resp.Status)
	}
	return nil
}
