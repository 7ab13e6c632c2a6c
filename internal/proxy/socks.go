// Package proxy routes backend traffic through an optional SOCKS5 proxy.
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	ws "github.com/gorilla/websocket"
	"golang.org/x/net/proxy"
)

const handshakeTimeout = 15 * time.Second

func socksDialer(socksAddr string) (proxy.ContextDialer, error) {
	d, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 %s: %w", socksAddr, err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 %s: dialer does not support contexts", socksAddr)
	}
	return cd, nil
}

// NewSocksClient returns an HTTP client tunnelled through socksAddr. An empty
// address yields a direct client with the same timeout.
func NewSocksClient(socksAddr string) (*http.Client, error) {
	if socksAddr == "" {
		return &http.Client{Timeout: 120 * time.Second}, nil
	}
	dialer, err := socksDialer(socksAddr)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
	}

	return &http.Client{
		Transport: transport,
		Timeout:   120 * time.Second,
	}, nil
}

// NewWebSocketDialer returns a websocket dialer tunnelled through socksAddr, or
// a direct one when socksAddr is empty.
func NewWebSocketDialer(socksAddr string) (*ws.Dialer, error) {
	d := &ws.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	if socksAddr == "" {
		return d, nil
	}
	dialer, err := socksDialer(socksAddr)
	if err != nil {
		return nil, err
	}
	d.Proxy = nil
	d.NetDialContext = dialer.DialContext
	return d, nil
}
