package protocol

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"time"

	ws "github.com/gorilla/websocket"
)

type ClientConfig struct {
	URL    string
	Dialer *ws.Dialer
	Reconn time.Duration
	// Emit receives every decoded inbound payload.
	Emit func(event string, payload any)
}

// Client speaks the envelope protocol over a WebSocket.
type Client struct {
	ws   *WebSocket
	emit func(string, any)
}

func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	web, err := DialWebSocket(ctx, cfg.URL, cfg.Dialer, cfg.Reconn)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	emit := cfg.Emit
	if emit == nil {
		emit = func(string, any) {}
	}
	return &Client{ws: web, emit: emit}, nil
}

func (c *Client) Send(event string, payload any) error {
	frame, err := Encode(event, payload)
	if err != nil {
		return err
	}
	if err := c.ws.Write(frame); err != nil {
		return fmt.Errorf("transmit %s: %w", event, err)
	}
	return nil
}

// Run reads frames until ctx ends, reconnecting when the peer drops.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = c.ws.Close() })
	defer stop()

	for {
		in := c.ws.Read()
		if ctx.Err() != nil {
			return nil
		}

		switch in.Kind {
		case ConnClosed:
			log.Warn("backend connection lost, reconnecting", "url", c.ws.url, "err", in.Err)
			if done, err := c.reconnect(ctx); done {
				return err
			}
			log.Info("reconnected to backend", "url", c.ws.url)

		case ReadFailure:
			log.Error("backend read failed", "err", in.Err)
			// gorilla connections are unusable after a read error
			if done, err := c.reconnect(ctx); done {
				return err
			}

		case ReadOK:
			event, payload, err := Decode(in.Msg)
			if err != nil {
				log.Warn("dropping frame", "event", event, "err", err)
				continue
			}
			c.emit(event, payload)
		}
	}
}

// reconnect reports done when Run should return, with the error to return.
func (c *Client) reconnect(ctx context.Context) (bool, error) {
	err := c.ws.Reconnect(ctx)
	switch {
	case err == nil:
		return false, nil
	case ctx.Err() != nil, errors.Is(err, ErrClosed):
		return true, nil
	default:
		return true, fmt.Errorf("reconnect: %w", err)
	}
}

func (c *Client) Close() error { return c.ws.Close() }
