package protocol

import (
	"context"
	"errors"
	log "log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

var ErrClosed = errors.New("websocket closed")

// WebSocket is a reconnectable text-frame connection. Reads must come from a
// single goroutine; writes are serialized internally.
type WebSocket struct {
	url    string
	dialer *ws.Dialer
	reconn time.Duration

	mu     sync.Mutex
	conn   *ws.Conn
	closed bool

	writeMu sync.Mutex
}

// DialWebSocket connects to url. A nil dialer uses gorilla's default.
func DialWebSocket(ctx context.Context, url string, dialer *ws.Dialer, reconn time.Duration) (*WebSocket, error) {
	log.Debug("init websocket", "url", url)

	if dialer == nil {
		dialer = ws.DefaultDialer
	}
	if reconn <= 0 {
		reconn = time.Second
	}
	web := &WebSocket{url: url, dialer: dialer, reconn: reconn}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	web.conn = conn
	return web, nil
}

func (web *WebSocket) current() (*ws.Conn, error) {
	web.mu.Lock()
	defer web.mu.Unlock()
	if web.closed {
		return nil, ErrClosed
	}
	return web.conn, nil
}

func (web *WebSocket) Write(payload []byte) error {
	conn, err := web.current()
	if err != nil {
		return err
	}
	web.writeMu.Lock()
	defer web.writeMu.Unlock()
	return conn.WriteMessage(ws.TextMessage, payload)
}

type IncomeKind uint

const (
	ConnClosed IncomeKind = iota
	ReadFailure
	ReadOK
)

type Income struct {
	Kind IncomeKind
	Msg  []byte
	Err  error
}

func (web *WebSocket) Read() Income {
	conn, err := web.current()
	if err != nil {
		return Income{Kind: ConnClosed, Err: err}
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		if IsClosed(err) {
			return Income{Kind: ConnClosed, Err: err}
		}
		return Income{Kind: ReadFailure, Err: err}
	}
	return Income{Kind: ReadOK, Msg: msg}
}

// Reconnect redials until it succeeds, ctx ends or the socket is closed.
func (web *WebSocket) Reconnect(ctx context.Context) error {
	for {
		if _, err := web.current(); err != nil {
			return err
		}

		conn, _, err := web.dialer.DialContext(ctx, web.url, nil)
		if err == nil {
			web.mu.Lock()
			old := web.conn
			web.conn = conn
			closed := web.closed
			web.mu.Unlock()

			if old != nil {
				_ = old.Close()
			}
			if closed {
				_ = conn.Close()
				return ErrClosed
			}
			return nil
		}
		log.Debug("reconnect failed", "url", web.url, "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(web.reconn):
		}
	}
}

func (web *WebSocket) Close() error {
	web.mu.Lock()
	defer web.mu.Unlock()
	if web.closed {
		return nil
	}
	web.closed = true
	return web.conn.Close()
}

// IsClosed reports whether err means the peer went away.
func IsClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure) || errors.Is(err, ErrClosed)
}
