// Package ipc is the local control channel between hark-ctl and the daemon:
// one JSON request and one JSON response per unix-socket connection.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"time"
)

const DefaultSocketPath = "/tmp/hark.sock"

// Commands understood by the daemon.
const (
	CmdHandsFree = "handsfree" // args: on|off
	CmdRaw       = "raw"       // args: on|off [confirm]
	CmdTalk      = "talk"      // args: start|stop
	CmdStop      = "stop"
	CmdStatus    = "status"
)

// Codes set on failed responses.
const (
	CodeConfirm  = "confirm_required"
	CodeConflict = "mode_conflict"
	CodeBadArgs  = "bad_args"
	CodeFailed   = "failed"
)

type ControlMessage struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args,omitempty"`
}

type Response struct {
	OK     bool            `json:"ok"`
	Code   string          `json:"code,omitempty"`
	Error  string          `json:"error,omitempty"`
	Status json.RawMessage `json:"status,omitempty"`
}

func Fail(code string, err error) Response {
	return Response{Code: code, Error: err.Error()}
}

type Handler func(ctx context.Context, msg ControlMessage) Response

// Serve accepts connections on path until ctx ends. A stale socket file is
// removed first.
func Serve(ctx context.Context, path string, handler Handler) error {
	_ = os.Remove(path)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", path)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer os.Remove(path)

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Warn("ipc accept failed", "err", err)
			continue
		}
		go handleConn(ctx, conn, handler)
	}
}

func handleConn(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(30 * time.Second))

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		log.Debug("ipc bad request", "err", err)
		_ = json.NewEncoder(conn).Encode(Fail(CodeBadArgs, fmt.Errorf("decode request: %w", err)))
		return
	}
	log.Debug("ipc request", "cmd", msg.Cmd, "args", msg.Args)

	resp := handler(ctx, msg)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		log.Debug("ipc write response failed", "err", err)
	}
}

// Send issues one command and waits for its response.
func Send(ctx context.Context, path string, msg ControlMessage) (Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return Response{}, fmt.Errorf("send: %w", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}
