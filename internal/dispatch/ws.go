package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	ws "github.com/gorilla/websocket"

	"hark/pkg/protocol"
)

type WSConfig struct {
	URL         string
	Dialer      *ws.Dialer
	Reconnect   time.Duration
	SessionUser string
}

// WS sends utterances to a remote backend and routes its replies.
type WS struct {
	client *protocol.Client
	cfg    WSConfig
	ev     Events
	log    *slog.Logger
}

func NewWS(ctx context.Context, cfg WSConfig, ev Events, log *slog.Logger) (*WS, error) {
	w := &WS{cfg: cfg, ev: ev, log: log.With("component", "backend")}
	client, err := protocol.NewClient(ctx, protocol.ClientConfig{
		URL:    cfg.URL,
		Dialer: cfg.Dialer,
		Reconn: cfg.Reconnect,
		Emit:   w.route,
	})
	if err != nil {
		return nil, err
	}
	w.client = client
	return w, nil
}

// Run reads backend frames until ctx ends.
func (w *WS) Run(ctx context.Context) error { return w.client.Run(ctx) }

func (w *WS) Close() error { return w.client.Close() }

func (w *WS) Dispatch(_ context.Context, p Payload) error {
	err := w.client.Send(protocol.EventVoiceInput, protocol.VoiceInput{
		ID:          p.ID,
		Audio:       p.Audio,
		HandsFree:   p.HandsFree,
		SessionUser: w.cfg.SessionUser,
	})
	if err != nil {
		return fmt.Errorf("send utterance %s: %w", p.ID, err)
	}
	return nil
}

func (w *WS) route(event string, payload any) {
	switch v := payload.(type) {
	case *protocol.Status:
		w.ev.status(v.Message)
	case *protocol.ChatLine:
		w.ev.message(v.Type, v.Content)
	case *protocol.Error:
		w.ev.fail(errors.New(v.Message))
	case *protocol.Audio:
		data, err := v.Bytes()
		if err != nil {
			w.ev.fail(err)
			return
		}
		if len(data) == 0 {
			return
		}
		w.ev.audio(data)
	default:
		w.log.Debug("ignoring backend event", "event", event)
	}
}
