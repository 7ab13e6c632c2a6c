package protocol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_VoiceInput(t *testing.T) {
	frame, err := Encode(EventVoiceInput, VoiceInput{ID: "abc", Audio: []byte("RIFF"), HandsFree: true})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(frame, &raw))
	assert.Equal(t, "voice_input", raw["event"])

	data := raw["data"].(map[string]any)
	assert.Equal(t, "abc", data["id"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("RIFF")), data["audio"])
	assert.Equal(t, true, data["handsfree"])
}

func TestDecode(t *testing.T) {
	tests := []struct {
		frame string
		event string
		want  any
	}{
		{`{"event":"status","data":{"message":"Transcribing...","type":"info"}}`, EventStatus, &Status{Message: "Transcribing...", Type: "info"}},
		{`{"event":"error","data":{"message":"Missing audio"}}`, EventError, &Error{Message: "Missing audio"}},
		{`{"event":"message","data":{"type":"assistant","content":"hi"}}`, EventMessage, &ChatLine{Type: "assistant", Content: "hi"}},
		{`{"event":"audio","data":{"mime":"audio/wav","sample_rate":22050,"wav_base64":"UklGRg=="}}`, EventAudio, &Audio{Mime: "audio/wav", SampleRate: 22050, WAVBase64: "UklGRg=="}},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			event, payload, err := Decode([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.event, event)
			assert.Equal(t, tt.want, payload)
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	_, _, err := Decode([]byte(`{"event":"tool_event","data":{}}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, _, err = Decode([]byte(`not json`))
	assert.Error(t, err)

	_, _, err = Decode([]byte(`{"event":"status","data":{"message":5}}`))
	assert.Error(t, err)
}

func TestAudio_Bytes(t *testing.T) {
	b, err := Audio{WAVBase64: "UklGRg=="}.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF"), b)

	b, err = Audio{}.Bytes()
	require.NoError(t, err)
	assert.Nil(t, b)

	_, err = Audio{WAVBase64: "%%%"}.Bytes()
	assert.Error(t, err)
}

// backend answers every voice_input with a status and an audio frame.
func backend(t *testing.T) *httptest.Server {
	t.Helper()
	up := ws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			event, payload, err := Decode(msg)
			if err != nil || event != EventVoiceInput {
				continue
			}
			in := payload.(*VoiceInput)
			status, _ := Encode(EventStatus, Status{Message: "got " + in.ID})
			audio, _ := Encode(EventAudio, Audio{Mime: "audio/wav", WAVBase64: base64.StdEncoding.EncodeToString(in.Audio)})
			_ = conn.WriteMessage(ws.TextMessage, status)
			_ = conn.WriteMessage(ws.TextMessage, audio)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_RoundTrip(t *testing.T) {
	srv := backend(t)

	var (
		mu     sync.Mutex
		events []string
		echoed []byte
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := NewClient(ctx, ClientConfig{
		URL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Emit: func(event string, payload any) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, event)
			if a, ok := payload.(*Audio); ok {
				echoed, _ = a.Bytes()
			}
		},
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.NoError(t, c.Send(EventVoiceInput, VoiceInput{ID: "u1", Audio: []byte("RIFF....WAVE")}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{EventStatus, EventAudio}, events)
	assert.Equal(t, []byte("RIFF....WAVE"), echoed)
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDialWebSocket_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := DialWebSocket(ctx, "ws://127.0.0.1:1/", nil, 0)
	assert.Error(t, err)
}
