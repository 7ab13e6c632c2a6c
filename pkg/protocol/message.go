package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Event names carried in the envelope.
const (
	EventVoiceInput = "voice_input"
	EventStatus     = "status"
	EventMessage    = "message"
	EventError      = "error"
	EventAudio      = "audio"
)

var ErrUnknownEvent = errors.New("unknown event")

// Envelope is one frame on the wire: an event name and its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// VoiceInput carries one utterance to the backend. Audio is a WAV container and
// is base64-encoded by encoding/json.
type VoiceInput struct {
	ID          string `json:"id"`
	Audio       []byte `json:"audio"`
	HandsFree   bool   `json:"handsfree"`
	SessionUser string `json:"session_user,omitempty"`
}

// Status is a progress notice from the backend ("Transcribing...").
type Status struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

type Error struct {
	Message string `json:"message"`
}

// ChatLine is a transcript line; Type is "user" or "assistant".
type ChatLine struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Audio is the spoken reply.
type Audio struct {
	Mime       string `json:"mime"`
	SampleRate int    `json:"sample_rate"`
	WAVBase64  string `json:"wav_base64"`
}

func (a Audio) Bytes() ([]byte, error) {
	if a.WAVBase64 == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(a.WAVBase64)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	return b, nil
}

// Encode wraps payload into an envelope frame.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Decode parses a frame into its typed payload: one of VoiceInput, Status,
// Error, ChatLine or Audio.
func Decode(frame []byte) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", nil, fmt.Errorf("parse envelope: %w", err)
	}

	var v any
	switch env.Event {
	case EventVoiceInput:
		v = &VoiceInput{}
	case EventStatus:
		v = &Status{}
	case EventError:
		v = &Error{}
	case EventMessage:
		v = &ChatLine{}
	case EventAudio:
		v = &Audio{}
	default:
		return env.Event, nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, v); err != nil {
			return env.Event, nil, fmt.Errorf("parse %s payload: %w", env.Event, err)
		}
	}
	return env.Event, v, nil
}
