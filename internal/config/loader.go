package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	EnvAPIKey     = "OPENAI_API_KEY"
	EnvBackendURL = "HARK_BACKEND_URL"
)

var logLevels = []string{"debug", "info", "warn", "error"}

// Load reads the YAML file at path over Default and validates the result. An
// empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, Validate(cfg)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over Default. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays values that live in the environment (usually a .env file).
func ApplyEnv(cfg *Config, getenv func(string) string) {
	cfg.Local.APIKey = getenv(EnvAPIKey)
	if u := getenv(EnvBackendURL); u != "" {
		cfg.Backend.URL = u
	}
}

// Validate returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Log.Level != "" && !slices.Contains(logLevels, cfg.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: %s", cfg.Log.Level, strings.Join(logLevels, ", ")))
	}
	if cfg.Log.Format != "" && cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: text, json", cfg.Log.Format))
	}

	errs = append(errs, ValidateVAD(cfg.VAD)...)

	if cfg.Playback.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("playback.sample_rate must be positive"))
	}
	if cfg.Playback.Duck && (cfg.Playback.DuckFactor <= 0 || cfg.Playback.DuckFactor > 1) {
		errs = append(errs, fmt.Errorf("playback.duck_factor %.2f is out of range (0, 1]", cfg.Playback.DuckFactor))
	}

	switch cfg.Backend.Mode {
	case BackendWebSocket:
		u, err := url.Parse(cfg.Backend.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("backend.url %q must be a ws:// or wss:// URL", cfg.Backend.URL))
		}
	case BackendLocal:
		if cfg.Local.WhisperModel == "" {
			errs = append(errs, fmt.Errorf("local.whisper_model is required when backend.mode is local"))
		}
	default:
		errs = append(errs, fmt.Errorf("backend.mode %q is invalid; valid values: ws, local", cfg.Backend.Mode))
	}

	if cfg.IPC.Socket == "" {
		errs = append(errs, fmt.Errorf("ipc.socket is required"))
	}

	return errors.Join(errs...)
}

func ValidateVAD(v VAD) []error {
	var errs []error
	for _, f := range []struct {
		name string
		val  float64
	}{
		{"threshold", v.Threshold},
		{"raw_threshold", v.RawThreshold},
		{"barge_in_threshold", v.BargeInThreshold},
	} {
		if f.val <= 0 || f.val >= 1 {
			errs = append(errs, fmt.Errorf("vad.%s %.4f is out of range (0, 1)", f.name, f.val))
		}
	}

	if v.MinSpeech <= 0 {
		errs = append(errs, fmt.Errorf("vad.min_speech must be positive"))
	}
	if v.EndSilence <= 0 {
		errs = append(errs, fmt.Errorf("vad.end_silence must be positive"))
	}
	if v.MaxUtterance <= v.MinSpeech {
		errs = append(errs, fmt.Errorf("vad.max_utterance %s must exceed vad.min_speech %s", v.MaxUtterance, v.MinSpeech))
	}
	if v.RingKeep < v.MaxUtterance+v.Preroll {
		errs = append(errs, fmt.Errorf("vad.ring_keep %s cannot hold max_utterance plus preroll (%s)", v.RingKeep, v.MaxUtterance+v.Preroll))
	}
	if v.PostTTSCooldown < 0 || v.Preroll < 0 || v.BargeInDelay < 0 || v.PendingFallback < 0 {
		errs = append(errs, fmt.Errorf("vad durations must not be negative"))
	}
	if v.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("vad.frame_size must be positive"))
	}
	if v.PollHz <= 0 || v.PollHz > 1000 {
		errs = append(errs, fmt.Errorf("vad.poll_hz %d is out of range [1, 1000]", v.PollHz))
	}
	if v.TargetRate <= 0 {
		errs = append(errs, fmt.Errorf("vad.target_rate must be positive"))
	}
	if v.MinUtteranceBytes < 0 {
		errs = append(errs, fmt.Errorf("vad.min_utterance_bytes must not be negative"))
	}
	if v.MeterInterval <= 0 {
		errs = append(errs, fmt.Errorf("vad.meter_interval must be positive"))
	}
	return errs
}

// RawHandsFreeWarning is reported when unprocessed capture is combined with
// hands-free listening.
const RawHandsFreeWarning = "raw microphone with hands-free: without echo cancellation and noise suppression the agent's own voice and room noise can keep silence detection from ever ending an utterance"

// Warnings lists settings that work but are likely to misbehave.
func Warnings(cfg *Config) []string {
	var w []string
	if cfg.Audio.Raw && cfg.HandsFree {
		w = append(w, RawHandsFreeWarning)
	}
	if cfg.Audio.Raw && cfg.Audio.RawDevice == "" {
		w = append(w, "audio.raw is set but audio.raw_device is empty; the default input is used")
	}
	if cfg.Backend.Mode == BackendLocal && cfg.Local.APIKey == "" {
		w = append(w, EnvAPIKey+" is not set; local replies will fail")
	}
	if cfg.VAD.PendingFallback > 0 && cfg.VAD.PendingFallback < cfg.VAD.PostTTSCooldown {
		w = append(w, "vad.pending_fallback is shorter than vad.post_tts_cooldown")
	}
	return w
}
