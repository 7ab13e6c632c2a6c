// Package config loads hark's YAML configuration.
package config

import "time"

type Config struct {
	// HandsFree starts the daemon with hands-free listening on.
	HandsFree bool           `yaml:"handsfree"`
	Log       LogConfig      `yaml:"log"`
	Audio     AudioConfig    `yaml:"audio"`
	VAD       VAD            `yaml:"vad"`
	Playback  PlaybackConfig `yaml:"playback"`
	Backend   BackendConfig  `yaml:"backend"`
	Local     LocalConfig    `yaml:"local"`
	IPC       IPCConfig      `yaml:"ipc"`
	Metrics   MetricsConfig  `yaml:"metrics"`
	// Proxy is a SOCKS5 address used for every outbound connection.
	Proxy string `yaml:"proxy"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type AudioConfig struct {
	// Device is matched against input device names for processed capture;
	// empty picks the system default (usually the sound server, which applies
	// echo cancellation and noise suppression when configured).
	Device string `yaml:"device"`
	// RawDevice is opened instead when Raw is set, typically an ALSA hw device.
	RawDevice string `yaml:"raw_device"`
	Raw       bool   `yaml:"raw"`
}

// VAD holds every tunable of voice detection and turn-taking.
type VAD struct {
	Threshold         float64       `yaml:"threshold"`
	RawThreshold      float64       `yaml:"raw_threshold"`
	MinSpeech         time.Duration `yaml:"min_speech"`
	EndSilence        time.Duration `yaml:"end_silence"`
	MaxUtterance      time.Duration `yaml:"max_utterance"`
	PostTTSCooldown   time.Duration `yaml:"post_tts_cooldown"`
	Preroll           time.Duration `yaml:"preroll"`
	RingKeep          time.Duration `yaml:"ring_keep"`
	BargeInThreshold  float64       `yaml:"barge_in_threshold"`
	BargeInDelay      time.Duration `yaml:"barge_in_delay"`
	FrameSize         int           `yaml:"frame_size"`
	PollHz            int           `yaml:"poll_hz"`
	PendingFallback   time.Duration `yaml:"pending_fallback"`
	MinUtteranceBytes int           `yaml:"min_utterance_bytes"`
	TargetRate        int           `yaml:"target_rate"`
	MeterInterval     time.Duration `yaml:"meter_interval"`
}

func (v VAD) PollInterval() time.Duration {
	return time.Second / time.Duration(v.PollHz)
}

type PlaybackConfig struct {
	SampleRate int     `yaml:"sample_rate"`
	Volume     float64 `yaml:"volume"`
	// Chime is an mp3 played when push-to-talk starts; empty uses a built-in tone.
	Chime         string        `yaml:"chime"`
	Duck          bool          `yaml:"duck"`
	DuckFactor    float64       `yaml:"duck_factor"`
	DuckMinVolume int           `yaml:"duck_min_volume"`
	DuckFade      time.Duration `yaml:"duck_fade"`
	SelfNames     []string      `yaml:"self_names"`
}

const (
	BackendWebSocket = "ws"
	BackendLocal     = "local"
)

type BackendConfig struct {
	Mode        string        `yaml:"mode"`
	URL         string        `yaml:"url"`
	Reconnect   time.Duration `yaml:"reconnect"`
	SessionUser string        `yaml:"session_user"`
}

type LocalConfig struct {
	WhisperModel string        `yaml:"whisper_model"`
	Language     string        `yaml:"language"`
	Threads      int           `yaml:"threads"`
	Model        string        `yaml:"model"`
	SystemPrompt string        `yaml:"system_prompt"`
	History      int           `yaml:"history"`
	Timeout      time.Duration `yaml:"timeout"`
	// Voice is an espeak-ng voice used to speak replies; empty keeps them
	// text only.
	Voice      string `yaml:"voice"`
	VoiceSpeed int    `yaml:"voice_speed"`

	APIKey string `yaml:"-"`
}

type IPCConfig struct {
	Socket string `yaml:"socket"`
}

type MetricsConfig struct {
	// Listen is the address of the /metrics endpoint; empty disables it.
	Listen string `yaml:"listen"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		VAD: DefaultVAD(),
		Playback: PlaybackConfig{
			SampleRate:    44100,
			DuckFactor:    0.3,
			DuckMinVolume: 10,
			DuckFade:      300 * time.Millisecond,
			SelfNames:     []string{"hark", "ALSA plug-in [hark]"},
		},
		Backend: BackendConfig{
			Mode:      BackendWebSocket,
			URL:       "ws://localhost:5000/ws",
			Reconnect: 2 * time.Second,
		},
		Local: LocalConfig{
			WhisperModel: "models/ggml-base.bin",
			Language:     "auto",
			History:      4,
			Timeout:      60 * time.Second,
		},
		IPC: IPCConfig{Socket: "/tmp/hark.sock"},
	}
}

func DefaultVAD() VAD {
	return VAD{
		Threshold:         0.025,
		RawThreshold:      0.010,
		MinSpeech:         800 * time.Millisecond,
		EndSilence:        1600 * time.Millisecond,
		MaxUtterance:      18 * time.Second,
		PostTTSCooldown:   500 * time.Millisecond,
		Preroll:           500 * time.Millisecond,
		RingKeep:          20 * time.Second,
		BargeInThreshold:  0.008,
		BargeInDelay:      0,
		FrameSize:         2048,
		PollHz:            60,
		PendingFallback:   2 * time.Second,
		MinUtteranceBytes: 2048,
		TargetRate:        16000,
		MeterInterval:     time.Second,
	}
}
