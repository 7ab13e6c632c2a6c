package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/faiface/beep"
	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/lmittmann/tint"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"hark/internal/agent"
	"hark/internal/audio"
	"hark/internal/config"
	"hark/internal/dispatch"
	"hark/internal/handsfree"
	"hark/internal/ipc"
	"hark/internal/metrics"
	"hark/internal/notify"
	"hark/internal/playback"
	"hark/internal/proxy"
	"hark/internal/tts"
	"hark/internal/turn"
	"hark/pkg/stt"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	configPath := cli.StringP("config", "c", "", "Config file path")
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "", "Log level, overrides the config")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks proxy address, overrides the config")
	cli.Parse()

	_ = godotenv.Load(*envFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("Failed to load config", "path", *configPath, "err", err)
		os.Exit(1)
	}
	config.ApplyEnv(cfg, os.Getenv)
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *proxyAddr != "" {
		cfg.Proxy = *proxyAddr
	}

	setupLogger(cfg.Log)
	log.Info("Booting up")
	for _, w := range config.Warnings(cfg) {
		log.Warn(w)
	}

	if err := run(cfg, *configPath); err != nil {
		log.Error("Daemon failed", "err", err)
		os.Exit(1)
	}
	log.Info("Shut down")
}

func setupLogger(c config.LogConfig) {
	level, ok := logLevelMap[c.Level]
	if !ok {
		level = log.LevelInfo
	}
	var h log.Handler
	if c.Format == "json" {
		h = log.NewJSONHandler(os.Stdout, &log.HandlerOptions{Level: level})
	} else {
		h = tint.NewHandler(os.Stdout, &tint.Options{Level: level, TimeFormat: time.TimeOnly})
	}
	log.SetDefault(log.New(h))
}

func run(cfg *config.Config, configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mic := audio.PortAudio{}
	if err := mic.Init(); err != nil {
		return err
	}
	defer mic.Terminate()
	log.Debug("Loaded audio")

	out, err := playback.InitSpeaker(cfg.Playback.SampleRate)
	if err != nil {
		return err
	}

	lc := turn.NewLifecycle(cfg.VAD.PendingFallback)
	player := playback.NewPlayer(playback.Config{
		SampleRate: cfg.Playback.SampleRate,
		Volume:     cfg.Playback.Volume,
	}, out, lc, log.Default())
	lc.SetPlayback(player)
	if cfg.Playback.Duck {
		player.SetDucker(audio.NewDucker(audio.DuckConfig{
			SelfNames: cfg.Playback.SelfNames,
			Factor:    cfg.Playback.DuckFactor,
			MinVolume: cfg.Playback.DuckMinVolume,
			Fade:      cfg.Playback.DuckFade,
		}))
	}

	chime := notify.ToneChime(beep.SampleRate(cfg.Playback.SampleRate))
	if cfg.Playback.Chime != "" {
		if chime, err = notify.LoadChime(cfg.Playback.Chime); err != nil {
			return err
		}
	}
	log.Debug("Loaded playback", "rate", cfg.Playback.SampleRate, "duck", cfg.Playback.Duck)

	var m *metrics.Metrics
	if cfg.Metrics.Listen != "" {
		m = metrics.New()
	}

	// reply events arrive only after the controller below exists
	var ctrl *handsfree.Controller
	ev := dispatch.Events{
		OnStatus: func(msg string) {
			ctrl.Publish(handsfree.Event{Kind: handsfree.KindStatus, Message: msg})
		},
		OnMessage: func(role, text string) {
			ctrl.Publish(handsfree.Event{Kind: handsfree.KindMessage, Role: role, Message: text})
		},
		OnError: func(err error) {
			ctrl.Publish(handsfree.Event{Kind: handsfree.KindError, Message: err.Error()})
		},
		OnAudio: func(data []byte) {
			if err := player.Play(ctx, data); err != nil {
				ctrl.Publish(handsfree.Event{Kind: handsfree.KindError, Message: err.Error()})
			}
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	var (
		backend    dispatch.Dispatcher
		runBackend func(context.Context) error
	)
	switch cfg.Backend.Mode {
	case config.BackendLocal:
		local, closeLocal, err := newLocalBackend(cfg, ev)
		if err != nil {
			return err
		}
		defer closeLocal()
		backend = local

	default:
		dialer, err := proxy.NewWebSocketDialer(cfg.Proxy)
		if err != nil {
			return err
		}
		remote, err := dispatch.NewWS(ctx, dispatch.WSConfig{
			URL:         cfg.Backend.URL,
			Dialer:      dialer,
			Reconnect:   cfg.Backend.Reconnect,
			SessionUser: cfg.Backend.SessionUser,
		}, ev, log.Default())
		if err != nil {
			return err
		}
		defer remote.Close()
		backend = remote
		runBackend = remote.Run
	}
	log.Debug("Loaded backend", "mode", cfg.Backend.Mode)

	ctrl = handsfree.NewController(handsfree.ControllerConfig{
		VAD: cfg.VAD,
		Capture: audio.CaptureConfig{
			Device:    cfg.Audio.Device,
			RawDevice: cfg.Audio.RawDevice,
			Raw:       cfg.Audio.Raw,
		},
		Playback: player,
		Chime:    func() { player.PlayCue(chime.Streamer(), chime.SampleRate()) },
	}, handsfree.Deps{
		Opener:     mic,
		Lifecycle:  lc,
		Dispatcher: backend,
		Metrics:    m,
		Log:        log.Default(),
	})
	defer ctrl.Close()

	if runBackend != nil {
		g.Go(func() error { return runBackend(gctx) })
	}
	g.Go(func() error {
		return ipc.Serve(gctx, cfg.IPC.Socket, control(ctrl))
	})
	g.Go(func() error {
		logEvents(gctx, ctrl.Events())
		return nil
	})
	if m != nil {
		g.Go(func() error { return m.Serve(gctx, cfg.Metrics.Listen) })
	}
	if configPath != "" {
		w := config.NewWatcher(configPath, func(next *config.Config) {
			if err := ctrl.Reconfigure(next.VAD); err != nil {
				log.Error("Failed to apply config", "err", err)
			}
		}, log.Default())
		g.Go(func() error { return w.Run(gctx) })
	}

	if cfg.HandsFree {
		if err := ctrl.SetHandsFree(ctx, true); err != nil {
			log.Error("Failed to start hands-free", "err", err)
		}
	}

	log.Info("Boot up - successful", "socket", cfg.IPC.Socket, "backend", cfg.Backend.Mode)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newLocalBackend(cfg *config.Config, ev dispatch.Events) (*dispatch.Local, func(), error) {
	if cfg.Local.APIKey == "" {
		return nil, nil, errors.New(config.EnvAPIKey + " not set")
	}
	httpClient, err := proxy.NewSocksClient(cfg.Proxy)
	if err != nil {
		return nil, nil, err
	}
	client := openai.NewClient(
		option.WithAPIKey(cfg.Local.APIKey),
		option.WithHTTPClient(httpClient),
	)

	whisper, err := stt.NewTranscriber(cfg.Local.WhisperModel, stt.Options{
		Language: cfg.Local.Language,
		Threads:  cfg.Local.Threads,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Debug("Loaded whisper", "model", cfg.Local.WhisperModel)

	replier := agent.NewReplier(client, agent.Config{
		Model:        cfg.Local.Model,
		SystemPrompt: cfg.Local.SystemPrompt,
		History:      cfg.Local.History,
	})
	transcribe := func(ctx context.Context, pcm []float32) (string, error) {
		res, err := whisper.Transcribe(ctx, pcm)
		return res.Text, err
	}
	local := dispatch.NewLocal(transcribe, stt.SampleRate, replier, cfg.Local.Timeout, ev, log.Default())
	if cfg.Local.Voice != "" {
		local.SetVoice(tts.NewEspeak(cfg.Local.Voice, cfg.Local.VoiceSpeed))
	}
	return local, func() { _ = whisper.Close() }, nil
}
