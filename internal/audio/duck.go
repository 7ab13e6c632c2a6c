package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxVolumePercent = 150

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

type sinkInput struct {
	ID      int
	Volume  int
	AppName string
}

type fadeTarget struct {
	id   int
	from int
	to   int
}

type DuckConfig struct {
	// SelfNames are application.name values of our own streams, never ducked.
	SelfNames []string
	// Factor scales other streams' volume while the agent speaks.
	Factor    float64
	MinVolume int
	Fade      time.Duration
}

// runFunc runs an external command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Ducker fades other applications' PulseAudio sink inputs down while the agent
// speaks and back afterwards.
type Ducker struct {
	cfg DuckConfig
	run runFunc

	mu       sync.Mutex
	active   bool
	original map[int]int
}

func NewDucker(cfg DuckConfig) *Ducker {
	cfg.MinVolume = min(max(cfg.MinVolume, 0), maxVolumePercent)
	if cfg.Factor <= 0 || cfg.Factor > 1 {
		cfg.Factor = 1
	}
	return &Ducker{
		cfg:      cfg,
		run:      execRun,
		original: make(map[int]int),
	}
}

// Duck lowers every foreign stream to volume*Factor, not below MinVolume.
func (d *Ducker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	streams, err := d.list(ctx)
	if err != nil {
		return err
	}

	d.original = make(map[int]int)
	var targets []fadeTarget
	for _, s := range streams {
		if d.isSelf(s) {
			continue
		}
		to := max(float64(s.Volume)*d.cfg.Factor, float64(d.cfg.MinVolume))
		to = min(to, maxVolumePercent)

		d.original[s.ID] = s.Volume
		targets = append(targets, fadeTarget{id: s.ID, from: s.Volume, to: int(math.Round(to))})
	}

	d.active = true
	return d.fade(ctx, targets)
}

// Unduck restores the streams ducked by the last Duck. Streams that appeared
// since are left alone.
func (d *Ducker) Unduck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}
	d.active = false

	streams, err := d.list(ctx)
	if err != nil {
		return err
	}

	var targets []fadeTarget
	for _, s := range streams {
		orig, ok := d.original[s.ID]
		if !ok || d.isSelf(s) {
			continue
		}
		targets = append(targets, fadeTarget{id: s.ID, from: s.Volume, to: orig})
	}
	d.original = make(map[int]int)

	return d.fade(ctx, targets)
}

func (d *Ducker) isSelf(s sinkInput) bool {
	return slices.Contains(d.cfg.SelfNames, s.AppName)
}

func (d *Ducker) fade(ctx context.Context, targets []fadeTarget) error {
	if len(targets) == 0 {
		return nil
	}

	const minStep = 10 * time.Millisecond
	steps := max(int(d.cfg.Fade/minStep), 1)
	stepDur := d.cfg.Fade / time.Duration(steps)
	if d.cfg.Fade <= 0 {
		steps, stepDur = 1, 0
	}

	for i := 1; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		frac := float64(i) / float64(steps)
		for _, t := range targets {
			v := int(math.Round(float64(t.from) + float64(t.to-t.from)*frac))
			if err := d.setVolume(ctx, t.id, v); err != nil {
				return fmt.Errorf("set volume id=%d: %w", t.id, err)
			}
		}
		if i < steps {
			time.Sleep(stepDur)
		}
	}
	return nil
}

func (d *Ducker) list(ctx context.Context) ([]sinkInput, error) {
	out, err := d.run(ctx, "pactl", "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return parseSinkInputs(string(out)), nil
}

func (d *Ducker) setVolume(ctx context.Context, id, percent int) error {
	percent = min(max(percent, 0), maxVolumePercent)
	_, err := d.run(ctx, "pactl", "set-sink-input-volume", strconv.Itoa(id), fmt.Sprintf("%d%%", percent))
	return err
}

// parseSinkInputs reads the output of `pactl list sink-inputs`.
func parseSinkInputs(text string) []sinkInput {
	parts := strings.Split(text, "Sink Input #")
	var res []sinkInput

	for _, block := range parts[1:] {
		idLine, body, ok := strings.Cut(block, "\n")
		if !ok {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(idLine))
		if err != nil {
			continue
		}

		s := sinkInput{ID: id}
		for line := range strings.Lines(body) {
			line = strings.TrimSpace(line)

			if strings.HasPrefix(line, "Volume:") && s.Volume == 0 {
				if m := percentRe.FindStringSubmatch(line); len(m) == 2 {
					s.Volume, _ = strconv.Atoi(m[1])
				}
			}
			if rest, ok := strings.CutPrefix(line, "application.name = "); ok && s.AppName == "" {
				s.AppName = strings.Trim(rest, `"`)
			}
		}

		if s.Volume == 0 && s.AppName == "" {
			continue
		}
		res = append(res, s)
	}
	return res
}
