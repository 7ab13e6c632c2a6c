package audio

import "math"

// EnergyDetector classifies analysis frames by RMS loudness.
type EnergyDetector struct {
	// Threshold applies when the microphone runs with platform processing.
	Threshold float64
	// RawThreshold applies to unprocessed capture, whose noise floor sits higher.
	RawThreshold float64
	// BargeInThreshold is only used to decide whether the user is talking over
	// agent playback.
	BargeInThreshold float64
}

// RMS is sqrt(mean(x^2)); an empty frame has zero energy.
func RMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var s float64
	for _, x := range frame {
		v := float64(x)
		s += v * v
	}
	return math.Sqrt(s / float64(len(frame)))
}

// ActiveThreshold returns the segmentation threshold for the capture mode.
func (d EnergyDetector) ActiveThreshold(raw bool) float64 {
	if raw {
		return d.RawThreshold
	}
	return d.Threshold
}

func (d EnergyDetector) Loud(rms float64, raw bool) bool {
	return rms >= d.ActiveThreshold(raw)
}

func (d EnergyDetector) LoudForBargeIn(rms float64) bool {
	return rms >= d.BargeInThreshold
}
