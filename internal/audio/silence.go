package audio

// SilenceConfig controls TrimSilence.
type SilenceConfig struct {
	EnergyThreshold float64 // RMS under which a frame counts as silence
	FrameSize       int     // Samples per analysis frame
	PadFrames       int     // Silent frames kept on each side of the speech
}

// DefaultSilenceConfig suits 24kHz synthesized speech: 10ms frames and
// 30ms of padding.
func DefaultSilenceConfig() *SilenceConfig {
	return &SilenceConfig{
		EnergyThreshold: 200.0,
		FrameSize:       240,
		PadFrames:       3,
	}
}

// TrimSilence drops leading and trailing silent frames so the speech device
// is held only as long as the words take. All-silent input is returned
// unchanged.
func TrimSilence(samples []int16, config *SilenceConfig) []int16 {
	if config == nil {
		config = DefaultSilenceConfig()
	}
	frame := config.FrameSize
	if frame <= 0 || len(samples) <= frame {
		return samples
	}

	frames := (len(samples) + frame - 1) / frame
	first, last := -1, -1
	for i := 0; i < frames; i++ {
		if isSilent(frameAt(samples, i, frame), config.EnergyThreshold) {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		return samples
	}

	first -= config.PadFrames
	if first < 0 {
		first = 0
	}
	last += config.PadFrames
	if last >= frames {
		last = frames - 1
	}

	end := (last + 1) * frame
	if end > len(samples) {
		end = len(samples)
	}
	return samples[first*frame : end]
}

func frameAt(samples []int16, i, frame int) []int16 {
	end := (i + 1) * frame
	if end > len(samples) {
		end = len(samples)
	}
	return samples[i*frame : end]
}

func isSilent(samples []int16, threshold float64) bool {
	return CalculateRMS(samples) < threshold
}
