package tts

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"
)

// OtoPlayer plays mono PCM16 on the system audio device. oto allows one
// context per process, so create a single OtoPlayer.
type OtoPlayer struct {
	ctx        *oto.Context
	sampleRate int
	logger     zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewOtoPlayer opens the audio device. It fails when no device is available.
func NewOtoPlayer(sampleRate int, logger zerolog.Logger) (*OtoPlayer, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, err
	}
	<-ready

	logger.Info().Int("sample_rate", sampleRate).Msg("Audio device initialized")
	return &OtoPlayer{ctx: ctx, sampleRate: sampleRate, logger: logger}, nil
}

// SampleRate returns the device sample rate.
func (p *OtoPlayer) SampleRate() int {
	return p.sampleRate
}

// Play blocks until pcm has been played or ctx is done.
func (p *OtoPlayer) Play(ctx context.Context, pcm []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPlayerClosed
	}
	if len(pcm) == 0 {
		return nil
	}

	player := p.ctx.NewPlayer(bytes.NewReader(pcm))
	defer player.Close()

	player.Play()
	p.logger.Debug().Int("bytes", len(pcm)).Msg("Playing audio")

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return player.Err()
}

// Close makes further Play calls fail. The oto context itself lives for the
// rest of the process.
func (p *OtoPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		return p.ctx.Suspend()
	}
	return nil
}
