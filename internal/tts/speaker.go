package tts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vista/nav-gateway/internal/audio"
)

// AudioSpeaker synthesizes text and plays it to completion.
type AudioSpeaker struct {
	synth   Synthesizer
	player  Player
	volume  float64
	silence *audio.SilenceConfig
	logger  zerolog.Logger
}

// NewAudioSpeaker creates a speaker. volume is a linear gain; 1.0 leaves the
// synthesized level untouched.
func NewAudioSpeaker(synth Synthesizer, player Player, volume float64, logger zerolog.Logger) *AudioSpeaker {
	return &AudioSpeaker{
		synth:   synth,
		player:  player,
		volume:  volume,
		silence: audio.DefaultSilenceConfig(),
		logger:  logger,
	}
}

// Speak blocks until text has been played.
func (s *AudioSpeaker) Speak(ctx context.Context, text string) error {
	clip, err := s.synth.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}

	samples, err := audio.DecodePCM16(clip.PCM)
	if err != nil {
		return fmt.Errorf("decode audio: %w", err)
	}
	samples = audio.TrimSilence(samples, s.silence)
	samples = audio.Resample(samples, clip.SampleRate, s.player.SampleRate())
	samples = audio.ApplyGain(samples, s.volume)

	s.logger.Debug().
		Str("text", text).
		Dur("length", audio.Duration(len(samples), s.player.SampleRate())).
		Msg("Playing utterance")

	if err := s.player.Play(ctx, audio.EncodePCM16(samples)); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return nil
}

// LogSpeaker writes utterances to the log instead of a device. With a
// non-zero pace it also blocks for pace per word, approximating the time a
// real voice would hold the device.
type LogSpeaker struct {
	logger zerolog.Logger
	pace   time.Duration
}

// NewLogSpeaker creates a log-only speaker.
func NewLogSpeaker(logger zerolog.Logger, pace time.Duration) *LogSpeaker {
	return &LogSpeaker{logger: logger, pace: pace}
}

func (s *LogSpeaker) Speak(ctx context.Context, text string) error {
	s.logger.Info().Str("utterance", text).Msg("SPEAK")
	if s.pace <= 0 {
		return nil
	}

	timer := time.NewTimer(s.pace * time.Duration(len(strings.Fields(text))))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
