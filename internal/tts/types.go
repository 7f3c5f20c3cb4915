// Package tts turns announcement text into sound. The arbiter owns exactly
// one Speaker; every implementation blocks until the utterance is over.
package tts

import "context"

// Audio is mono signed 16-bit little-endian PCM.
type Audio struct {
	PCM        []byte
	SampleRate int
}

// Synthesizer converts text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*Audio, error)
}

// Player plays PCM synchronously. Play returns when playback finishes or
// ctx is done.
type Player interface {
	Play(ctx context.Context, pcm []byte) error
	SampleRate() int
}
