package tts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

// CachingSynthesizer keeps synthesized audio in memory and, when dir is
// set, on disk. Guidance phrases are few and repeat constantly, so most
// utterances skip the network after the first one. Keys include the voice,
// so changing it misses.
type CachingSynthesizer struct {
	next   Synthesizer
	voice  string
	dir    string
	logger zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*Audio
	hits    int64
	misses  int64
}

// NewCachingSynthesizer wraps next. An empty dir disables the disk layer.
func NewCachingSynthesizer(next Synthesizer, voice, dir string, logger zerolog.Logger) *CachingSynthesizer {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error().Err(err).Str("dir", dir).Msg("Failed to create audio cache dir")
			dir = ""
		}
	}
	return &CachingSynthesizer{
		next:    next,
		voice:   voice,
		dir:     dir,
		logger:  logger,
		entries: make(map[string]*Audio),
	}
}

// Synthesize returns cached audio for text or synthesizes and stores it.
func (c *CachingSynthesizer) Synthesize(ctx context.Context, text string) (*Audio, error) {
	key := c.key(text)

	c.mu.RLock()
	audio, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.count(true)
		return audio, nil
	}

	if audio, ok := c.readDisk(key); ok {
		c.store(key, audio)
		c.count(true)
		c.logger.Debug().Str("text", text).Msg("Audio cache hit (disk)")
		return audio, nil
	}

	c.count(false)
	audio, err := c.next.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(key, audio)
	c.writeDisk(key, audio)
	return audio, nil
}

// Prefetch synthesizes texts ahead of time. Failures are logged only.
func (c *CachingSynthesizer) Prefetch(ctx context.Context, texts ...string) {
	for _, text := range texts {
		if _, err := c.Synthesize(ctx, text); err != nil {
			c.logger.Warn().Err(err).Str("text", text).Msg("Audio prefetch failed")
		}
	}
}

// Stats returns hit and miss counts.
func (c *CachingSynthesizer) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// Len returns the number of in-memory entries.
func (c *CachingSynthesizer) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *CachingSynthesizer) count(hit bool) {
	c.mu.Lock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
}

func (c *CachingSynthesizer) store(key string, audio *Audio) {
	c.mu.Lock()
	c.entries[key] = audio
	c.mu.Unlock()
}

func (c *CachingSynthesizer) key(text string) string {
	h := sha256.Sum256([]byte(c.voice + ":" + text))
	return hex.EncodeToString(h[:])
}

// Disk entries are named <key>.<rate>.pcm so the rate survives a restart.
func (c *CachingSynthesizer) readDisk(key string) (*Audio, bool) {
	if c.dir == "" {
		return nil, false
	}
	matches, err := filepath.Glob(filepath.Join(c.dir, key+".*.pcm"))
	if err != nil || len(matches) == 0 {
		return nil, false
	}
	path := matches[0]
	rate, err := strconv.Atoi(filepath.Ext(path[:len(path)-len(".pcm")])[1:])
	if err != nil || rate <= 0 {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return &Audio{PCM: data, SampleRate: rate}, true
}

func (c *CachingSynthesizer) writeDisk(key string, audio *Audio) {
	if c.dir == "" {
		return
	}
	path := filepath.Join(c.dir, key+"."+strconv.Itoa(audio.SampleRate)+".pcm")
	if err := os.WriteFile(path, audio.PCM, 0o644); err != nil {
		c.logger.Error().Err(err).Str("path", path).Msg("Audio cache disk write failed")
	}
}
