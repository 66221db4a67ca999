// Package indicator plays short audio cues around listening sessions.
package indicator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// cueTimeout bounds one cue playback.
const cueTimeout = 2 * time.Second

// Player renders PCM. audio.Backend satisfies it.
type Player interface {
	Play(ctx context.Context, samples []int16, sampleRate int) error
}

// Cues plays start, stop and error tones without blocking the caller.
type Cues struct {
	player  Player
	enabled bool
	logger  *slog.Logger

	soundMu sync.Mutex
	wg      sync.WaitGroup
}

// NewCues builds a cue player. A nil player or enabled=false makes every cue a no-op.
func NewCues(player Player, enabled bool, logger *slog.Logger) *Cues {
	return &Cues{player: player, enabled: enabled, logger: logger}
}

// CueStart marks the start of listening.
func (c *Cues) CueStart(ctx context.Context) {
	c.playCue(ctx, cueStart)
}

// CueStop marks the end of listening.
func (c *Cues) CueStop(ctx context.Context) {
	c.playCue(ctx, cueStop)
}

// CueError marks a recognition failure.
func (c *Cues) CueError(ctx context.Context) {
	c.playCue(ctx, cueError)
}

// Wait blocks until queued cues have played.
func (c *Cues) Wait() {
	c.wg.Wait()
}

// playCue serializes cue playback and emits audio asynchronously.
func (c *Cues) playCue(ctx context.Context, kind cueKind) {
	if !c.enabled || c.player == nil {
		return
	}
	samples := cueSamples(kind)
	if len(samples) == 0 {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.soundMu.Lock()
		defer c.soundMu.Unlock()

		playCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cueTimeout)
		defer cancel()
		if err := c.player.Play(playCtx, samples, cueSampleRate); err != nil {
			c.log("indicator audio cue failed", err)
		}
	}()
}

// log emits debug-only cue failures to the runtime logger.
func (c *Cues) log(message string, err error) {
	if c.logger == nil || err == nil {
		return
	}
	c.logger.Debug(message, "error", err.Error())
}
