package audio

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/avrek/voxcall/internal/core"
)

// LoopOptions tunes a single PlayLoop call.
type LoopOptions struct {
	Volume *float64
}

// PlayerFactory builds a player for a cue source. The playback adapter
// provides the real one; tests supply fakes.
type PlayerFactory func(core.CueSource) (core.CuePlayer, error)

// Cues plays named, looping sound cues independent of the call media
// path (ringtone and friends). One player per key, cached for the life
// of the process; the cue set is small and fixed so the cache is never
// evicted.
type Cues struct {
	mu      sync.Mutex
	factory PlayerFactory
	players map[string]core.CuePlayer
}

func NewCues(factory PlayerFactory) *Cues {
	return &Cues{
		factory: factory,
		players: make(map[string]core.CuePlayer),
	}
}

// PlayLoop starts (or restarts, from the beginning) the cue for key,
// lazily creating and caching its player. Failures are logged, not fatal.
func (c *Cues) PlayLoop(key string, src core.CueSource, opts *LoopOptions) {
	c.mu.Lock()
	player, ok := c.players[key]
	if !ok {
		var err error
		player, err = c.factory(src)
		if err != nil {
			c.mu.Unlock()
			log.Warn().Err(err).Str("module", "audio.cues").Str("key", key).Msg("create player failed")
			return
		}
		player.SetLoop(true)
		c.players[key] = player
	}
	c.mu.Unlock()

	if opts != nil && opts.Volume != nil {
		player.SetVolume(*opts.Volume)
	}
	player.Rewind()
	if err := player.Play(); err != nil {
		log.Warn().Err(err).Str("module", "audio.cues").Str("key", key).Msg("play failed")
	}
}

// Stop pauses and rewinds the cue for key; no-op if it was never played.
func (c *Cues) Stop(key string) {
	c.mu.Lock()
	player, ok := c.players[key]
	c.mu.Unlock()
	if !ok {
		return
	}
	player.Pause()
	player.Rewind()
}

// StopAll applies Stop semantics to every cached player.
func (c *Cues) StopAll() {
	c.mu.Lock()
	players := make([]core.CuePlayer, 0, len(c.players))
	for _, p := range c.players {
		players = append(players, p)
	}
	c.mu.Unlock()
	for _, p := range players {
		p.Pause()
		p.Rewind()
	}
}
