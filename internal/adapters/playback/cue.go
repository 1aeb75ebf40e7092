package playback

import (
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"

	"github.com/avrek/voxcall/internal/audio"
	"github.com/avrek/voxcall/internal/core"
)

// NewCueFactory builds the player factory the cue cache uses. Each cue
// gets its own output device so a ringtone can start and stop without
// touching call playback.
func NewCueFactory(engine *Engine) audio.PlayerFactory {
	return func(src core.CueSource) (core.CuePlayer, error) {
		return newCuePlayer(engine, src)
	}
}

// cuePlayer loops a fully decoded PCM clip through its own device.
type cuePlayer struct {
	engine *Engine
	src    core.CueSource

	mu      sync.Mutex
	device  *malgo.Device
	started bool
	pos     int
	loop    bool
	volume  float64
	playing bool
}

func newCuePlayer(engine *Engine, src core.CueSource) (*cuePlayer, error) {
	p := &cuePlayer{engine: engine, src: src, volume: 1.0}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(src.Channels)
	cfg.SampleRate = uint32(src.SampleRate)

	device, err := malgo.InitDevice(engine.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			p.fill(out)
		},
	})
	if err != nil {
		return nil, err
	}
	p.device = device
	return p, nil
}

// fill copies the next slice of the clip into the device buffer,
// wrapping when looping and going silent at the end otherwise.
func (p *cuePlayer) fill(out []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.playing || len(p.src.PCM) == 0 {
		for i := range out {
			out[i] = 0
		}
		return
	}

	written := 0
	for written < len(out) {
		if p.pos >= len(p.src.PCM) {
			if !p.loop {
				p.playing = false
				break
			}
			p.pos = 0
		}
		n := copy(out[written:], p.src.PCM[p.pos:])
		p.pos += n
		written += n
	}
	for i := written; i < len(out); i++ {
		out[i] = 0
	}
	scaleS16(out[:written], p.volume)
}

func (p *cuePlayer) Play() error {
	p.mu.Lock()
	p.playing = true
	needStart := !p.started
	p.started = true
	p.mu.Unlock()
	if !needStart {
		return nil
	}

	if err := p.device.Start(); err != nil {
		log.Warn().Err(err).Str("module", "playback").Str("cue", p.src.Name).Msg("cue start")
		p.mu.Lock()
		p.started = false
		p.playing = false
		p.mu.Unlock()
		return err
	}
	return nil
}

// Pause leaves the device running and mutes the clip; restarting a
// paused cue is then just a flag flip.
func (p *cuePlayer) Pause() {
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
}

func (p *cuePlayer) Rewind() {
	p.mu.Lock()
	p.pos = 0
	p.mu.Unlock()
}

func (p *cuePlayer) SetVolume(v float64) {
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
}

func (p *cuePlayer) SetLoop(loop bool) {
	p.mu.Lock()
	p.loop = loop
	p.mu.Unlock()
}
