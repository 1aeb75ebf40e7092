package playback

import (
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/pion/opus"
	"github.com/rs/zerolog/log"

	"github.com/avrek/voxcall/internal/audio"
	"github.com/avrek/voxcall/internal/core"
)

const (
	// 20ms at 48kHz.
	samplesPerFrame = 960
	speakerRingSize = 4096
)

// Speaker plays the remote side of a call: it decodes each attached
// track's opus RTP into a shared queue that the output device drains.
type Speaker struct {
	engine *Engine
	queue  pcmQueue
	ring   *audio.SampleRing

	mu       sync.Mutex
	device   *malgo.Device
	volume   float64
	decoding map[string]bool
}

func NewSpeaker(engine *Engine) *Speaker {
	return &Speaker{
		engine:   engine,
		ring:     audio.NewSampleRing(speakerRingSize),
		volume:   1.0,
		decoding: make(map[string]bool),
	}
}

// Attach starts decoding every track of the stream that is not already
// being decoded. Safe to call again as tracks arrive.
func (s *Speaker) Attach(stream *core.RemoteStream) {
	s.mu.Lock()
	var fresh []core.RemoteTrack
	for _, tr := range stream.Tracks() {
		if s.decoding[tr.ID()] {
			continue
		}
		s.decoding[tr.ID()] = true
		fresh = append(fresh, tr)
	}
	s.mu.Unlock()

	for _, tr := range fresh {
		go s.decodeLoop(tr)
	}
}

func (s *Speaker) decodeLoop(tr core.RemoteTrack) {
	remote := tr.Remote()
	if remote == nil {
		return
	}
	decoder := opus.NewDecoder()
	pcm := make([]byte, samplesPerFrame*2*channels)

	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			log.Info().Err(err).Str("module", "playback").Str("track_id", tr.ID()).
				Msg("remote track done")
			s.mu.Lock()
			delete(s.decoding, tr.ID())
			s.mu.Unlock()
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		_, isStereo, err := decoder.Decode(pkt.Payload, pcm)
		if err != nil {
			log.Debug().Err(err).Str("module", "playback").Msg("opus decode")
			continue
		}

		frame := pcm[:samplesPerFrame*2]
		if isStereo {
			frame = pcm[:samplesPerFrame*2*2]
		} else {
			frame = monoToStereo(frame)
		}
		s.tapLevel(frame)
		s.queue.Write(frame)
	}
}

func (s *Speaker) tapLevel(frame []byte) {
	samples := make([]byte, 0, len(frame)/2)
	for i := 0; i+1 < len(frame); i += 2 {
		v := int16(uint16(frame[i]) | uint16(frame[i+1])<<8)
		samples = append(samples, byte(int(v>>8)+128))
	}
	s.ring.Push(samples)
}

func (s *Speaker) SetVolume(v float64) {
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

func (s *Speaker) getVolume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Play starts the output device. Idempotent.
func (s *Speaker) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device != nil {
		return nil
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = channels
	cfg.SampleRate = sampleRate

	device, err := malgo.InitDevice(s.engine.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			s.queue.Read(out)
			scaleS16(out, s.getVolume())
		},
	})
	if err != nil {
		return err
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return err
	}
	s.device = device
	log.Info().Str("module", "playback").Msg("speaker started")
	return nil
}

// Detach stops playback and forgets every track. The speaker can be
// reattached for the next call.
func (s *Speaker) Detach() {
	s.mu.Lock()
	device := s.device
	s.device = nil
	s.decoding = make(map[string]bool)
	s.mu.Unlock()

	if device != nil {
		if err := device.Stop(); err != nil {
			log.Warn().Err(err).Str("module", "playback").Msg("device stop")
		}
		device.Uninit()
	}
	s.queue.Reset()
}

func (s *Speaker) Level() core.LevelSource { return s.ring }

func monoToStereo(mono []byte) []byte {
	out := make([]byte, 0, len(mono)*2)
	for i := 0; i+1 < len(mono); i += 2 {
		out = append(out, mono[i], mono[i+1], mono[i], mono[i+1])
	}
	return out
}
