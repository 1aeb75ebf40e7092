//go:build linux

package capture

import (
	"context"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	mopus "github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/opus"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/avrek/voxcall/internal/audio"
	"github.com/avrek/voxcall/internal/core"
)

const (
	opusFrameDuration = 20 * time.Millisecond
	levelRingSize     = 4096
	decodeBufSize     = 1920 * 2
)

// Microphone captures local audio through pion/mediadevices and exposes
// it as opus sample tracks. One Open per call.
type Microphone struct{}

func NewMicrophone() *Microphone { return &Microphone{} }

func (m *Microphone) Open(ctx context.Context) (core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opusParams, err := mopus.NewParams()
	if err != nil {
		return nil, err
	}
	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithAudioEncoders(&opusParams),
	)

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: codecSelector,
	})
	if err != nil {
		return nil, err
	}

	ring := audio.NewSampleRing(levelRingSize)
	ms := &micStream{ring: ring}

	for _, track := range stream.GetAudioTracks() {
		track.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("module", "capture").Msg("local track ended")
			}
		})

		mt, err := newMicTrack(track, ring)
		if err != nil {
			log.Error().Err(err).Str("module", "capture").Str("track_id", track.ID()).
				Msg("track setup failed")
			track.Close()
			continue
		}
		ms.tracks = append(ms.tracks, mt)
	}

	if len(ms.tracks) == 0 {
		return nil, ErrNoMicrophone
	}
	log.Info().Str("module", "capture").Int("tracks", len(ms.tracks)).Msg("microphone captured")
	return ms, nil
}

type micStream struct {
	tracks []*micTrack
	ring   *audio.SampleRing
}

func (s *micStream) AudioTracks() []core.LocalTrack {
	out := make([]core.LocalTrack, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *micStream) Level() core.LevelSource { return s.ring }

func (s *micStream) Close() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// micTrack pumps the encoded capture into a sample track. Disabling the
// track stops the pump from writing, which the peer hears as silence,
// while the device stays open.
type micTrack struct {
	src mediadevices.Track
	enc mediadevices.EncodedReadCloser
	out *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled bool
	stopped bool

	decoder opus.Decoder
	ring    *audio.SampleRing
}

func newMicTrack(src mediadevices.Track, ring *audio.SampleRing) (*micTrack, error) {
	enc, err := src.NewEncodedReader(webrtc.MimeTypeOpus)
	if err != nil {
		return nil, err
	}
	out, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		src.ID(), "voxcall-mic",
	)
	if err != nil {
		_ = enc.Close()
		return nil, err
	}

	t := &micTrack{
		src:     src,
		enc:     enc,
		out:     out,
		enabled: true,
		decoder: opus.NewDecoder(),
		ring:    ring,
	}
	go t.pump()
	return t, nil
}

func (t *micTrack) pump() {
	pcm := make([]byte, decodeBufSize)
	for {
		buf, release, err := t.enc.Read()
		if err != nil {
			log.Info().Err(err).Str("module", "capture").Msg("encoded reader done")
			return
		}
		data := make([]byte, len(buf.Data))
		copy(data, buf.Data)
		if release != nil {
			release()
		}

		t.mu.Lock()
		enabled := t.enabled
		stopped := t.stopped
		t.mu.Unlock()
		if stopped {
			return
		}

		t.tapLevel(data, pcm)

		if !enabled {
			continue
		}
		if err := t.out.WriteSample(media.Sample{Data: data, Duration: opusFrameDuration}); err != nil {
			log.Warn().Err(err).Str("module", "capture").Msg("write sample")
		}
	}
}

// tapLevel decodes the frame back to PCM and feeds the meter ring with
// unsigned 8-bit samples.
func (t *micTrack) tapLevel(data, pcm []byte) {
	_, _, err := t.decoder.Decode(data, pcm)
	if err != nil {
		return
	}
	samples := make([]byte, 0, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		samples = append(samples, byte(int(s>>8)+128))
	}
	t.ring.Push(samples)
}

func (t *micTrack) ID() string { return t.src.ID() }

func (t *micTrack) SetEnabled(v bool) {
	t.mu.Lock()
	t.enabled = v
	t.mu.Unlock()
}

func (t *micTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *micTrack) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()

	_ = t.enc.Close()
	t.src.Close()
}

func (t *micTrack) WebRTC() webrtc.TrackLocal { return t.out }
