package playback

import (
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"
)

const (
	sampleRate = 48000
	channels   = 2
)

// Engine owns the miniaudio context shared by every output device in
// the process.
type Engine struct {
	ctx *malgo.AllocatedContext

	mu     sync.Mutex
	closed bool
}

func NewEngine() (*Engine, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug().Str("module", "playback").Msg(message)
	})
	if err != nil {
		return nil, err
	}
	return &Engine{ctx: ctx}, nil
}

func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	if err := e.ctx.Uninit(); err != nil {
		log.Warn().Err(err).Str("module", "playback").Msg("context uninit")
	}
	e.ctx.Free()
}

// pcmQueue is a mutex-guarded S16LE byte FIFO between the decoder and
// the device callback. Underruns read as silence.
type pcmQueue struct {
	mu  sync.Mutex
	buf []byte
}

func (q *pcmQueue) Write(p []byte) {
	q.mu.Lock()
	q.buf = append(q.buf, p...)
	q.mu.Unlock()
}

// Read fills p from the queue, zero-padding whatever is missing.
func (q *pcmQueue) Read(p []byte) {
	q.mu.Lock()
	n := copy(p, q.buf)
	q.buf = q.buf[n:]
	q.mu.Unlock()
	for i := n; i < len(p); i++ {
		p[i] = 0
	}
}

func (q *pcmQueue) Reset() {
	q.mu.Lock()
	q.buf = q.buf[:0]
	q.mu.Unlock()
}

// scaleS16 applies a linear volume to interleaved S16LE samples in place.
func scaleS16(p []byte, volume float64) {
	if volume >= 1.0 {
		return
	}
	for i := 0; i+1 < len(p); i += 2 {
		s := int16(uint16(p[i]) | uint16(p[i+1])<<8)
		v := int16(float64(s) * volume)
		p[i] = byte(v)
		p[i+1] = byte(uint16(v) >> 8)
	}
}
