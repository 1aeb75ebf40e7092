package app

import (
	"context"
	"sync"
	"time"

	"github.com/avrek/voxcall/internal/audio"
	"github.com/avrek/voxcall/internal/core"
)

// meterInterval caps the sampling cadence at roughly 60 reads per second.
const meterInterval = 16 * time.Millisecond

// meterWindow is the number of time-domain samples read per tick.
const meterWindow = 128

// levelMeter drives the "who is speaking" flags. It is a resource owned
// by one session: Start is idempotent, Stop cancels the loop and drops
// the attached sources. The loop parks itself when no source is attached.
type levelMeter struct {
	mu     sync.Mutex
	local  core.LevelSource
	remote core.LevelSource

	running bool
	cancel  context.CancelFunc

	interval  time.Duration
	muted     func() bool
	setLocal  func(bool)
	setRemote func(bool)
}

func newLevelMeter(muted func() bool, setLocal, setRemote func(bool)) *levelMeter {
	return &levelMeter{
		interval:  meterInterval,
		muted:     muted,
		setLocal:  setLocal,
		setRemote: setRemote,
	}
}

func (m *levelMeter) AttachLocal(src core.LevelSource) {
	m.mu.Lock()
	m.local = src
	m.mu.Unlock()
}

func (m *levelMeter) AttachRemote(src core.LevelSource) {
	m.mu.Lock()
	m.remote = src
	m.mu.Unlock()
}

// Start launches the loop once; further calls while running are no-ops.
func (m *levelMeter) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.cancel = cancel
	go m.loop(ctx)
}

// Stop cancels the loop and detaches both sources.
func (m *levelMeter) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.running = false
	m.local = nil
	m.remote = nil
}

func (m *levelMeter) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	buf := make([]byte, meterWindow)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(buf)
		}
	}
}

func (m *levelMeter) tick(buf []byte) {
	m.mu.Lock()
	local, remote := m.local, m.remote
	m.mu.Unlock()

	if local != nil {
		n := local.ReadSamples(buf)
		level := audio.ComputeLevel(buf[:n])
		m.setLocal(!m.muted() && level > audio.SpeakingThreshold)
	}
	if remote != nil {
		n := remote.ReadSamples(buf)
		level := audio.ComputeLevel(buf[:n])
		m.setRemote(level > audio.SpeakingThreshold)
	}
}
