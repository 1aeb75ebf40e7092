package core

import (
	"context"

	"github.com/avrek/voxcall/internal/domain"
)

// Navigator is the fire-and-forget screen switch the UI shell provides.
type Navigator interface {
	ToCall(domain.CallID)
	ToRoot()
}

// Directory resolves display identities; used by the invite surface.
type Directory interface {
	UserByID(ctx context.Context, id domain.UserID) (*domain.UserProfile, error)
}

// CueSource is the decoded payload of a named sound cue.
type CueSource struct {
	Name       string
	PCM        []byte // interleaved S16LE
	SampleRate uint32
	Channels   uint32
}

// CuePlayer plays one cached cue. Players loop from the beginning each
// time PlayLoop restarts them.
type CuePlayer interface {
	Play() error
	Pause()
	Rewind()
	SetVolume(float64)
	SetLoop(bool)
}
