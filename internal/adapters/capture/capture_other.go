//go:build !linux

package capture

import (
	"context"

	"github.com/avrek/voxcall/internal/core"
)

// Microphone is a stub on platforms without a capture backend.
type Microphone struct{}

func NewMicrophone() *Microphone { return &Microphone{} }

func (m *Microphone) Open(ctx context.Context) (core.LocalStream, error) {
	return nil, ErrNoMicrophone
}
