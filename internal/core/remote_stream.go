package core

import "sync"

// RemoteStream composes the remote tracks of a call as they arrive.
// The session replaces it with a fresh empty one on cleanup.
type RemoteStream struct {
	mu     sync.RWMutex
	tracks []RemoteTrack
}

func NewRemoteStream() *RemoteStream {
	return &RemoteStream{}
}

// AddTrack appends a track. Duplicate IDs are ignored.
func (s *RemoteStream) AddTrack(t RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.tracks {
		if have.ID() == t.ID() {
			return
		}
	}
	s.tracks = append(s.tracks, t)
}

// Tracks returns a snapshot in arrival order.
func (s *RemoteStream) Tracks() []RemoteTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RemoteTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *RemoteStream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracks)
}
