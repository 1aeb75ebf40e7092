package app

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/avrek/voxcall/internal/core"
	"github.com/avrek/voxcall/internal/domain"
)

// fakeTransport records publishes and lets tests inject inbound frames.
type fakeTransport struct {
	mu         sync.Mutex
	handlers   map[string][]func(core.Frame)
	published  []publishedFrame
	connectErr error
	publishErr error
	connected  bool
}

type publishedFrame struct {
	destination string
	body        []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string][]func(core.Frame))}
}

func (t *fakeTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return t.connectErr
	}
	t.connected = true
	return nil
}

func (t *fakeTransport) Subscribe(topic string, handler func(core.Frame)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[topic] = append(t.handlers[topic], handler)
}

func (t *fakeTransport) Publish(destination string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.publishErr != nil {
		return t.publishErr
	}
	t.published = append(t.published, publishedFrame{destination: destination, body: b})
	return nil
}

func (t *fakeTransport) Close() {}

// deliver injects an inbound frame on a topic, as the broker would.
func (t *fakeTransport) deliver(topic string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	t.mu.Lock()
	handlers := append([]func(core.Frame){}, t.handlers[topic]...)
	t.mu.Unlock()
	for _, h := range handlers {
		h(core.Frame(b))
	}
}

func (t *fakeTransport) publishedTo(destination string) [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out [][]byte
	for _, p := range t.published {
		if p.destination == destination {
			out = append(out, p.body)
		}
	}
	return out
}

func (t *fakeTransport) subscribedTopics() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.handlers))
	for topic := range t.handlers {
		out = append(out, topic)
	}
	return out
}

type fakeNav struct {
	mu     sync.Mutex
	toCall []domain.CallID
	toRoot int
}

func (n *fakeNav) ToCall(id domain.CallID) {
	n.mu.Lock()
	n.toCall = append(n.toCall, id)
	n.mu.Unlock()
}

func (n *fakeNav) ToRoot() {
	n.mu.Lock()
	n.toRoot++
	n.mu.Unlock()
}

func (n *fakeNav) toCallCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.toCall)
}

func (n *fakeNav) toRootCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.toRoot
}

// fakeLink is a scriptable media connection.
type fakeLink struct {
	mu             sync.Mutex
	negotiation    core.NegotiationState
	hasRemote      bool
	offerErr       error
	answerErr      error
	applyOfferErr  error
	applyAnswerErr error
	applied        []domain.IceCandidate
	addedTracks    []string
	onICE          func(domain.IceCandidate)
	onTrack        func(core.RemoteTrack)
	closed         bool
}

func (l *fakeLink) CreateOffer(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offerErr != nil {
		return "", l.offerErr
	}
	l.negotiation = core.NegotiationHaveLocalOffer
	return "offer-sdp", nil
}

func (l *fakeLink) CreateAnswer(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.answerErr != nil {
		return "", l.answerErr
	}
	l.negotiation = core.NegotiationStable
	return "answer-sdp", nil
}

func (l *fakeLink) ApplyRemoteOffer(sdp string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.applyOfferErr != nil {
		return l.applyOfferErr
	}
	l.hasRemote = true
	l.negotiation = core.NegotiationHaveRemoteOffer
	return nil
}

func (l *fakeLink) ApplyRemoteAnswer(sdp string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.applyAnswerErr != nil {
		return l.applyAnswerErr
	}
	l.hasRemote = true
	l.negotiation = core.NegotiationStable
	return nil
}

func (l *fakeLink) NegotiationState() core.NegotiationState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.negotiation
}

func (l *fakeLink) HasRemoteDescription() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasRemote
}

func (l *fakeLink) AddICECandidate(ice domain.IceCandidate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applied = append(l.applied, ice)
	return nil
}

func (l *fakeLink) AddLocalTrack(track core.LocalTrack) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range l.addedTracks {
		if id == track.ID() {
			return nil
		}
	}
	l.addedTracks = append(l.addedTracks, track.ID())
	return nil
}

func (l *fakeLink) OnICECandidate(fn func(domain.IceCandidate)) {
	l.mu.Lock()
	l.onICE = fn
	l.mu.Unlock()
}

func (l *fakeLink) OnTrack(fn func(core.RemoteTrack)) {
	l.mu.Lock()
	l.onTrack = fn
	l.mu.Unlock()
}

func (l *fakeLink) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func (l *fakeLink) fireICE(ice domain.IceCandidate) {
	l.mu.Lock()
	fn := l.onICE
	l.mu.Unlock()
	if fn != nil {
		fn(ice)
	}
}

func (l *fakeLink) fireTrack(rt core.RemoteTrack) {
	l.mu.Lock()
	fn := l.onTrack
	l.mu.Unlock()
	if fn != nil {
		fn(rt)
	}
}

func (l *fakeLink) appliedCandidates() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.applied))
	for i, c := range l.applied {
		out[i] = c.Candidate
	}
	return out
}

type fakeLevel struct {
	samples []byte
}

func (f *fakeLevel) ReadSamples(buf []byte) int {
	return copy(buf, f.samples)
}

type fakeTrack struct {
	mu      sync.Mutex
	id      string
	enabled bool
	stopped bool
}

func newFakeTrack(id string) *fakeTrack {
	return &fakeTrack{id: id, enabled: true}
}

func (t *fakeTrack) ID() string { return t.id }

func (t *fakeTrack) SetEnabled(v bool) {
	t.mu.Lock()
	t.enabled = v
	t.mu.Unlock()
}

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTrack) WebRTC() webrtc.TrackLocal { return nil }

type fakeStream struct {
	tracks []*fakeTrack
	level  *fakeLevel
	closed bool
}

func newFakeStream(trackIDs ...string) *fakeStream {
	s := &fakeStream{level: &fakeLevel{}}
	for _, id := range trackIDs {
		s.tracks = append(s.tracks, newFakeTrack(id))
	}
	return s
}

func (s *fakeStream) AudioTracks() []core.LocalTrack {
	out := make([]core.LocalTrack, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *fakeStream) Level() core.LevelSource { return s.level }

func (s *fakeStream) Close() { s.closed = true }

type fakeCapture struct {
	mu      sync.Mutex
	stream  *fakeStream
	openErr error
	opens   int
	gate    chan struct{} // when set, Open blocks until it closes
}

func (c *fakeCapture) Open(ctx context.Context) (core.LocalStream, error) {
	c.mu.Lock()
	c.opens++
	stream := c.stream
	err := c.openErr
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (c *fakeCapture) openCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}

type fakeRemoteTrack struct {
	mu       sync.Mutex
	id       string
	onActive func()
	active   bool
}

func (t *fakeRemoteTrack) ID() string   { return t.id }
func (t *fakeRemoteTrack) Kind() string { return "audio" }

func (t *fakeRemoteTrack) OnActive(fn func()) {
	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		fn()
		return
	}
	t.onActive = fn
	t.mu.Unlock()
}

func (t *fakeRemoteTrack) Remote() *webrtc.TrackRemote { return nil }

func (t *fakeRemoteTrack) activate() {
	t.mu.Lock()
	t.active = true
	fn := t.onActive
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeSink struct {
	mu       sync.Mutex
	attached *core.RemoteStream
	volume   float64
	plays    int
	detaches int
	level    *fakeLevel
}

func newFakeSink() *fakeSink {
	return &fakeSink{level: &fakeLevel{}, volume: 1.0}
}

func (s *fakeSink) Attach(stream *core.RemoteStream) {
	s.mu.Lock()
	s.attached = stream
	s.mu.Unlock()
}

func (s *fakeSink) SetVolume(v float64) {
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

func (s *fakeSink) Play() error {
	s.mu.Lock()
	s.plays++
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) Detach() {
	s.mu.Lock()
	s.detaches++
	s.attached = nil
	s.mu.Unlock()
}

func (s *fakeSink) Level() core.LevelSource { return s.level }

func (s *fakeSink) getVolume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}
