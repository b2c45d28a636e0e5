package negotiation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duocall/internal/media"
	"github.com/1ureka/duocall/internal/signaling"
)

// fakeTransport resolves every step synchronously and records what the
// engine asked of it.
type fakeTransport struct {
	offerSDP  string
	answerSDP string

	failCreateOffer  error
	failCreateAnswer error
	failSetRemote    error
	failRollback     error
	// entered, when set, makes CreateOffer signal and then wait for the
	// session to be cancelled.
	entered chan struct{}

	mu      sync.Mutex
	calls   []string
	remote  []webrtc.SessionDescription
	local   []webrtc.SessionDescription
	applied []webrtc.ICECandidateInit
	tracks  []webrtc.TrackLocal
	closes  int

	onCandidate func(*webrtc.ICECandidateInit)
	onTrack     func(media.RemoteTrack)
	onState     func(webrtc.PeerConnectionState)
}

func newFakeTransport(offerSDP, answerSDP string) *fakeTransport {
	return &fakeTransport{offerSDP: offerSDP, answerSDP: answerSDP}
}

func (f *fakeTransport) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeTransport) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	f.record("create-offer")
	if f.entered != nil {
		close(f.entered)
		<-ctx.Done()
		return webrtc.SessionDescription{}, ctx.Err()
	}
	if f.failCreateOffer != nil {
		return webrtc.SessionDescription{}, f.failCreateOffer
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: f.offerSDP}, nil
}

func (f *fakeTransport) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	f.record("create-answer")
	if f.failCreateAnswer != nil {
		return webrtc.SessionDescription{}, f.failCreateAnswer
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: f.answerSDP}, nil
}

func (f *fakeTransport) SetLocalDescription(ctx context.Context, sd webrtc.SessionDescription) error {
	f.record("set-local-" + sd.Type.String())
	f.mu.Lock()
	f.local = append(f.local, sd)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SetRemoteDescription(ctx context.Context, sd webrtc.SessionDescription) error {
	f.record("set-remote-" + sd.Type.String())
	if sd.SDP == "garbage" {
		return fmt.Errorf("%w: unparsable sdp", ErrInvalidDescription)
	}
	if f.failSetRemote != nil {
		return f.failSetRemote
	}
	f.mu.Lock()
	f.remote = append(f.remote, sd)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Rollback(ctx context.Context) error {
	f.record("rollback")
	return f.failRollback
}

func (f *fakeTransport) AddICECandidate(ctx context.Context, c webrtc.ICECandidateInit) error {
	f.record("add-candidate")
	f.mu.Lock()
	f.applied = append(f.applied, c)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) AddTrack(ctx context.Context, track webrtc.TrackLocal) error {
	f.record("add-track")
	f.mu.Lock()
	f.tracks = append(f.tracks, track)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) RemoveTrack(ctx context.Context, track webrtc.TrackLocal) error {
	f.record("remove-track")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = slices.DeleteFunc(f.tracks, func(t webrtc.TrackLocal) bool { return t == track })
	return nil
}

func (f *fakeTransport) trackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tracks)
}

func (f *fakeTransport) OnICECandidate(fn func(*webrtc.ICECandidateInit)) { f.onCandidate = fn }
func (f *fakeTransport) OnTrack(fn func(media.RemoteTrack))             { f.onTrack = fn }
func (f *fakeTransport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.onState = fn
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) appliedCandidates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.applied {
		out = append(out, c.Candidate)
	}
	return out
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// recorder is a Sender that keeps everything sent through it.
type recorder struct {
	mu   sync.Mutex
	msgs []signaling.Message
	err  error
}

func (r *recorder) Send(msg signaling.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) sent() []signaling.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]signaling.Message(nil), r.msgs...)
}

func (r *recorder) last() signaling.Message {
	msgs := r.sent()
	if len(msgs) == 0 {
		return signaling.Message{}
	}
	return msgs[len(msgs)-1]
}

// pipe delivers messages to an engine asynchronously and in order, like a
// relay would.
type pipe struct {
	ch chan signaling.Message
}

func newPipe() *pipe { return &pipe{ch: make(chan signaling.Message, 32)} }

func (p *pipe) Send(msg signaling.Message) error {
	p.ch <- msg
	return nil
}

func (p *pipe) deliverTo(e *Engine) {
	go func() {
		for msg := range p.ch {
			if err := e.HandleMessage(msg); errors.Is(err, ErrSessionClosed) {
				return
			}
		}
	}()
}

type fakeSource struct {
	err      error
	mu       sync.Mutex
	acquired int
}

func (s *fakeSource) Acquire(ctx context.Context, video, audio bool) (*media.TrackSet, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	s.acquired++
	s.mu.Unlock()
	return (&media.FileSource{}).Acquire(ctx, video, audio)
}

func (s *fakeSource) acquiredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

type fakeRemote struct{ id string }

func (r fakeRemote) ID() string                { return r.id }
func (r fakeRemote) StreamID() string          { return "remote" }
func (r fakeRemote) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeVideo }
func (r fakeRemote) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{}
}
func (r fakeRemote) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, errors.New("not readable")
}

type sinkRecorder struct {
	mu     sync.Mutex
	local  []*media.TrackSet
	remote []string
}

func (s *sinkRecorder) ShowLocal(tracks *media.TrackSet) {
	s.mu.Lock()
	s.local = append(s.local, tracks)
	s.mu.Unlock()
}

func (s *sinkRecorder) ShowRemote(track media.RemoteTrack) {
	s.mu.Lock()
	s.remote = append(s.remote, track.ID())
	s.mu.Unlock()
}

func (s *sinkRecorder) remoteIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.remote...)
}

func (s *sinkRecorder) localCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.local)
}
