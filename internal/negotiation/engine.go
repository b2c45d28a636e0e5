// Package negotiation runs the offer/answer exchange of a two-party call.
//
// An Engine owns one CallSession and processes every input (user actions,
// inbound signaling messages, transport callbacks) on a single goroutine,
// one at a time and to completion. Closing the engine cancels the session
// context so that an in-flight transport step gives up and its result is
// discarded.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duocall/internal/media"
	"github.com/1ureka/duocall/internal/signaling"
	"github.com/1ureka/duocall/internal/util"
)

// Config wires an Engine to its collaborators.
type Config struct {
	RoomID    string
	Transport Transport
	Sender    Sender
	// Source provides local tracks the first time they are needed. A nil
	// source makes every offer and answer fail with ErrNegotiationFailed.
	Source media.Source
	Video  bool
	Audio  bool
}

// Engine is the negotiation state machine of one CallSession.
type Engine struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc
	queue  *eventQueue
	done   chan struct{}
	state  atomic.Int32

	mu       sync.Mutex
	closing  bool
	finished bool
	reason   error
	closeErr error
	snap     CallSession
	onClosed func(error)
	onError  func(error)

	// Owned by the loop goroutine.
	session      *CallSession
	localSink    media.LocalSink
	remoteSink   media.RemoteSink
	remoteTracks []media.RemoteTrack
}

// New creates an idle engine and starts its loop.
func New(cfg Config) (*Engine, error) {
	if cfg.Transport == nil || cfg.Sender == nil {
		return nil, errors.New("negotiation: transport and sender are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		queue:   newEventQueue(),
		done:    make(chan struct{}),
		session: newCallSession(cfg.RoomID),
	}
	e.snap = e.session.snapshot()

	cfg.Transport.OnICECandidate(e.onLocalCandidate)
	cfg.Transport.OnTrack(e.onRemoteTrack)
	cfg.Transport.OnConnectionStateChange(e.onConnectionState)

	go e.run()
	util.LogDebug("[%s] negotiation engine ready", e.session.tag())
	return e, nil
}

// Start attaches local media and sends the first offer. Only valid while
// idle.
func (e *Engine) Start() error {
	return e.do("start", func() error {
		s := e.session
		switch s.State {
		case StateIdle:
		case StateHaveLocalOffer:
			return ErrOfferPending
		default:
			return fmt.Errorf("%w: cannot start in %s", ErrNegotiationFailed, s.State)
		}

		attached, err := e.attachMedia()
		if err != nil {
			return err
		}
		if err := e.offer(); err != nil {
			if attached {
				e.detachMedia()
			}
			return err
		}
		if s.Role == RoleUnknown {
			s.Role = RoleCaller
		}
		if attached {
			e.showLocal()
		}
		return nil
	})
}

// Renegotiate sends a new offer for the current tracks. Only valid while
// stable.
func (e *Engine) Renegotiate() error {
	return e.do("renegotiate", func() error {
		switch e.session.State {
		case StateStable:
		case StateHaveLocalOffer:
			return ErrOfferPending
		default:
			return fmt.Errorf("%w: cannot renegotiate in %s", ErrNegotiationFailed, e.session.State)
		}
		return e.offer()
	})
}

// HandleMessage processes one inbound signaling message and returns once
// it has been applied or dropped. Channel order is therefore processing
// order.
func (e *Engine) HandleMessage(msg signaling.Message) error {
	return e.do(string(msg.Type), func() error {
		var err error
		switch msg.Type {
		case signaling.MsgTypeOffer:
			err = e.handleOffer(msg.Offer)
		case signaling.MsgTypeAnswer:
			err = e.handleAnswer(msg.Answer)
		case signaling.MsgTypeCandidate:
			err = e.handleCandidate(msg.Candidate)
		case signaling.MsgTypeLeave, signaling.MsgTypePeerLeft:
			util.LogInfo("[%s] remote peer left", e.session.tag())
			e.shutdown(ErrRemoteHangup)
			return nil
		default:
			util.LogDebug("[%s] %s ignored by engine", e.session.tag(), msg.Type)
			return nil
		}

		if err != nil && !errors.Is(err, ErrSessionClosed) {
			e.report(msg.Type, err)
		}
		return err
	})
}

// ToggleLocalVideo flips the local video track and reports whether it is
// now enabled. It never sends a signaling message or changes state.
func (e *Engine) ToggleLocalVideo() (bool, error) {
	return e.toggle(webrtc.RTPCodecTypeVideo)
}

// ToggleLocalAudio is ToggleLocalVideo for the microphone track.
func (e *Engine) ToggleLocalAudio() (bool, error) {
	return e.toggle(webrtc.RTPCodecTypeAudio)
}

// AttachLocalPreview hands the local tracks to sink now, or once they are
// acquired.
func (e *Engine) AttachLocalPreview(sink media.LocalSink) error {
	return e.do("attach-local", func() error {
		e.localSink = sink
		if sink != nil && e.session.Tracks != nil {
			sink.ShowLocal(e.session.Tracks)
		}
		return nil
	})
}

// AttachRemoteView hands every remote track to sink, replaying the ones
// that arrived before it was attached.
func (e *Engine) AttachRemoteView(sink media.RemoteSink) error {
	return e.do("attach-remote", func() error {
		e.remoteSink = sink
		if sink != nil {
			for _, t := range e.remoteTracks {
				sink.ShowRemote(t)
			}
		}
		return nil
	})
}

// OnConnectionClosed registers the handler notified once on teardown with
// the close reason (nil for a local Close). Registered after teardown, it
// fires immediately.
func (e *Engine) OnConnectionClosed(fn func(reason error)) {
	e.mu.Lock()
	if e.finished {
		reason := e.reason
		e.mu.Unlock()
		if fn != nil {
			fn(reason)
		}
		return
	}
	e.onClosed = fn
	e.mu.Unlock()
}

// OnError registers the handler for failures of message-driven
// transitions. It runs on the engine goroutine and must not call back into
// the engine.
func (e *Engine) OnError(fn func(error)) {
	e.mu.Lock()
	e.onError = fn
	e.mu.Unlock()
}

// State returns the current signaling state.
func (e *Engine) State() SignalingState {
	return SignalingState(e.state.Load())
}

// Session returns a copy of the session as of the last processed event.
func (e *Engine) Session() CallSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// Done is closed once the engine has torn down.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Close tears the session down: local tracks stop, the transport closes and
// the state becomes closed. Idempotent; returns the transport close error.
func (e *Engine) Close() error {
	e.shutdown(nil)
	<-e.done

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeErr
}

// offer creates, applies and sends a local offer.
func (e *Engine) offer() error {
	s := e.session

	sd, err := e.cfg.Transport.CreateOffer(e.ctx)
	if aerr := e.alive(); aerr != nil {
		return aerr
	}
	if err != nil {
		return fmt.Errorf("%w: create offer: %v", ErrNegotiationFailed, err)
	}

	err = e.cfg.Transport.SetLocalDescription(e.ctx, sd)
	if aerr := e.alive(); aerr != nil {
		return aerr
	}
	if err != nil {
		return fmt.Errorf("%w: set local offer: %v", ErrNegotiationFailed, err)
	}

	if err := e.send(signaling.NewOffer(sd)); err != nil {
		if errors.Is(err, signaling.ErrChannelClosed) || errors.Is(err, ErrSessionClosed) {
			return err
		}
		if rerr := e.rollback(); rerr != nil {
			return rerr
		}
		return fmt.Errorf("%w: send offer: %v", ErrNegotiationFailed, err)
	}

	e.setState(StateHaveLocalOffer)
	util.LogInfo("[%s] offer sent", s.tag())
	return nil
}

func (e *Engine) handleOffer(sd *webrtc.SessionDescription) error {
	s := e.session
	if err := validateDescription(sd, webrtc.SDPTypeOffer); err != nil {
		return err
	}

	switch s.State {
	case StateIdle, StateStable:
	case StateHaveLocalOffer:
		// Collision: the local offer wins and the remote one is dropped.
		util.LogWarning("[%s] remote offer ignored, local offer pending", s.tag())
		return nil
	default:
		return fmt.Errorf("%w: unexpected offer in %s", ErrNegotiationFailed, s.State)
	}

	prev := s.State
	err := e.cfg.Transport.SetRemoteDescription(e.ctx, *sd)
	if aerr := e.alive(); aerr != nil {
		return aerr
	}
	if err != nil {
		if errors.Is(err, ErrInvalidDescription) {
			return err
		}
		return fmt.Errorf("%w: set remote offer: %v", ErrNegotiationFailed, err)
	}
	e.setState(StateHaveRemoteOffer)

	// Media is only acquired for an offer the transport accepted.
	attached, err := e.attachMedia()
	if err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return err
		}
		if rerr := e.rollback(); rerr != nil {
			return rerr
		}
		e.setState(prev)
		return err
	}

	answer, err := e.cfg.Transport.CreateAnswer(e.ctx)
	if aerr := e.alive(); aerr != nil {
		return aerr
	}
	if err == nil {
		err = e.cfg.Transport.SetLocalDescription(e.ctx, answer)
		if aerr := e.alive(); aerr != nil {
			return aerr
		}
	}
	if err != nil {
		if attached {
			e.detachMedia()
		}
		if rerr := e.rollback(); rerr != nil {
			return rerr
		}
		e.setState(prev)
		return fmt.Errorf("%w: answer: %v", ErrNegotiationFailed, err)
	}

	sendErr := e.send(signaling.NewAnswer(answer))
	if errors.Is(sendErr, signaling.ErrChannelClosed) || errors.Is(sendErr, ErrSessionClosed) {
		return sendErr
	}

	// The answer is applied locally, so the session is stable even if the
	// remote never sees it.
	if s.Role == RoleUnknown {
		s.Role = RoleCallee
	}
	if attached {
		e.showLocal()
	}
	e.commitRemote()
	if sendErr != nil {
		return fmt.Errorf("%w: send answer: %v", ErrNegotiationFailed, sendErr)
	}
	util.LogInfo("[%s] answer sent", s.tag())
	return nil
}

func (e *Engine) handleAnswer(sd *webrtc.SessionDescription) error {
	s := e.session
	if err := validateDescription(sd, webrtc.SDPTypeAnswer); err != nil {
		return err
	}
	if s.State != StateHaveLocalOffer {
		util.LogWarning("[%s] answer ignored in %s", s.tag(), s.State)
		return nil
	}

	err := e.cfg.Transport.SetRemoteDescription(e.ctx, *sd)
	if aerr := e.alive(); aerr != nil {
		return aerr
	}
	if err != nil {
		if errors.Is(err, ErrInvalidDescription) {
			return err
		}
		return fmt.Errorf("%w: set remote answer: %v", ErrNegotiationFailed, err)
	}

	e.commitRemote()
	util.LogInfo("[%s] answer applied", s.tag())
	return nil
}

func (e *Engine) handleCandidate(c *webrtc.ICECandidateInit) error {
	s := e.session
	if c == nil {
		return fmt.Errorf("%w: missing candidate payload", ErrInvalidDescription)
	}
	if !s.RemoteDescriptionSet {
		s.buffer(*c)
		util.Stats.AddBuffered()
		util.LogDebug("[%s] candidate buffered (%d pending)", s.tag(), s.Buffered())
		return nil
	}
	return e.applyCandidate(*c)
}

func (e *Engine) applyCandidate(c webrtc.ICECandidateInit) error {
	err := e.cfg.Transport.AddICECandidate(e.ctx, c)
	if aerr := e.alive(); aerr != nil {
		return aerr
	}
	if err != nil {
		return fmt.Errorf("%w: add candidate: %v", ErrNegotiationFailed, err)
	}
	util.Stats.AddApplied()
	return nil
}

// commitRemote marks the remote description of this round as set, makes the
// session stable and flushes buffered candidates in arrival order.
func (e *Engine) commitRemote() {
	s := e.session
	s.RemoteDescriptionSet = true
	s.Generation++
	util.Stats.AddNegotiation()
	e.setState(StateStable)

	for _, c := range s.drain() {
		if err := e.applyCandidate(c); err != nil {
			if errors.Is(err, ErrSessionClosed) {
				return
			}
			util.LogWarning("[%s] buffered candidate rejected: %v", s.tag(), err)
		}
	}
}

// attachMedia acquires local tracks once and adds them to the transport.
// It reports whether this call attached them; a failure leaves nothing
// behind on the transport.
func (e *Engine) attachMedia() (bool, error) {
	s := e.session
	if s.Tracks != nil {
		return false, nil
	}
	if e.cfg.Source == nil {
		return false, fmt.Errorf("%w: no media source attached", ErrNegotiationFailed)
	}

	tracks, err := e.cfg.Source.Acquire(e.ctx, e.cfg.Video, e.cfg.Audio)
	if aerr := e.alive(); aerr != nil {
		if tracks != nil {
			tracks.Stop()
		}
		return false, aerr
	}
	if err != nil {
		return false, fmt.Errorf("acquire local media: %w", err)
	}

	var added []webrtc.TrackLocal
	for _, t := range tracks.Tracks() {
		err := e.cfg.Transport.AddTrack(e.ctx, t.Local())
		if aerr := e.alive(); aerr != nil {
			tracks.Stop()
			return false, aerr
		}
		if err != nil {
			e.removeTracks(added)
			tracks.Stop()
			return false, fmt.Errorf("%w: add %s track: %v", ErrNegotiationFailed, t.Kind(), err)
		}
		added = append(added, t.Local())
	}

	s.Tracks = tracks
	util.LogDebug("[%s] local media attached (%d tracks)", s.tag(), len(tracks.Tracks()))
	return true, nil
}

// detachMedia undoes attachMedia after a failed negotiation step, so the
// next attempt acquires fresh tracks. Teardown handles a closing session.
func (e *Engine) detachMedia() {
	s := e.session
	if s.Tracks == nil || e.alive() != nil {
		return
	}
	locals := make([]webrtc.TrackLocal, 0, len(s.Tracks.Tracks()))
	for _, t := range s.Tracks.Tracks() {
		locals = append(locals, t.Local())
	}
	e.removeTracks(locals)
	s.Tracks.Stop()
	s.Tracks = nil
	util.LogDebug("[%s] local media released", s.tag())
}

func (e *Engine) removeTracks(locals []webrtc.TrackLocal) {
	for _, l := range locals {
		if err := e.cfg.Transport.RemoveTrack(e.ctx, l); err != nil {
			util.LogWarning("[%s] failed to remove %s track: %v", e.session.tag(), l.Kind(), err)
		}
	}
}

func (e *Engine) showLocal() {
	if e.localSink != nil && e.session.Tracks != nil {
		e.localSink.ShowLocal(e.session.Tracks)
	}
}

func (e *Engine) toggle(kind webrtc.RTPCodecType) (bool, error) {
	var enabled bool
	err := e.do("toggle-"+kind.String(), func() error {
		tracks := e.session.Tracks
		if tracks == nil {
			return nil
		}
		t := tracks.Get(kind)
		if t == nil {
			return nil
		}
		enabled = !t.Enabled()
		t.SetEnabled(enabled)
		util.LogInfo("[%s] local %s %s", e.session.tag(), kind, onOff(enabled))
		return nil
	})
	return enabled, err
}

func (e *Engine) onLocalCandidate(c *webrtc.ICECandidateInit) {
	e.post("local-candidate", func() {
		if c == nil {
			util.LogDebug("[%s] ICE gathering complete", e.session.tag())
			return
		}
		if err := e.send(signaling.NewCandidate(*c)); err != nil && !errors.Is(err, ErrSessionClosed) {
			util.LogWarning("[%s] failed to send candidate: %v", e.session.tag(), err)
		}
	})
}

func (e *Engine) onRemoteTrack(t media.RemoteTrack) {
	e.post("remote-track", func() {
		e.remoteTracks = append(e.remoteTracks, t)
		util.LogDebug("[%s] remote %s track %s", e.session.tag(), t.Kind(), t.ID())
		if e.remoteSink != nil {
			e.remoteSink.ShowRemote(t)
		}
	})
}

func (e *Engine) onConnectionState(state webrtc.PeerConnectionState) {
	e.post("connection-state", func() {
		tag := e.session.tag()
		switch state {
		case webrtc.PeerConnectionStateConnected:
			util.LogSuccess("[%s] peer connection established", tag)
		case webrtc.PeerConnectionStateDisconnected:
			util.LogWarning("[%s] peer connection interrupted", tag)
		case webrtc.PeerConnectionStateClosed:
			// The remote closing DTLS can beat its leave through the relay.
			util.LogInfo("[%s] peer connection closed by remote", tag)
			e.shutdown(ErrRemoteHangup)
		case webrtc.PeerConnectionStateFailed:
			e.shutdown(fmt.Errorf("peer connection %s", state))
		default:
			util.LogDebug("[%s] peer connection %s", tag, state)
		}
	})
}

// send delivers msg unless the session is closing. A closed channel is
// fatal for the session.
func (e *Engine) send(msg signaling.Message) error {
	if err := e.alive(); err != nil {
		return err
	}
	if err := e.cfg.Sender.Send(msg); err != nil {
		if errors.Is(err, signaling.ErrChannelClosed) {
			e.shutdown(err)
		}
		return err
	}
	return nil
}

// rollback returns the transport to its last stable description. When that
// fails the transport and the session disagree, so the session ends.
func (e *Engine) rollback() error {
	err := e.cfg.Transport.Rollback(e.ctx)
	if aerr := e.alive(); aerr != nil {
		return aerr
	}
	if err != nil {
		err = fmt.Errorf("%w: rollback: %v", ErrNegotiationFailed, err)
		util.LogError("[%s] %v", e.session.tag(), err)
		e.shutdown(err)
		return err
	}
	return nil
}

func (e *Engine) report(msgType signaling.MessageType, err error) {
	util.LogWarning("[%s] %s: %v", e.session.tag(), msgType, err)

	e.mu.Lock()
	fn := e.onError
	e.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (e *Engine) setState(st SignalingState) {
	e.session.State = st
	e.state.Store(int32(st))
}

// alive reports ErrSessionClosed once Close or a fatal error has begun the
// teardown. Results obtained after that point are discarded.
func (e *Engine) alive() error {
	if e.ctx.Err() != nil {
		return ErrSessionClosed
	}
	return nil
}

// shutdown records the first close reason and cancels the session.
func (e *Engine) shutdown(reason error) {
	e.mu.Lock()
	if !e.closing {
		e.closing = true
		e.reason = reason
	}
	e.mu.Unlock()
	e.cancel()
}

func (e *Engine) publish() {
	snap := e.session.snapshot()
	e.mu.Lock()
	e.snap = snap
	e.mu.Unlock()
}

func (e *Engine) run() {
	defer e.teardown()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.queue.wake:
		}

		for e.ctx.Err() == nil {
			ev, ok := e.queue.pop()
			if !ok {
				break
			}
			util.LogTrace("[%s] event %s", e.session.tag(), ev.name)
			err := ev.fn()
			e.publish()
			if ev.reply != nil {
				ev.reply <- err
			}
		}
	}
}

func (e *Engine) teardown() {
	for _, ev := range e.queue.close() {
		if ev.reply != nil {
			ev.reply <- ErrSessionClosed
		}
	}

	s := e.session
	if s.Tracks != nil {
		s.Tracks.Stop()
	}
	closeErr := e.cfg.Transport.Close()
	s.drain()
	e.setState(StateClosed)
	e.publish()

	e.mu.Lock()
	e.finished = true
	e.closeErr = closeErr
	reason := e.reason
	onClosed := e.onClosed
	e.mu.Unlock()

	if reason != nil {
		util.LogWarning("[%s] call ended: %v", s.tag(), reason)
	} else {
		util.LogInfo("[%s] call ended", s.tag())
	}
	close(e.done)

	if onClosed != nil {
		onClosed(reason)
	}
}

// do runs fn on the loop and waits for its result.
func (e *Engine) do(name string, fn func() error) error {
	if e.alive() != nil {
		return ErrSessionClosed
	}
	ev := &event{name: name, fn: fn, reply: make(chan error, 1)}
	if !e.queue.push(ev) {
		return ErrSessionClosed
	}
	select {
	case err := <-ev.reply:
		return err
	case <-e.done:
		select {
		case err := <-ev.reply:
			return err
		default:
			return ErrSessionClosed
		}
	}
}

// post queues fn without waiting. Used from transport callbacks, which must
// never block on the loop.
func (e *Engine) post(name string, fn func()) {
	e.queue.push(&event{name: name, fn: func() error { fn(); return nil }})
}

func validateDescription(sd *webrtc.SessionDescription, want webrtc.SDPType) error {
	if sd == nil {
		return fmt.Errorf("%w: missing %s payload", ErrInvalidDescription, want)
	}
	if sd.Type != want {
		return fmt.Errorf("%w: %s payload in %s message", ErrInvalidDescription, sd.Type, want)
	}
	if strings.TrimSpace(sd.SDP) == "" {
		return fmt.Errorf("%w: empty sdp", ErrInvalidDescription)
	}
	return nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
