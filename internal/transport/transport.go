// Package transport implements the negotiation engine's peer connection
// capability on top of pion/webrtc.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duocall/internal/media"
	"github.com/1ureka/duocall/internal/negotiation"
	"github.com/1ureka/duocall/internal/util"
)

const rtcpBufferSize = 1500

// ErrLocalRollback is returned when the pending description is a local
// offer: pion only rolls back remote offers.
var ErrLocalRollback = errors.New("rollback of a local offer is not supported")

// PeerTransport wraps a single PeerConnection carrying the call's audio and
// video. Every blocking step checks the session context first, so a step
// issued after the session was cancelled never reaches pion.
type PeerTransport struct {
	pc *webrtc.PeerConnection

	closeOnce sync.Once
	closeErr  error

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
	onState func(webrtc.PeerConnectionState)
	senders map[webrtc.TrackLocal]*webrtc.RTPSender
}

var _ negotiation.Transport = (*PeerTransport)(nil)

// New creates a PeerTransport backed by a fresh PeerConnection.
func New(opts Options) (*PeerTransport, error) {
	api, err := newAPI(opts)
	if err != nil {
		return nil, err
	}
	pc, err := newPeerConnection(api, opts)
	if err != nil {
		return nil, err
	}

	t := &PeerTransport{
		pc:      pc,
		pcState: webrtc.PeerConnectionStateNew,
		senders: make(map[webrtc.TrackLocal]*webrtc.RTPSender),
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state)
		t.mu.Lock()
		t.pcState = state
		fn := t.onState
		t.mu.Unlock()
		if fn != nil {
			fn(state)
		}
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		util.LogDebug("ICE state: %s", state)
	})

	return t, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Close shuts the PeerConnection down. Safe to call more than once.
func (t *PeerTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.pc.Close()
	})
	return t.closeErr
}

// ConnectionState returns the last observed PeerConnection state.
func (t *PeerTransport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// SignalingState exposes pion's own view of the offer/answer state.
func (t *PeerTransport) SignalingState() webrtc.SignalingState {
	return t.pc.SignalingState()
}

// OnConnectionStateChange registers the single state observer.
func (t *PeerTransport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *PeerTransport) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer to the applied remote offer.
func (t *PeerTransport) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *PeerTransport) SetLocalDescription(ctx context.Context, sd webrtc.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.pc.SetLocalDescription(sd)
}

// SetRemoteDescription parses the remote SDP before applying it, so a
// malformed description is reported as such instead of as a generic pion
// failure.
func (t *PeerTransport) SetRemoteDescription(ctx context.Context, sd webrtc.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(sd.SDP)); err != nil {
		return fmt.Errorf("%w: %v", negotiation.ErrInvalidDescription, err)
	}
	util.LogDebug("remote %s: %d media section(s)", sd.Type, len(parsed.MediaDescriptions))

	return t.pc.SetRemoteDescription(sd)
}

// Rollback discards a pending remote offer. A pending local offer cannot be
// undone and yields ErrLocalRollback.
func (t *PeerTransport) Rollback(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch t.pc.SignalingState() {
	case webrtc.SignalingStateHaveLocalOffer:
		return ErrLocalRollback
	case webrtc.SignalingStateHaveRemoteOffer:
		return t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
	}
	return nil
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (t *PeerTransport) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			fn(nil)
			return
		}
		init := c.ToJSON()
		fn(&init)
	})
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *PeerTransport) AddICECandidate(ctx context.Context, c webrtc.ICECandidateInit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.pc.AddICECandidate(c)
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

// AddTrack attaches a local track. RTCP for the sender is read and
// discarded so the interceptors see it.
func (t *PeerTransport) AddTrack(ctx context.Context, track webrtc.TrackLocal) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.senders[track] = sender
	t.mu.Unlock()

	go func() {
		buf := make([]byte, rtcpBufferSize)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// RemoveTrack detaches a track added by AddTrack. Stopping the sender also
// ends its RTCP reader.
func (t *PeerTransport) RemoveTrack(ctx context.Context, track webrtc.TrackLocal) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	sender, ok := t.senders[track]
	delete(t.senders, track)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s track %s was not added", track.Kind(), track.ID())
	}
	return t.pc.RemoveTrack(sender)
}

// OnTrack registers the callback for remote tracks.
func (t *PeerTransport) OnTrack(fn func(media.RemoteTrack)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(track)
	})
}

// LocalDescription returns the current local SDP, if any.
func (t *PeerTransport) LocalDescription() (webrtc.SessionDescription, error) {
	sd := t.pc.LocalDescription()
	if sd == nil {
		return webrtc.SessionDescription{}, errors.New("no local description")
	}
	return *sd, nil
}
