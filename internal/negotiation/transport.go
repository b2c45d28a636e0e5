package negotiation

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duocall/internal/media"
	"github.com/1ureka/duocall/internal/signaling"
)

// Transport is the peer connection capability the engine drives. Every
// blocking step takes the session context and must give up once it is
// cancelled.
type Transport interface {
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetLocalDescription(ctx context.Context, sd webrtc.SessionDescription) error
	// SetRemoteDescription wraps unparsable SDP in ErrInvalidDescription.
	SetRemoteDescription(ctx context.Context, sd webrtc.SessionDescription) error
	// Rollback discards the pending description. A transport that cannot
	// must return an error; the engine then ends the session.
	Rollback(ctx context.Context) error
	AddICECandidate(ctx context.Context, c webrtc.ICECandidateInit) error
	AddTrack(ctx context.Context, track webrtc.TrackLocal) error
	RemoveTrack(ctx context.Context, track webrtc.TrackLocal) error

	// OnICECandidate reports local candidates; nil marks end of gathering.
	OnICECandidate(fn func(*webrtc.ICECandidateInit))
	OnTrack(fn func(media.RemoteTrack))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))

	Close() error
}

// Sender delivers outbound signaling messages. *signaling.Channel
// implements it.
type Sender interface {
	Send(msg signaling.Message) error
}
