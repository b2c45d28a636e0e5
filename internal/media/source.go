// Package media holds the local side of a call's media: the tracks offered
// to the remote peer, the sources that produce them and the sinks that
// display local and remote streams.
package media

import (
	"context"
	"errors"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// ErrMediaAccessDenied is returned when a source cannot provide the
// requested tracks.
var ErrMediaAccessDenied = errors.New("media access denied")

// Source provides local tracks on demand.
type Source interface {
	Acquire(ctx context.Context, video, audio bool) (*TrackSet, error)
}

// RemoteTrack is a track received from the remote peer. *webrtc.TrackRemote
// satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// LocalSink displays the local preview. Called from the engine goroutine;
// implementations must not block.
type LocalSink interface {
	ShowLocal(tracks *TrackSet)
}

// RemoteSink displays remote tracks as they arrive. Called from the engine
// goroutine; implementations must not block.
type RemoteSink interface {
	ShowRemote(track RemoteTrack)
}
