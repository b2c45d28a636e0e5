package media

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Track is one local media track. A disabled track keeps its place in the
// session but drops every sample, so the remote sees a frozen frame or
// silence without any renegotiation.
type Track struct {
	kind  webrtc.RTPCodecType
	local *webrtc.TrackLocalStaticSample

	enabled atomic.Bool
	stopped atomic.Bool
	written atomic.Uint64
}

// NewTrack creates an enabled track for codec.
func NewTrack(kind webrtc.RTPCodecType, codec webrtc.RTPCodecCapability, id, streamID string) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}
	t := &Track{kind: kind, local: local}
	t.enabled.Store(true)
	return t, nil
}

func (t *Track) Kind() webrtc.RTPCodecType { return t.kind }
func (t *Track) ID() string                { return t.local.ID() }

// Local returns the pion track to attach to a peer connection.
func (t *Track) Local() webrtc.TrackLocal { return t.local }

func (t *Track) Enabled() bool { return t.enabled.Load() }

// SetEnabled flips the enabled flag. It never touches the session.
func (t *Track) SetEnabled(on bool) { t.enabled.Store(on) }

// Stop ends the track for good. Further samples are dropped.
func (t *Track) Stop() { t.stopped.Store(true) }

func (t *Track) Stopped() bool { return t.stopped.Load() }

// Written reports how many samples were passed on to the pion track.
func (t *Track) Written() uint64 { return t.written.Load() }

// WriteSample forwards s unless the track is disabled or stopped.
func (t *Track) WriteSample(s pionmedia.Sample) error {
	if t.stopped.Load() || !t.enabled.Load() {
		return nil
	}
	if err := t.local.WriteSample(s); err != nil {
		return err
	}
	t.written.Add(1)
	return nil
}

// TrackSet is the local media of one call participant.
type TrackSet struct {
	Video *Track
	Audio *Track

	stopOnce sync.Once
	onStop   func()
}

// Tracks returns the non-nil tracks, video first.
func (s *TrackSet) Tracks() []*Track {
	var out []*Track
	if s.Video != nil {
		out = append(out, s.Video)
	}
	if s.Audio != nil {
		out = append(out, s.Audio)
	}
	return out
}

// Get returns the track of kind, or nil.
func (s *TrackSet) Get(kind webrtc.RTPCodecType) *Track {
	switch kind {
	case webrtc.RTPCodecTypeVideo:
		return s.Video
	case webrtc.RTPCodecTypeAudio:
		return s.Audio
	}
	return nil
}

// Stop stops every track and releases the source behind them. Idempotent.
func (s *TrackSet) Stop() {
	s.stopOnce.Do(func() {
		for _, t := range s.Tracks() {
			t.Stop()
		}
		if s.onStop != nil {
			s.onStop()
		}
	})
}
