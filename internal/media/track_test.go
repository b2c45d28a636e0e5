package media

import (
	"testing"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTrack(t *testing.T, kind webrtc.RTPCodecType) *Track {
	t.Helper()
	mime := webrtc.MimeTypeVP8
	if kind == webrtc.RTPCodecTypeAudio {
		mime = webrtc.MimeTypeOpus
	}
	track, err := NewTrack(kind, webrtc.RTPCodecCapability{MimeType: mime}, kind.String(), "s1")
	require.NoError(t, err)
	return track
}

func TestTrackDropsSamplesWhenDisabled(t *testing.T) {
	track := newTestTrack(t, webrtc.RTPCodecTypeVideo)
	sample := pionmedia.Sample{Data: []byte{0x01}, Duration: 1}

	assert.True(t, track.Enabled())
	require.NoError(t, track.WriteSample(sample))
	assert.EqualValues(t, 1, track.Written())

	track.SetEnabled(false)
	require.NoError(t, track.WriteSample(sample))
	assert.EqualValues(t, 1, track.Written())

	track.SetEnabled(true)
	require.NoError(t, track.WriteSample(sample))
	assert.EqualValues(t, 2, track.Written())

	track.Stop()
	require.NoError(t, track.WriteSample(sample))
	assert.EqualValues(t, 2, track.Written())
	assert.True(t, track.Stopped())
}

func TestTrackSet(t *testing.T) {
	stops := 0
	set := &TrackSet{
		Audio:  newTestTrack(t, webrtc.RTPCodecTypeAudio),
		onStop: func() { stops++ },
	}

	assert.Len(t, set.Tracks(), 1)
	assert.Nil(t, set.Get(webrtc.RTPCodecTypeVideo))
	assert.Same(t, set.Audio, set.Get(webrtc.RTPCodecTypeAudio))
	assert.Equal(t, "audio", set.Audio.ID())

	set.Stop()
	set.Stop()
	assert.Equal(t, 1, stops)
	assert.True(t, set.Audio.Stopped())
}
