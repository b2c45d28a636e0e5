package transport

import (
	"context"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/media"
	"github.com/1ureka/duocall/internal/negotiation"
)

func newTestTransport(t *testing.T) *PeerTransport {
	t.Helper()
	tr, err := New(Options{})
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func addVideo(t *testing.T, tr *PeerTransport) webrtc.TrackLocal {
	t.Helper()
	track, err := media.NewTrack(webrtc.RTPCodecTypeVideo,
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "test")
	require.NoError(t, err)
	require.NoError(t, tr.AddTrack(context.Background(), track.Local()))
	return track.Local()
}

func TestOfferAnswerReachesStable(t *testing.T) {
	ctx := context.Background()
	a, b := newTestTransport(t), newTestTransport(t)
	addVideo(t, a)

	offer, err := a.CreateOffer(ctx)
	require.NoError(t, err)
	require.NoError(t, a.SetLocalDescription(ctx, offer))
	assert.Equal(t, webrtc.SignalingStateHaveLocalOffer, a.SignalingState())

	require.NoError(t, b.SetRemoteDescription(ctx, offer))
	answer, err := b.CreateAnswer(ctx)
	require.NoError(t, err)
	require.NoError(t, b.SetLocalDescription(ctx, answer))
	require.NoError(t, a.SetRemoteDescription(ctx, answer))

	assert.Equal(t, webrtc.SignalingStateStable, a.SignalingState())
	assert.Equal(t, webrtc.SignalingStateStable, b.SignalingState())

	local, err := a.LocalDescription()
	require.NoError(t, err)
	assert.True(t, strings.Contains(local.SDP, "m=video"), "offer should carry the video track")
}

func TestSetRemoteRejectsUnparsableSDP(t *testing.T) {
	tr := newTestTransport(t)
	err := tr.SetRemoteDescription(context.Background(),
		webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "this is not sdp"})
	assert.ErrorIs(t, err, negotiation.ErrInvalidDescription)
	assert.Equal(t, webrtc.SignalingStateStable, tr.SignalingState())
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	a, b := newTestTransport(t), newTestTransport(t)
	addVideo(t, a)

	offer, err := a.CreateOffer(ctx)
	require.NoError(t, err)
	require.NoError(t, a.SetLocalDescription(ctx, offer))
	assert.ErrorIs(t, a.Rollback(ctx), ErrLocalRollback)
	assert.Equal(t, webrtc.SignalingStateHaveLocalOffer, a.SignalingState())

	require.NoError(t, b.SetRemoteDescription(ctx, offer))
	assert.Equal(t, webrtc.SignalingStateHaveRemoteOffer, b.SignalingState())
	require.NoError(t, b.Rollback(ctx))
	assert.Equal(t, webrtc.SignalingStateStable, b.SignalingState())

	// Nothing pending: no-op.
	assert.NoError(t, b.Rollback(ctx))
}

func TestRemoveTrack(t *testing.T) {
	ctx := context.Background()
	tr := newTestTransport(t)
	local := addVideo(t, tr)

	require.NoError(t, tr.RemoveTrack(ctx, local))
	tr.mu.RLock()
	assert.Empty(t, tr.senders)
	tr.mu.RUnlock()

	assert.Error(t, tr.RemoveTrack(ctx, local), "second removal has no sender")
}

func TestCancelledContextStopsSteps(t *testing.T) {
	tr := newTestTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.CreateOffer(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = tr.CreateAnswer(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, tr.AddICECandidate(ctx, webrtc.ICECandidateInit{Candidate: "x"}), context.Canceled)
	assert.ErrorIs(t, tr.SetRemoteDescription(ctx, webrtc.SessionDescription{}), context.Canceled)
	assert.ErrorIs(t, tr.RemoveTrack(ctx, nil), context.Canceled)
}

func TestCloseIsIdempotent(t *testing.T) {
	tr, err := New(Options{})
	require.NoError(t, err)

	assert.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())
	assert.Equal(t, webrtc.SignalingStateClosed, tr.SignalingState())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		STUNServers:            []string{"stun:stun.example:3478"},
		ICEDisconnectedTimeout: config.DefaultDisconnected,
		ICEFailedTimeout:       config.DefaultFailed,
		ICEKeepAliveInterval:   config.DefaultKeepAlive,
		MulticastDNS:           true,
	}
	opts := OptionsFromConfig(cfg)

	require.Len(t, opts.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.example:3478"}, opts.ICEServers[0].URLs)
	assert.Equal(t, config.DefaultFailed, opts.FailedTimeout)
	assert.True(t, opts.MulticastDNS)

	_, err := newAPI(opts)
	assert.NoError(t, err)
}
