package signaling

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecsShareSchema(t *testing.T) {
	idx := uint16(0)
	mid := "0"
	msgs := []Message{
		NewOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}),
		NewAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"}),
		NewCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx}),
		{Type: MsgTypePeerJoined},
	}

	for _, codec := range []Codec{JSONCodec{}, MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			for _, want := range msgs {
				data, err := codec.Marshal(want)
				require.NoError(t, err)

				got, err := decodeFrame(codec.FrameType(), data)
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestJSONWireFormat(t *testing.T) {
	data, err := JSONCodec{}.Marshal(NewOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"offer","offer":{"type":"offer","sdp":"x"}}`, string(data))

	data, err = JSONCodec{}.Marshal(Message{Type: MsgTypeLeave})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"leave"}`, string(data))
}

func TestDecodeFrameRejects(t *testing.T) {
	cases := []struct {
		name string
		typ  int
		data []byte
	}{
		{"garbage json", websocket.TextMessage, []byte("{not json")},
		{"missing type", websocket.TextMessage, []byte(`{"offer":null}`)},
		{"unknown type", websocket.TextMessage, []byte(`{"type":"bye"}`)},
		{"garbage msgpack", websocket.BinaryMessage, []byte{0xc1}},
		{"ping frame", websocket.PingMessage, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeFrame(tc.typ, tc.data)
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	c, err = CodecByName("msgpack")
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, c.FrameType())

	_, err = CodecByName("xml")
	assert.Error(t, err)
}

func TestIsNegotiation(t *testing.T) {
	assert.True(t, Message{Type: MsgTypeCandidate}.IsNegotiation())
	assert.False(t, Message{Type: MsgTypeLeave}.IsNegotiation())
	assert.False(t, Message{Type: MsgTypeRoomFull}.IsNegotiation())
}
