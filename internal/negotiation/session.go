package negotiation

import (
	"slices"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duocall/internal/media"
)

// CallSession is the negotiation state of one call. Only the engine
// goroutine mutates it; Engine.Session hands out copies.
type CallSession struct {
	RoomID string
	ID     string
	Role   Role
	State  SignalingState

	Tracks *media.TrackSet

	// RemoteDescriptionSet stays true across renegotiation rounds: the
	// previous remote description still lets candidates be applied.
	RemoteDescriptionSet bool
	// Generation counts committed remote descriptions.
	Generation uint64

	pending []webrtc.ICECandidateInit
}

func newCallSession(roomID string) *CallSession {
	return &CallSession{
		RoomID: roomID,
		ID:     uuid.NewString(),
		State:  StateIdle,
	}
}

// Buffered returns the number of remote candidates waiting for a remote
// description.
func (s CallSession) Buffered() int { return len(s.pending) }

func (s *CallSession) buffer(c webrtc.ICECandidateInit) {
	s.pending = append(s.pending, c)
}

// drain hands back the buffered candidates in arrival order and empties
// the buffer.
func (s *CallSession) drain() []webrtc.ICECandidateInit {
	out := s.pending
	s.pending = nil
	return out
}

func (s *CallSession) snapshot() CallSession {
	c := *s
	c.pending = slices.Clone(s.pending)
	return c
}

func (s *CallSession) tag() string {
	return s.RoomID + "/" + s.ID[:8]
}
