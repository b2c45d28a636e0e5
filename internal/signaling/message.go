// Package signaling carries offer/answer/candidate messages between the two
// parties of a call: the client-side Channel and the room relay Hub.
package signaling

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	MsgTypeOffer     MessageType = "offer"
	MsgTypeAnswer    MessageType = "answer"
	MsgTypeCandidate MessageType = "ice-candidate"

	// Control messages exchanged with the relay.
	MsgTypeLeave      MessageType = "leave"
	MsgTypePeerJoined MessageType = "peer-joined"
	MsgTypePeerLeft   MessageType = "peer-left"
	MsgTypeRoomFull   MessageType = "room-full"
)

var (
	ErrChannelClosed    = errors.New("signaling channel closed")
	ErrMalformedMessage = errors.New("malformed signaling message")
)

// Message is the envelope exchanged over the WebSocket. Exactly one payload
// field is set for negotiation messages; control messages carry none.
type Message struct {
	Type      MessageType                `json:"type"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// NewOffer wraps an offer description.
func NewOffer(sd webrtc.SessionDescription) Message {
	return Message{Type: MsgTypeOffer, Offer: &sd}
}

// NewAnswer wraps an answer description.
func NewAnswer(sd webrtc.SessionDescription) Message {
	return Message{Type: MsgTypeAnswer, Answer: &sd}
}

// NewCandidate wraps a local ICE candidate.
func NewCandidate(c webrtc.ICECandidateInit) Message {
	return Message{Type: MsgTypeCandidate, Candidate: &c}
}

// IsNegotiation reports whether the message drives the offer/answer state
// machine, as opposed to relay control.
func (m Message) IsNegotiation() bool {
	switch m.Type {
	case MsgTypeOffer, MsgTypeAnswer, MsgTypeCandidate:
		return true
	}
	return false
}

// Validate checks the envelope type. Payload contents are checked by the
// negotiation engine, which owns the semantics of a malformed description.
func (m Message) Validate() error {
	switch m.Type {
	case MsgTypeOffer, MsgTypeAnswer, MsgTypeCandidate,
		MsgTypeLeave, MsgTypePeerJoined, MsgTypePeerLeft, MsgTypeRoomFull:
		return nil
	case "":
		return fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, m.Type)
}
