package negotiation

import "errors"

var (
	// ErrNegotiationFailed means a transport step was rejected or no media
	// source is available. The session state is unchanged.
	ErrNegotiationFailed = errors.New("negotiation failed")

	// ErrInvalidDescription means an inbound description or candidate was
	// missing, of the wrong type or unparsable. The message is dropped.
	ErrInvalidDescription = errors.New("invalid session description")

	ErrSessionClosed = errors.New("session closed")
	ErrOfferPending  = errors.New("local offer already pending")

	// ErrRemoteHangup is the close reason when the remote peer leaves.
	ErrRemoteHangup = errors.New("remote peer hung up")
)
