package negotiation

// SignalingState is the offer/answer state of a CallSession.
type SignalingState int32

const (
	StateIdle SignalingState = iota
	StateHaveLocalOffer
	StateHaveRemoteOffer
	StateStable
	StateClosed
)

func (s SignalingState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateHaveRemoteOffer:
		return "have-remote-offer"
	case StateStable:
		return "stable"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Role is which side started the current call.
type Role string

const (
	RoleUnknown Role = ""
	RoleCaller  Role = "caller"
	RoleCallee  Role = "callee"
)
