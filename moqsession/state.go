// Package moqsession implements the MoQT control state machine: setup
// handshake, request-id allocation and parity discipline, and dispatch of
// every control dialog (Announce, Subscribe, Fetch, SubscribeAnnounces,
// TrackStatus, GoAway) to a Handler supplied by the caller.
package moqsession

// State is the connection's position in the control handshake lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StatePendingServerSetup
	StateReady
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StatePendingServerSetup:
		return "pending_server_setup"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role determines request-id parity: a client allocates even request
// ids, a server allocates odd ones (draft-15 §6.2).
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) firstRequestID() uint64 {
	if r == RoleServer {
		return 1
	}
	return 0
}

func (r Role) step() uint64 { return 2 }
