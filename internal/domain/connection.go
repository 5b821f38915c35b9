// Package domain contains identifiers and states without logic, just meta-data
package domain

type ConnectionID string

// Role is what a signaling connection asked to be.
type Role string

const (
	RoleUnassigned Role = "unassigned"
	RoleSender     Role = "sender"
	RoleReceiver   Role = "receiver"
)

// ConnState tracks a connection through negotiation.
type ConnState int

const (
	StateUnassigned ConnState = iota
	StateSenderNegotiating
	StateReceiverNegotiating
	StateConnected
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateUnassigned:
		return "unassigned"
	case StateSenderNegotiating:
		return "sender_negotiating"
	case StateReceiverNegotiating:
		return "receiver_negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
