// Package core owns the process-local real-time channel machinery: live
// connection handles grouped per party and the fan-out over them. It never
// touches durable state and never closes adapter-owned transports.
package core

import (
	"errors"

	"github.com/pairview/watchparty/internal/domain"
)

// Frame is one encoded outbound message.
type Frame []byte

// ConnID identifies a single live connection. A member may hold several.
type ConnID string

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// SignalConnection abstracts the messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Handle binds a member identity to one live transport endpoint.
// This is what a party channel stores and fans out to.
type Handle struct {
	ID   ConnID
	User domain.UserID
	Code domain.PartyCode
	Conn SignalConnection
}

// PublishResult reports delivery stats/backpressure to the coordinator.
type PublishResult struct {
	SentTo  int
	Dropped int
}

// PartyChannel is the in-memory set of connections attached to one party.
type PartyChannel interface {
	Code() domain.PartyCode
	HandleCount() int

	Attach(h *Handle)
	Detach(id ConnID)

	// Targets returns the attached handles, skipping excluding when non-empty.
	Targets(excluding ConnID) []*Handle
	// Broadcast encodes nothing; it pushes the prepared frame to every
	// target and drops on a full send buffer rather than blocking.
	Broadcast(excluding ConnID, data Frame) PublishResult
}
