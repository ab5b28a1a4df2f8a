// Package store holds the durable party state. The contract the coordinator
// depends on is a key-value view of "party by code" with an explicit
// compare-and-swap so racing writers are serialized by the store, not by
// in-process locks held across round trips.
package store

import (
	"context"
	"errors"

	"github.com/pairview/watchparty/internal/domain"
)

var (
	ErrNotFound = errors.New("party not found")
	ErrConflict = errors.New("party version conflict")
	ErrExists   = errors.New("party already exists")
)

// Versioned pairs a party snapshot with the version token needed to write
// it back.
type Versioned struct {
	Party   domain.Party
	Version int64
}

type PartyStore interface {
	Create(ctx context.Context, p *domain.Party) error
	Load(ctx context.Context, code domain.PartyCode) (*Versioned, error)
	// CompareAndSwap persists p iff the stored version still equals
	// expected. Returns ErrConflict when another writer got there first.
	CompareAndSwap(ctx context.Context, code domain.PartyCode, expected int64, p *domain.Party) error
	// ListActiveByMember returns the active parties uid belongs to,
	// newest first.
	ListActiveByMember(ctx context.Context, uid domain.UserID) ([]Versioned, error)
}
