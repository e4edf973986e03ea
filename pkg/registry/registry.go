// Package registry owns the authoritative mapping from node identity to
// claimed endpoint, plus the per-identity lookup history that backs
// listconns.
package registry

import (
	"context"
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/lighthouse-p2p/lighthouse/pkg/types"
)

var ErrNotFound = errors.New("no registration for identity")

// Registration is the live endpoint claim for one identity. A later
// register call for the same identity replaces it outright.
type Registration struct {
	ID           types.NodeID
	PubKey       ed25519.PublicKey
	Endpoint     types.Endpoint
	RegisteredAt time.Time
}

// LookupRecord is one successful lookup against an identity.
type LookupRecord struct {
	ID         types.NodeID
	Client     types.Endpoint
	LookedUpAt time.Time
}

// Store is the keyed backing store the directory service is built on.
// Implementations must return ErrNotFound for unknown identities and keep
// Lookups in append (oldest-first) order.
type Store interface {
	PutRegistration(ctx context.Context, reg Registration) error
	GetRegistration(ctx context.Context, id types.NodeID) (Registration, error)
	AppendLookup(ctx context.Context, rec LookupRecord) error
	Lookups(ctx context.Context, id types.NodeID) ([]LookupRecord, error)
	Wipe(ctx context.Context) error
	Close() error
}
