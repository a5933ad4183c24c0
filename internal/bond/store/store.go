// Package store persists bond records. Interfaces are defined here and
// consumed by the bond and slashing services so in-memory and Postgres
// implementations swap without rewiring business code.
package store

import (
	"context"

	"credence/internal/bond/models"
)

// BondStore owns the per-identity bond slot.
//
// Implementations return sentinel.ErrNotFound for missing records and
// sentinel.ErrConflict when Create would collide with an existing active
// bond. All mutations are atomic per call.
type BondStore interface {
	// Create stores a new bond. Fails with ErrConflict if an active bond
	// already exists for the identity.
	Create(ctx context.Context, bond *models.IdentityBond) error

	// Get returns a snapshot of the bond for identity.
	Get(ctx context.Context, identity string) (*models.IdentityBond, error)

	// Update replaces the stored record. The service computes the full
	// post-state before calling; the store applies it as one swap.
	Update(ctx context.Context, bond *models.IdentityBond) error

	// CreateAll stores every bond or none (all-or-nothing). Any collision
	// with an existing active bond fails the whole call.
	CreateAll(ctx context.Context, bonds []*models.IdentityBond) error
}

// SlashHistoryStore is the append-only per-identity slash log.
type SlashHistoryStore interface {
	Append(ctx context.Context, record models.SlashRecord) error
	List(ctx context.Context, identity string) ([]models.SlashRecord, error)
}

// EmergencyStore appends immutable emergency withdrawal records with
// strictly incrementing ids.
type EmergencyStore interface {
	// Append assigns and returns the next id.
	Append(ctx context.Context, record *models.EmergencyRecord) (uint64, error)
	Get(ctx context.Context, id uint64) (*models.EmergencyRecord, error)
	// LatestID returns the most recently assigned id, or 0 if none.
	LatestID(ctx context.Context) (uint64, error)
}
