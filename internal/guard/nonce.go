// Package guard provides the replay and reentrancy protections that sit in
// front of the ledger's sensitive mutations.
package guard

import (
	"context"
	"errors"
	"log/slog"

	dErrors "credence/pkg/domain-errors"
	"credence/pkg/platform/sentinel"
)

// NonceStore holds per-identity replay counters. Consume must be atomic per
// identity: compare the supplied value against the stored counter and
// increment only on match.
type NonceStore interface {
	// Consume returns the new counter value on success, or
	// sentinel.ErrInvalidState when the supplied value does not match.
	Consume(ctx context.Context, identity string, supplied uint64) (uint64, error)

	// Current returns the value a caller must supply next. Missing identities
	// start at 0.
	Current(ctx context.Context, identity string) (uint64, error)
}

// NonceGuard enforces replay protection for nonce-gated operations. Each
// identity has one counter starting at 0 that never decreases.
type NonceGuard struct {
	store  NonceStore
	logger *slog.Logger
}

func NewNonceGuard(store NonceStore, logger *slog.Logger) (*NonceGuard, error) {
	if store == nil {
		return nil, errors.New("nonce store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NonceGuard{store: store, logger: logger}, nil
}

// Consume validates and advances the counter for identity. Any mismatch,
// whether a replayed old value or an out-of-order future value, is rejected
// uniformly as a replay error.
func (g *NonceGuard) Consume(ctx context.Context, identity string, supplied uint64) error {
	if identity == "" {
		return dErrors.New(dErrors.CodeValidation, "identity is required")
	}
	next, err := g.store.Consume(ctx, identity, supplied)
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			g.logger.WarnContext(ctx, "nonce rejected",
				"identity", identity,
				"supplied", supplied,
			)
			return dErrors.New(dErrors.CodeReplay, "invalid nonce")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "consume nonce")
	}
	g.logger.DebugContext(ctx, "nonce consumed", "identity", identity, "next", next)
	return nil
}

// Check validates supplied against the current counter without consuming it.
// Callers use it to reject replays before performing any side effect; the
// counter advances only when Consume runs at the commit point.
func (g *NonceGuard) Check(ctx context.Context, identity string, supplied uint64) error {
	if identity == "" {
		return dErrors.New(dErrors.CodeValidation, "identity is required")
	}
	current, err := g.store.Current(ctx, identity)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "read nonce")
	}
	if supplied != current {
		g.logger.WarnContext(ctx, "nonce rejected",
			"identity", identity,
			"supplied", supplied,
		)
		return dErrors.New(dErrors.CodeReplay, "invalid nonce")
	}
	return nil
}

// Current exposes the counter so clients can fetch the value to supply.
func (g *NonceGuard) Current(ctx context.Context, identity string) (uint64, error) {
	if identity == "" {
		return 0, dErrors.New(dErrors.CodeValidation, "identity is required")
	}
	v, err := g.store.Current(ctx, identity)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "read nonce")
	}
	return v, nil
}
