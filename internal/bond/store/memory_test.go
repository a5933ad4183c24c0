package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"credence/internal/bond/models"
	"credence/pkg/amount"
	"credence/pkg/platform/sentinel"
)

func bondFixture(identity string, active bool) *models.IdentityBond {
	return &models.IdentityBond{
		Identity:      identity,
		BondedAmount:  amount.New(100),
		SlashedAmount: amount.Zero(),
		BondStart:     1_700_000_000,
		BondDuration:  86400,
		Active:        active,
	}
}

// The batch contract mirrors single creation: an inactive slot may be
// replaced, an active slot aborts the whole batch with nothing applied.
func TestBondStoreCreateAll(t *testing.T) {
	ctx := context.Background()

	t.Run("an inactive slot is replaced inside a batch", func(t *testing.T) {
		s := NewInMemoryBondStore()
		require.NoError(t, s.Create(ctx, bondFixture("alice", false)))

		fresh := bondFixture("alice", true)
		fresh.BondedAmount = amount.New(500)
		require.NoError(t, s.CreateAll(ctx, []*models.IdentityBond{fresh, bondFixture("bob", true)}))

		got, err := s.Get(ctx, "alice")
		require.NoError(t, err)
		require.True(t, got.Active)
		require.Equal(t, "500", got.BondedAmount.String())
	})

	t.Run("an active slot aborts the batch atomically", func(t *testing.T) {
		s := NewInMemoryBondStore()
		require.NoError(t, s.Create(ctx, bondFixture("alice", true)))

		err := s.CreateAll(ctx, []*models.IdentityBond{bondFixture("bob", true), bondFixture("alice", true)})
		require.ErrorIs(t, err, sentinel.ErrConflict)

		_, err = s.Get(ctx, "bob")
		require.True(t, errors.Is(err, sentinel.ErrNotFound), "no entry of a failed batch may persist")
	})
}
