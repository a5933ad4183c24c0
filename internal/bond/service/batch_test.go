package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"credence/internal/bond/models"
	"credence/internal/bond/store"
	"credence/internal/guard"
	"credence/internal/token"
	"credence/pkg/amount"
	dErrors "credence/pkg/domain-errors"
	"credence/pkg/platform/audit"
	"credence/pkg/platform/sentinel"
)

// =============================================================================
// Batch Creation Test Suite
// =============================================================================
// A batch commits all bonds or none; one bad entry must leave the ledger
// exactly as it was.

type BatchSuite struct {
	suite.Suite
	bonds  *store.InMemoryBondStore
	tok    *token.InMemoryToken
	events *audit.MemoryPublisher
	svc    *Service
	now    time.Time
}

func TestBatchSuite(t *testing.T) {
	suite.Run(t, new(BatchSuite))
}

func (s *BatchSuite) SetupTest() {
	s.bonds = store.NewInMemoryBondStore()
	s.tok = token.NewInMemoryToken()
	s.events = audit.NewMemoryPublisher()
	s.now = time.Unix(1_700_000_000, 0)

	nonces, err := guard.NewNonceGuard(guard.NewInMemoryNonceStore(), nil)
	s.Require().NoError(err)

	cfg := Config{
		Thresholds: models.Thresholds{
			Bronze:   amount.New(100_000_000),
			Silver:   amount.New(1_000_000_000),
			Gold:     amount.New(10_000_000_000),
			Platinum: amount.New(100_000_000_000),
		},
		EarlyExitPenaltyBps: 1000,
		Treasury:            "treasury",
		Emergency:           models.EmergencyConfig{Admin: "admin", Governance: "governance", Treasury: "treasury"},
	}
	s.svc, err = New(s.bonds, store.NewInMemoryEmergencyStore(), s.tok, nonces, cfg,
		WithClock(func() time.Time { return s.now }),
		WithAuditPublisher(s.events),
	)
	s.Require().NoError(err)
}

func entry(identity string, amt int64) models.BatchEntry {
	return models.BatchEntry{Identity: identity, Amount: amount.New(amt), Duration: 30 * 86400}
}

// =============================================================================
// Validation Tests
// =============================================================================

func (s *BatchSuite) TestValidateBatch() {
	ctx := context.Background()

	s.Run("empty batch is rejected", func() {
		err := s.svc.ValidateBatch(ctx, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("per-entry parameter checks", func() {
		cases := []struct {
			name    string
			entries []models.BatchEntry
			code    dErrors.Code
		}{
			{"missing identity", []models.BatchEntry{{Amount: amount.New(100), Duration: 86400}}, dErrors.CodeValidation},
			{"zero amount", []models.BatchEntry{{Identity: "a", Duration: 86400}}, dErrors.CodeValidation},
			{"zero duration", []models.BatchEntry{{Identity: "a", Amount: amount.New(100)}}, dErrors.CodeValidation},
			{"rolling without notice", []models.BatchEntry{{Identity: "a", Amount: amount.New(100), Duration: 86400, IsRolling: true}}, dErrors.CodeValidation},
			{"expiry overflow", []models.BatchEntry{{Identity: "a", Amount: amount.New(100), Duration: ^uint64(0)}}, dErrors.CodeArithmetic},
			{"duplicate identity", []models.BatchEntry{entry("a", 100), entry("a", 200)}, dErrors.CodeValidation},
		}
		for _, tc := range cases {
			err := s.svc.ValidateBatch(ctx, tc.entries)
			s.True(dErrors.HasCode(err, tc.code), tc.name)
		}
	})

	s.Run("collision with an active bond", func() {
		s.tok.Mint("alice", amount.New(100))
		s.tok.Approve("alice", amount.New(100))
		_, err := s.svc.CreateBond(ctx, CreateBondParams{
			Identity: "alice", Amount: amount.New(100), Duration: 86400, Nonce: 0,
		})
		s.Require().NoError(err)

		err = s.svc.ValidateBatch(ctx, []models.BatchEntry{entry("alice", 100)})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

// =============================================================================
// Commit Tests
// =============================================================================

func (s *BatchSuite) TestCommitBatch() {
	ctx := context.Background()

	s.Run("creates every bond with a shared start time", func() {
		result, err := s.svc.CommitBatch(ctx, []models.BatchEntry{
			entry("alice", 500_000_000),
			entry("bob", 2_000_000_000),
			{Identity: "carol", Amount: amount.New(100), Duration: 86400, IsRolling: true, NoticePeriodDuration: 3600},
		})
		s.Require().NoError(err)
		s.Equal(3, result.CreatedCount)

		for _, bond := range result.Bonds {
			s.Equal(uint64(s.now.Unix()), bond.BondStart)
			s.True(bond.Active)
		}

		batchEvents := s.events.ByTopic(audit.TopicBatchBondsCreated)
		s.Require().Len(batchEvents, 1)
		s.Equal(3, batchEvents[0].Data["created_count"])

		tierEvents := s.events.ByTopic(audit.TopicTierChanged)
		s.Len(tierEvents, 2, "carol stays below the lowest threshold")
	})

	s.Run("one bad entry leaves the ledger untouched", func() {
		_, err := s.svc.CommitBatch(ctx, []models.BatchEntry{
			entry("dave", 100),
			entry("erin", 200),
			{Identity: "frank", Duration: 86400}, // zero amount
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		for _, identity := range []string{"dave", "erin", "frank"} {
			_, getErr := s.bonds.Get(ctx, identity)
			s.ErrorIs(getErr, sentinel.ErrNotFound, identity)
		}
	})

	s.Run("batch does not move collateral", func() {
		balance := s.tok.BalanceOf("alice")
		_, err := s.svc.CommitBatch(ctx, []models.BatchEntry{entry("grace", 100)})
		s.Require().NoError(err)
		s.True(balance.Equal(s.tok.BalanceOf("alice")))
	})

	s.Run("a lapsed bond slot can be reused", func() {
		bond, err := s.bonds.Get(ctx, "grace")
		s.Require().NoError(err)
		bond.Active = false
		s.Require().NoError(s.bonds.Update(ctx, bond))

		result, err := s.svc.CommitBatch(ctx, []models.BatchEntry{entry("grace", 250)})
		s.Require().NoError(err)
		s.Equal("250", result.Bonds[0].BondedAmount.String())
	})
}

// =============================================================================
// BatchTotal Tests
// =============================================================================

func (s *BatchSuite) TestBatchTotal() {
	s.Run("sums the entries", func() {
		total, err := BatchTotal([]models.BatchEntry{entry("a", 100), entry("b", 250)})
		s.NoError(err)
		s.Equal("350", total.String())
	})

	s.Run("overflow is reported", func() {
		max, err := amount.Parse("170141183460469231731687303715884105727")
		s.Require().NoError(err)

		_, err = BatchTotal([]models.BatchEntry{
			{Identity: "a", Amount: max, Duration: 86400},
			{Identity: "b", Amount: amount.New(1), Duration: 86400},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeArithmetic))
	})
}
