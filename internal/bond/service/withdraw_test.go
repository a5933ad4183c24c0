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
)

// =============================================================================
// Withdrawal Test Suite
// =============================================================================
// All four exit paths share the available-balance gate and the deactivation
// rule; the time gates differ per path and are exercised against a movable
// test clock.

type WithdrawSuite struct {
	suite.Suite
	bonds       *store.InMemoryBondStore
	emergencies *store.InMemoryEmergencyStore
	tok         *token.InMemoryToken
	events      *audit.MemoryPublisher
	svc         *Service
	now         time.Time
}

func TestWithdrawSuite(t *testing.T) {
	suite.Run(t, new(WithdrawSuite))
}

func (s *WithdrawSuite) SetupTest() {
	s.bonds = store.NewInMemoryBondStore()
	s.emergencies = store.NewInMemoryEmergencyStore()
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
		Emergency: models.EmergencyConfig{
			Admin:      "admin",
			Governance: "governance",
			Treasury:   "treasury",
			FeeBps:     500,
			Enabled:    true,
		},
	}
	s.svc, err = New(s.bonds, s.emergencies, s.tok, nonces, cfg,
		WithClock(func() time.Time { return s.now }),
		WithAuditPublisher(s.events),
	)
	s.Require().NoError(err)
}

func (s *WithdrawSuite) advance(d time.Duration) { s.now = s.now.Add(d) }

func (s *WithdrawSuite) createBond(identity string, amt int64, duration uint64, rolling bool, notice uint64) *models.IdentityBond {
	ctx := context.Background()
	s.tok.Mint(identity, amount.New(amt))
	s.tok.Approve(identity, amount.New(amt))
	nonce, err := s.svc.Nonce(ctx, identity)
	s.Require().NoError(err)
	bond, err := s.svc.CreateBond(ctx, CreateBondParams{
		Identity:     identity,
		Amount:       amount.New(amt),
		Duration:     duration,
		IsRolling:    rolling,
		NoticePeriod: notice,
		Nonce:        nonce,
	})
	s.Require().NoError(err)
	return bond
}

// slash reduces the available balance directly through the store, standing in
// for the slashing service.
func (s *WithdrawSuite) slash(identity string, amt int64) {
	ctx := context.Background()
	bond, err := s.bonds.Get(ctx, identity)
	s.Require().NoError(err)
	slashed, err := bond.SlashedAmount.Add(amount.New(amt))
	s.Require().NoError(err)
	bond.SlashedAmount = slashed
	s.Require().NoError(s.bonds.Update(ctx, bond))
}

// =============================================================================
// Standard Withdrawal Tests
// =============================================================================

func (s *WithdrawSuite) TestWithdrawFixedTerm() {
	ctx := context.Background()

	s.Run("before expiry is refused", func() {
		s.createBond("alice", 100_000_000, 30*86400, false, 0)

		_, err := s.svc.Withdraw(ctx, "alice", amount.New(100_000_000))
		s.True(dErrors.HasCode(err, dErrors.CodeBondState))
	})

	s.Run("after expiry pays out and deactivates at zero", func() {
		s.advance(30 * 86400 * time.Second)

		bond, err := s.svc.Withdraw(ctx, "alice", amount.New(100_000_000))
		s.Require().NoError(err)
		s.False(bond.Active)
		s.True(bond.BondedAmount.IsZero())
		s.Equal("100000000", s.tok.BalanceOf("alice").String())

		s.Len(s.events.ByTopic(audit.TopicBondWithdrawn), 1)
	})

	s.Run("partial withdrawal keeps the bond active", func() {
		s.createBond("bob", 1_000, 86400, false, 0)
		s.advance(86400 * time.Second)

		bond, err := s.svc.Withdraw(ctx, "bob", amount.New(400))
		s.Require().NoError(err)
		s.True(bond.Active)
		s.Equal("600", bond.BondedAmount.String())
	})

	s.Run("amount above the available balance is refused", func() {
		s.createBond("carol", 1_000, 86400, false, 0)
		s.slash("carol", 400)
		s.advance(86400 * time.Second)

		_, err := s.svc.Withdraw(ctx, "carol", amount.New(700))
		s.True(dErrors.HasCode(err, dErrors.CodeBondState))

		bond, err := s.svc.Withdraw(ctx, "carol", amount.New(600))
		s.Require().NoError(err)
		s.True(bond.Active, "the slashed remainder keeps the bond open")
		s.Equal("400", bond.BondedAmount.String())
	})

	s.Run("zero amount is rejected", func() {
		s.createBond("dave", 1_000, 86400, false, 0)
		s.advance(86400 * time.Second)
		_, err := s.svc.Withdraw(ctx, "dave", amount.Zero())
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *WithdrawSuite) TestWithdrawRolling() {
	ctx := context.Background()
	const notice = uint64(7 * 86400)

	s.Run("rolling bond without a pending request is refused", func() {
		s.createBond("alice", 1_000, 30*86400, true, notice)

		_, err := s.svc.Withdraw(ctx, "alice", amount.New(1_000))
		s.True(dErrors.HasCode(err, dErrors.CodeBondState))
	})

	s.Run("notice period must fully elapse", func() {
		_, err := s.svc.RequestWithdrawal(ctx, "alice")
		s.Require().NoError(err)

		s.advance(time.Duration(notice-1) * time.Second)
		_, err = s.svc.Withdraw(ctx, "alice", amount.New(1_000))
		s.True(dErrors.HasCode(err, dErrors.CodeBondState))

		s.advance(1 * time.Second)
		bond, err := s.svc.Withdraw(ctx, "alice", amount.New(1_000))
		s.Require().NoError(err)
		s.False(bond.Active)
		s.Zero(bond.WithdrawalRequestedAt, "the consumed request is cleared")
		s.Len(s.events.ByTopic(audit.TopicCooldownExecuted), 1)
	})
}

// =============================================================================
// Early Withdrawal Tests
// =============================================================================

func (s *WithdrawSuite) TestWithdrawEarly() {
	ctx := context.Background()

	s.Run("splits penalty to the treasury", func() {
		s.createBond("alice", 10_000, 30*86400, false, 0)

		bond, err := s.svc.WithdrawEarly(ctx, "alice", amount.New(10_000))
		s.Require().NoError(err)
		s.False(bond.Active)

		// 10% of 10000 goes to the treasury, the rest to the identity.
		s.Equal("9000", s.tok.BalanceOf("alice").String())
		s.Equal("1000", s.tok.BalanceOf("treasury").String())
		s.Len(s.events.ByTopic(audit.TopicEarlyExitPenalty), 1)
	})

	s.Run("penalty truncates toward zero", func() {
		s.createBond("bob", 999, 30*86400, false, 0)

		_, err := s.svc.WithdrawEarly(ctx, "bob", amount.New(999))
		s.Require().NoError(err)
		// floor(999 * 1000 / 10000) = 99
		s.Equal("900", s.tok.BalanceOf("bob").String())
	})

	s.Run("refused after expiry", func() {
		s.createBond("carol", 1_000, 86400, false, 0)
		s.advance(86400 * time.Second)

		_, err := s.svc.WithdrawEarly(ctx, "carol", amount.New(1_000))
		s.True(dErrors.HasCode(err, dErrors.CodeBondState))
	})

	s.Run("refused when the penalty rate is zero", func() {
		nonces, err := guard.NewNonceGuard(guard.NewInMemoryNonceStore(), nil)
		s.Require().NoError(err)
		cfg := Config{
			Thresholds: models.Thresholds{
				Bronze: amount.New(100), Silver: amount.New(200),
				Gold: amount.New(300), Platinum: amount.New(400),
			},
			Treasury:  "treasury",
			Emergency: models.EmergencyConfig{Admin: "admin", Governance: "governance", Treasury: "treasury"},
		}
		svc, err := New(s.bonds, s.emergencies, s.tok, nonces, cfg,
			WithClock(func() time.Time { return s.now }))
		s.Require().NoError(err)

		s.createBond("dave", 1_000, 86400, false, 0)
		_, err = svc.WithdrawEarly(ctx, "dave", amount.New(1_000))
		s.True(dErrors.HasCode(err, dErrors.CodeBondState))
	})
}

// =============================================================================
// Request / Cancel Tests
// =============================================================================

func (s *WithdrawSuite) TestRequestWithdrawal() {
	ctx := context.Background()

	s.Run("only rolling bonds take requests", func() {
		s.createBond("alice", 1_000, 86400, false, 0)
		_, err := s.svc.RequestWithdrawal(ctx, "alice")
		s.True(dErrors.HasCode(err, dErrors.CodeBondState))
	})

	s.Run("records the request timestamp", func() {
		s.createBond("bob", 1_000, 86400, true, 3600)

		bond, err := s.svc.RequestWithdrawal(ctx, "bob")
		s.Require().NoError(err)
		s.Equal(uint64(s.now.Unix()), bond.WithdrawalRequestedAt)
		s.Len(s.events.ByTopic(audit.TopicCooldownRequested), 1)
	})

	s.Run("a second request while one is pending is refused", func() {
		_, err := s.svc.RequestWithdrawal(ctx, "bob")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *WithdrawSuite) TestCancelWithdrawal() {
	ctx := context.Background()

	s.createBond("alice", 1_000, 86400, true, 3600)
	_, err := s.svc.RequestWithdrawal(ctx, "alice")
	s.Require().NoError(err)

	s.Run("only the bond owner may cancel", func() {
		_, err := s.svc.CancelWithdrawal(ctx, "alice", "mallory")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("clears the pending request", func() {
		bond, err := s.svc.CancelWithdrawal(ctx, "alice", "alice")
		s.Require().NoError(err)
		s.Zero(bond.WithdrawalRequestedAt)
		s.Len(s.events.ByTopic(audit.TopicCooldownCancelled), 1)
	})

	s.Run("cancel without a pending request is refused", func() {
		_, err := s.svc.CancelWithdrawal(ctx, "alice", "alice")
		s.True(dErrors.HasCode(err, dErrors.CodeBondState))
	})
}

// =============================================================================
// Emergency Withdrawal Tests
// =============================================================================

func (s *WithdrawSuite) TestEmergencyWithdraw() {
	ctx := context.Background()

	s.createBond("alice", 10_000, 365*86400, false, 0)

	s.Run("both principals must match exactly", func() {
		cases := []EmergencyWithdrawParams{
			{Identity: "alice", Amount: amount.New(100), Admin: "mallory", Governance: "governance"},
			{Identity: "alice", Amount: amount.New(100), Admin: "admin", Governance: "mallory"},
		}
		for _, params := range cases {
			_, err := s.svc.EmergencyWithdraw(ctx, params)
			s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		}
	})

	s.Run("bypasses the time gate and records the fee split", func() {
		record, err := s.svc.EmergencyWithdraw(ctx, EmergencyWithdrawParams{
			Identity:   "alice",
			Amount:     amount.New(10_000),
			Admin:      "admin",
			Governance: "governance",
			Reason:     "protocol incident",
		})
		s.Require().NoError(err)

		s.Equal(uint64(1), record.ID)
		s.Equal("10000", record.GrossAmount.String())
		s.Equal("500", record.FeeAmount.String())
		s.Equal("9500", record.NetAmount.String())

		s.Equal("9500", s.tok.BalanceOf("alice").String())
		s.Equal("500", s.tok.BalanceOf("treasury").String())

		stored, err := s.svc.EmergencyRecord(ctx, record.ID)
		s.Require().NoError(err)
		s.Equal("protocol incident", stored.Reason)
		s.Len(s.events.ByTopic(audit.TopicEmergencyWithdrawal), 1)
	})

	s.Run("record ids increment per withdrawal", func() {
		s.createBond("bob", 2_000, 365*86400, false, 0)

		record, err := s.svc.EmergencyWithdraw(ctx, EmergencyWithdrawParams{
			Identity:   "bob",
			Amount:     amount.New(1_000),
			Admin:      "admin",
			Governance: "governance",
		})
		s.Require().NoError(err)
		s.Equal(uint64(2), record.ID)
	})

	s.Run("refused when emergency mode is disabled", func() {
		s.Require().NoError(s.svc.SetEmergencyEnabled(ctx, "admin", false))

		_, err := s.svc.EmergencyWithdraw(ctx, EmergencyWithdrawParams{
			Identity:   "bob",
			Amount:     amount.New(100),
			Admin:      "admin",
			Governance: "governance",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeBondState))
	})
}

// =============================================================================
// Renewal Tests
// =============================================================================

func (s *WithdrawSuite) TestRenewIfRolling() {
	ctx := context.Background()

	s.Run("non-rolling bonds are left untouched", func() {
		created := s.createBond("alice", 1_000, 86400, false, 0)
		s.advance(2 * 86400 * time.Second)

		bond, err := s.svc.RenewIfRolling(ctx, "alice")
		s.Require().NoError(err)
		s.Equal(created.BondStart, bond.BondStart)
	})

	s.Run("rolling bond past expiry restarts its term", func() {
		created := s.createBond("bob", 1_000, 86400, true, 3600)
		s.advance(2 * 86400 * time.Second)

		bond, err := s.svc.RenewIfRolling(ctx, "bob")
		s.Require().NoError(err)
		s.Greater(bond.BondStart, created.BondStart)
		s.Equal(uint64(s.now.Unix()), bond.BondStart)
		s.Len(s.events.ByTopic(audit.TopicBondRenewed), 1)
	})

	s.Run("pending exit request blocks renewal", func() {
		s.createBond("carol", 1_000, 86400, true, 3600)
		_, err := s.svc.RequestWithdrawal(ctx, "carol")
		s.Require().NoError(err)
		s.advance(2 * 86400 * time.Second)

		bond, err := s.svc.RenewIfRolling(ctx, "carol")
		s.Require().NoError(err)
		s.Len(s.events.ByTopic(audit.TopicBondRenewed), 1, "no second renewal event")
		s.NotEqual(uint64(s.now.Unix()), bond.BondStart)
	})
}
