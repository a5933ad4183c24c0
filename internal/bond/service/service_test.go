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
// Bond Service Test Suite
// =============================================================================
// Creation, top-up, and tier derivation carry the single-bond invariant and
// the checked-arithmetic guarantees; they are exercised here against the
// in-memory stores and token book.

type BondServiceSuite struct {
	suite.Suite
	bonds       *store.InMemoryBondStore
	emergencies *store.InMemoryEmergencyStore
	tok         *token.InMemoryToken
	events      *audit.MemoryPublisher
	svc         *Service
	now         time.Time
}

func TestBondServiceSuite(t *testing.T) {
	suite.Run(t, new(BondServiceSuite))
}

func (s *BondServiceSuite) SetupTest() {
	s.bonds = store.NewInMemoryBondStore()
	s.emergencies = store.NewInMemoryEmergencyStore()
	s.tok = token.NewInMemoryToken()
	s.events = audit.NewMemoryPublisher()
	s.now = time.Unix(1_700_000_000, 0)

	nonces, err := guard.NewNonceGuard(guard.NewInMemoryNonceStore(), nil)
	s.Require().NoError(err)

	s.svc, err = New(s.bonds, s.emergencies, s.tok, nonces, s.config(),
		WithClock(func() time.Time { return s.now }),
		WithAuditPublisher(s.events),
	)
	s.Require().NoError(err)
}

func (s *BondServiceSuite) config() Config {
	parse := func(v string) amount.Amount {
		a, err := amount.Parse(v)
		s.Require().NoError(err)
		return a
	}
	return Config{
		Thresholds: models.Thresholds{
			Bronze:   parse("100000000"),
			Silver:   parse("1000000000"),
			Gold:     parse("10000000000"),
			Platinum: parse("100000000000"),
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
}

// fund credits and approves collateral for an identity.
func (s *BondServiceSuite) fund(identity string, amt amount.Amount) {
	s.tok.Mint(identity, amt)
	s.tok.Approve(identity, amt)
}

// nextNonce reads the replay counter the identity must supply.
func (s *BondServiceSuite) nextNonce(identity string) uint64 {
	nonce, err := s.svc.Nonce(context.Background(), identity)
	s.Require().NoError(err)
	return nonce
}

// createBond funds and creates a bond with the correct nonce.
func (s *BondServiceSuite) createBond(identity string, amt int64, duration uint64, rolling bool, notice uint64) *models.IdentityBond {
	ctx := context.Background()
	s.fund(identity, amount.New(amt))
	bond, err := s.svc.CreateBond(ctx, CreateBondParams{
		Identity:     identity,
		Amount:       amount.New(amt),
		Duration:     duration,
		IsRolling:    rolling,
		NoticePeriod: notice,
		Nonce:        s.nextNonce(identity),
	})
	s.Require().NoError(err)
	return bond
}

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *BondServiceSuite) TestNew() {
	nonces, err := guard.NewNonceGuard(guard.NewInMemoryNonceStore(), nil)
	s.Require().NoError(err)

	s.Run("nil dependencies return errors", func() {
		_, err := New(nil, s.emergencies, s.tok, nonces, s.config())
		s.Error(err)
		_, err = New(s.bonds, nil, s.tok, nonces, s.config())
		s.Error(err)
		_, err = New(s.bonds, s.emergencies, nil, nonces, s.config())
		s.Error(err)
		_, err = New(s.bonds, s.emergencies, s.tok, nil, s.config())
		s.Error(err)
	})

	s.Run("out-of-range fee rates are rejected", func() {
		cfg := s.config()
		cfg.EarlyExitPenaltyBps = 10_001
		_, err := New(s.bonds, s.emergencies, s.tok, nonces, cfg)
		s.Error(err)
	})
}

// =============================================================================
// CreateBond Tests
// =============================================================================

func (s *BondServiceSuite) TestCreateBond() {
	ctx := context.Background()

	s.Run("validates parameters", func() {
		cases := []struct {
			name   string
			params CreateBondParams
		}{
			{"empty identity", CreateBondParams{Amount: amount.New(100), Duration: 86400}},
			{"zero amount", CreateBondParams{Identity: "alice", Duration: 86400}},
			{"zero duration", CreateBondParams{Identity: "alice", Amount: amount.New(100)}},
			{"rolling without notice", CreateBondParams{Identity: "alice", Amount: amount.New(100), Duration: 86400, IsRolling: true}},
		}
		for _, tc := range cases {
			_, err := s.svc.CreateBond(ctx, tc.params)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), tc.name)
		}
	})

	s.Run("pulls collateral and stores the bond", func() {
		bond := s.createBond("alice", 500_000_000, 30*86400, false, 0)

		s.Equal("alice", bond.Identity)
		s.Equal("500000000", bond.BondedAmount.String())
		s.True(bond.Active)
		s.True(s.tok.BalanceOf("alice").IsZero())
	})

	s.Run("emits creation and tier events", func() {
		s.createBond("bob", 1_000_000_000, 86400, false, 0)

		var created int
		for _, event := range s.events.ByTopic(audit.TopicBondCreated) {
			if event.Identity == "bob" {
				created++
			}
		}
		s.Equal(1, created)

		tierEvents := s.events.ByTopic(audit.TopicTierChanged)
		s.Require().NotEmpty(tierEvents)
		s.Equal("silver", tierEvents[len(tierEvents)-1].Data["new_tier"])
	})

	s.Run("second active bond for the same identity conflicts", func() {
		s.createBond("carol", 100, 86400, false, 0)

		s.fund("carol", amount.New(100))
		_, err := s.svc.CreateBond(ctx, CreateBondParams{
			Identity: "carol",
			Amount:   amount.New(100),
			Duration: 86400,
			Nonce:    s.nextNonce("carol"),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		nonce, nonceErr := s.svc.Nonce(ctx, "carol")
		s.NoError(nonceErr)
		s.Equal(uint64(1), nonce, "a conflicting create must not advance the replay counter")
	})

	s.Run("wrong nonce is rejected as replay", func() {
		s.fund("dave", amount.New(100))
		_, err := s.svc.CreateBond(ctx, CreateBondParams{
			Identity: "dave",
			Amount:   amount.New(100),
			Duration: 86400,
			Nonce:    7,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeReplay))

		nonce, nonceErr := s.svc.Nonce(ctx, "dave")
		s.NoError(nonceErr)
		s.Equal(uint64(0), nonce)
	})

	s.Run("insufficient allowance rejects the whole call", func() {
		s.tok.Mint("erin", amount.New(100))
		_, err := s.svc.CreateBond(ctx, CreateBondParams{
			Identity: "erin",
			Amount:   amount.New(100),
			Duration: 86400,
			Nonce:    s.nextNonce("erin"),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

		_, getErr := s.bonds.Get(ctx, "erin")
		s.Error(getErr, "no bond may be stored after a failed pull")

		nonce, nonceErr := s.svc.Nonce(ctx, "erin")
		s.NoError(nonceErr)
		s.Equal(uint64(0), nonce, "a failed pull must not advance the replay counter")

		s.fund("erin", amount.New(100))
		bond, createErr := s.svc.CreateBond(ctx, CreateBondParams{
			Identity: "erin",
			Amount:   amount.New(100),
			Duration: 86400,
			Nonce:    s.nextNonce("erin"),
		})
		s.NoError(createErr, "the same nonce must still be usable after a rejection")
		s.True(bond.Active)
	})
}

// =============================================================================
// TopUp Tests
// =============================================================================

func (s *BondServiceSuite) TestTopUp() {
	ctx := context.Background()

	s.Run("requires an active bond", func() {
		_, err := s.svc.TopUp(ctx, "ghost", amount.New(10), s.nextNonce("ghost"))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("increases the bonded amount and may change tier", func() {
		s.createBond("alice", 900_000_000, 86400, false, 0)

		s.fund("alice", amount.New(200_000_000))
		bond, err := s.svc.TopUp(ctx, "alice", amount.New(200_000_000), s.nextNonce("alice"))
		s.NoError(err)
		s.Equal("1100000000", bond.BondedAmount.String())

		tierEvents := s.events.ByTopic(audit.TopicTierChanged)
		s.Require().NotEmpty(tierEvents)
		last := tierEvents[len(tierEvents)-1]
		s.Equal("bronze", last.Data["old_tier"])
		s.Equal("silver", last.Data["new_tier"])
	})

	s.Run("zero amount is rejected", func() {
		s.createBond("bob", 100, 86400, false, 0)
		_, err := s.svc.TopUp(ctx, "bob", amount.Zero(), s.nextNonce("bob"))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("replayed nonce is rejected", func() {
		s.createBond("carol", 100, 86400, false, 0)
		nonce := s.nextNonce("carol")

		s.fund("carol", amount.New(20))
		_, err := s.svc.TopUp(ctx, "carol", amount.New(10), nonce)
		s.NoError(err)

		_, err = s.svc.TopUp(ctx, "carol", amount.New(10), nonce)
		s.True(dErrors.HasCode(err, dErrors.CodeReplay))
	})

	s.Run("rejected top-up leaves the replay counter intact", func() {
		s.createBond("dave", 100, 86400, false, 0)
		nonce := s.nextNonce("dave")

		// No allowance for the top-up, so the pull is refused.
		_, err := s.svc.TopUp(ctx, "dave", amount.New(10), nonce)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
		s.Equal(nonce, s.nextNonce("dave"))

		s.fund("dave", amount.New(10))
		bond, err := s.svc.TopUp(ctx, "dave", amount.New(10), nonce)
		s.NoError(err, "the same nonce must still be usable after a rejection")
		s.Equal("110", bond.BondedAmount.String())
	})
}

// =============================================================================
// ExtendDuration Tests
// =============================================================================

func (s *BondServiceSuite) TestExtendDuration() {
	ctx := context.Background()

	s.Run("extends the lock-up", func() {
		s.createBond("alice", 100, 86400, false, 0)

		bond, err := s.svc.ExtendDuration(ctx, "alice", 86400)
		s.NoError(err)
		s.Equal(uint64(2*86400), bond.BondDuration)
	})

	s.Run("zero extension is rejected", func() {
		s.createBond("bob", 100, 86400, false, 0)
		_, err := s.svc.ExtendDuration(ctx, "bob", 0)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("overflow of the extended expiry is fatal", func() {
		s.createBond("carol", 100, 86400, false, 0)
		_, err := s.svc.ExtendDuration(ctx, "carol", ^uint64(0)-86400)
		s.True(dErrors.HasCode(err, dErrors.CodeArithmetic))
	})
}

// =============================================================================
// Get / Emergency Mode Tests
// =============================================================================

func (s *BondServiceSuite) TestGet() {
	ctx := context.Background()

	s.Run("unknown identity returns not found", func() {
		_, _, err := s.svc.Get(ctx, "ghost")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("returns the bond with its tier", func() {
		s.createBond("alice", 10_000_000_000, 86400, false, 0)

		bond, tier, err := s.svc.Get(ctx, "alice")
		s.NoError(err)
		s.Equal("alice", bond.Identity)
		s.Equal(models.TierGold, tier)
	})
}

func (s *BondServiceSuite) TestSetEmergencyEnabled() {
	ctx := context.Background()

	s.Run("only the configured admin can toggle", func() {
		err := s.svc.SetEmergencyEnabled(ctx, "mallory", false)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("toggle is observable and emits an event", func() {
		s.Require().NoError(s.svc.SetEmergencyEnabled(ctx, "admin", false))
		s.False(s.svc.EmergencyEnabled())
		s.Len(s.events.ByTopic(audit.TopicEmergencyMode), 1)

		s.Require().NoError(s.svc.SetEmergencyEnabled(ctx, "admin", true))
		s.True(s.svc.EmergencyEnabled())
	})
}
