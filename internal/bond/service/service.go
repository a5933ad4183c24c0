// Package service implements the bond ledger's business rules: creation,
// top-up, tier derivation, the four withdrawal paths, and atomic batch
// creation. Stores persist records; this layer owns every invariant.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	bondMetrics "credence/internal/bond/metrics"
	"credence/internal/bond/models"
	"credence/internal/bond/store"
	"credence/internal/guard"
	"credence/internal/platform/middleware"
	"credence/internal/token"
	"credence/pkg/amount"
	dErrors "credence/pkg/domain-errors"
	"credence/pkg/platform/audit"
	"credence/pkg/platform/sentinel"
)

// Config carries the ledger parameters fixed at construction. A zero
// EarlyExitPenaltyBps disables the early withdrawal path entirely.
type Config struct {
	Thresholds          models.Thresholds
	EarlyExitPenaltyBps uint32
	Treasury            string
	Emergency           models.EmergencyConfig
}

func (c Config) validate() error {
	if c.EarlyExitPenaltyBps > 10_000 {
		return errors.New("early exit penalty bps must be <= 10000")
	}
	if c.Emergency.FeeBps > 10_000 {
		return errors.New("emergency fee bps must be <= 10000")
	}
	if c.Thresholds.Silver.Cmp(c.Thresholds.Bronze) < 0 ||
		c.Thresholds.Gold.Cmp(c.Thresholds.Silver) < 0 ||
		c.Thresholds.Platinum.Cmp(c.Thresholds.Gold) < 0 {
		return errors.New("tier thresholds must be non-decreasing")
	}
	return nil
}

// Service orchestrates bond accounting. All mutations compute the full
// post-state before persisting, so a store swap commits everything or
// nothing.
type Service struct {
	bonds       store.BondStore
	emergencies store.EmergencyStore
	token       token.Token
	nonces      *guard.NonceGuard
	reentrancy  *guard.ReentrancyGuard
	cfg         Config

	// Emergency mode is the one runtime-mutable parameter.
	emergencyEnabled atomic.Bool

	clock     func() time.Time
	logger    *slog.Logger
	publisher audit.Publisher
	metrics   *bondMetrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

func WithAuditPublisher(publisher audit.Publisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func WithMetrics(m *bondMetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New constructs the bond service. The store, token collaborator, and nonce
// guard are required; everything else defaults.
func New(bonds store.BondStore, emergencies store.EmergencyStore, tok token.Token, nonces *guard.NonceGuard, cfg Config, opts ...Option) (*Service, error) {
	if bonds == nil {
		return nil, errors.New("bond store is required")
	}
	if emergencies == nil {
		return nil, errors.New("emergency store is required")
	}
	if tok == nil {
		return nil, errors.New("token collaborator is required")
	}
	if nonces == nil {
		return nil, errors.New("nonce guard is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &Service{
		bonds:       bonds,
		emergencies: emergencies,
		token:       tok,
		nonces:      nonces,
		reentrancy:  guard.NewReentrancyGuard(),
		cfg:         cfg,
		clock:       time.Now,
		logger:      slog.Default(),
		publisher:   audit.NewLogPublisher(slog.Default()),
		tracer:      otel.Tracer("credence/bond"),
	}
	s.emergencyEnabled.Store(cfg.Emergency.Enabled)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateBondParams are the caller-supplied bond creation arguments. Nonce
// must match the identity's current replay counter.
type CreateBondParams struct {
	Identity     string
	Amount       amount.Amount
	Duration     uint64
	IsRolling    bool
	NoticePeriod uint64
	Nonce        uint64
}

// CreateBond locks collateral for an identity. Funds are pulled via the token
// collaborator only after all validations pass; a storage collision after the
// pull is compensated by transferring the funds back.
func (s *Service) CreateBond(ctx context.Context, params CreateBondParams) (*models.IdentityBond, error) {
	if params.Identity == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "identity is required")
	}
	if !params.Amount.IsPositive() {
		return nil, dErrors.New(dErrors.CodeValidation, "bond amount must be positive")
	}
	if params.Duration == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "bond duration must be non-zero")
	}
	if params.IsRolling && params.NoticePeriod == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "rolling bond requires a notice period")
	}

	now := s.now()
	if _, err := amount.AddSeconds(now, params.Duration); err != nil {
		return nil, dErrors.New(dErrors.CodeArithmetic, "bond expiry would overflow")
	}

	if err := s.checkNonce(ctx, params.Identity, params.Nonce); err != nil {
		return nil, err
	}

	existing, err := s.bonds.Get(ctx, params.Identity)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load bond")
	}
	if existing != nil && existing.Active {
		return nil, dErrors.New(dErrors.CodeConflict, "an active bond already exists for this identity")
	}

	if err := s.pullFunds(ctx, params.Identity, params.Amount); err != nil {
		return nil, err
	}

	// The nonce advances only once the operation is committed to succeed, so
	// a rejected request never burns the caller's replay counter.
	if err := s.consumeNonce(ctx, params.Identity, params.Nonce); err != nil {
		s.refund(ctx, params.Identity, params.Amount, "nonce consume failed")
		return nil, err
	}

	bond := &models.IdentityBond{
		Identity:             params.Identity,
		BondedAmount:         params.Amount,
		SlashedAmount:        amount.Zero(),
		BondStart:            now,
		BondDuration:         params.Duration,
		IsRolling:            params.IsRolling,
		NoticePeriodDuration: params.NoticePeriod,
		Active:               true,
	}
	if err := s.bonds.Create(ctx, bond); err != nil {
		// The slot was taken between the pre-check and the create. Return
		// the pulled funds before reporting the conflict.
		s.refund(ctx, params.Identity, params.Amount, "create conflict")
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "an active bond already exists for this identity")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store bond")
	}

	s.metrics.IncBondsCreated(1)
	s.emit(ctx, audit.TopicBondCreated, params.Identity, map[string]any{
		"amount":        params.Amount.String(),
		"duration":      params.Duration,
		"is_rolling":    params.IsRolling,
		"notice_period": params.NoticePeriod,
	})
	s.emitTierChange(ctx, params.Identity, amount.Zero(), bond.BondedAmount)

	s.logger.InfoContext(ctx, "bond created",
		"identity", params.Identity,
		"amount", params.Amount,
		"is_rolling", params.IsRolling,
	)
	return bond.Clone(), nil
}

// TopUp increases an active bond's collateral with checked addition.
func (s *Service) TopUp(ctx context.Context, identity string, amt amount.Amount, nonce uint64) (*models.IdentityBond, error) {
	if !amt.IsPositive() {
		return nil, dErrors.New(dErrors.CodeValidation, "top-up amount must be positive")
	}

	if err := s.checkNonce(ctx, identity, nonce); err != nil {
		return nil, err
	}

	bond, err := s.activeBond(ctx, identity)
	if err != nil {
		return nil, err
	}

	newBonded, err := bond.BondedAmount.Add(amt)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeArithmetic, "top-up would overflow bonded amount")
	}

	if err := s.pullFunds(ctx, identity, amt); err != nil {
		return nil, err
	}

	if err := s.consumeNonce(ctx, identity, nonce); err != nil {
		s.refund(ctx, identity, amt, "nonce consume failed")
		return nil, err
	}

	before := bond.BondedAmount
	bond.BondedAmount = newBonded
	if err := s.bonds.Update(ctx, bond); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store bond")
	}

	s.emit(ctx, audit.TopicBondIncreased, identity, map[string]any{
		"amount":     amt.String(),
		"new_bonded": newBonded.String(),
	})
	s.emitTierChange(ctx, identity, before, newBonded)
	return bond.Clone(), nil
}

// ExtendDuration lengthens an active bond's lock-up with checked arithmetic
// on both the duration and the resulting expiry.
func (s *Service) ExtendDuration(ctx context.Context, identity string, additional uint64) (*models.IdentityBond, error) {
	if additional == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "additional duration must be non-zero")
	}

	bond, err := s.activeBond(ctx, identity)
	if err != nil {
		return nil, err
	}

	newDuration, err := amount.AddSeconds(bond.BondDuration, additional)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeArithmetic, "duration extension would overflow")
	}
	if _, err := amount.AddSeconds(bond.BondStart, newDuration); err != nil {
		return nil, dErrors.New(dErrors.CodeArithmetic, "bond expiry would overflow")
	}

	bond.BondDuration = newDuration
	if err := s.bonds.Update(ctx, bond); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store bond")
	}
	return bond.Clone(), nil
}

// Get returns the bond and its current tier.
func (s *Service) Get(ctx context.Context, identity string) (*models.IdentityBond, models.Tier, error) {
	bond, err := s.bonds.Get(ctx, identity)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, models.TierNone, dErrors.New(dErrors.CodeNotFound, "no bond for identity")
		}
		return nil, models.TierNone, dErrors.Wrap(err, dErrors.CodeInternal, "load bond")
	}
	return bond, s.tierOf(bond.BondedAmount), nil
}

// Nonce returns the replay counter value the identity must supply next.
func (s *Service) Nonce(ctx context.Context, identity string) (uint64, error) {
	return s.nonces.Current(ctx, identity)
}

// SetEmergencyEnabled toggles emergency mode. Admin-only.
func (s *Service) SetEmergencyEnabled(ctx context.Context, caller string, enabled bool) error {
	if caller != s.cfg.Emergency.Admin {
		return dErrors.New(dErrors.CodeUnauthorized, "only the admin can toggle emergency mode")
	}
	s.emergencyEnabled.Store(enabled)
	s.emit(ctx, audit.TopicEmergencyMode, "", map[string]any{
		"enabled": enabled,
		"admin":   caller,
	})
	s.logger.WarnContext(ctx, "emergency mode toggled", "enabled", enabled)
	return nil
}

// EmergencyEnabled reports the current emergency mode flag.
func (s *Service) EmergencyEnabled() bool {
	return s.emergencyEnabled.Load()
}

func (s *Service) activeBond(ctx context.Context, identity string) (*models.IdentityBond, error) {
	if identity == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "identity is required")
	}
	bond, err := s.bonds.Get(ctx, identity)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no bond for identity")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load bond")
	}
	if !bond.Active {
		return nil, dErrors.New(dErrors.CodeBondState, "bond is not active")
	}
	return bond, nil
}

// checkNonce validates the supplied nonce without advancing the counter.
// Mutating operations call it up front so early rejections leave the replay
// counter untouched, then consumeNonce at their commit point.
func (s *Service) checkNonce(ctx context.Context, identity string, supplied uint64) error {
	if err := s.nonces.Check(ctx, identity, supplied); err != nil {
		if dErrors.HasCode(err, dErrors.CodeReplay) {
			s.metrics.IncReplayRejections()
		}
		return err
	}
	return nil
}

func (s *Service) consumeNonce(ctx context.Context, identity string, supplied uint64) error {
	if err := s.nonces.Consume(ctx, identity, supplied); err != nil {
		if dErrors.HasCode(err, dErrors.CodeReplay) {
			s.metrics.IncReplayRejections()
		}
		return err
	}
	return nil
}

// refund returns previously pulled collateral after a mid-operation failure.
// A refund failure is logged, not returned: the original error is the one the
// caller needs to see.
func (s *Service) refund(ctx context.Context, identity string, amt amount.Amount, cause string) {
	if err := s.token.Transfer(ctx, identity, amt); err != nil {
		s.logger.ErrorContext(ctx, "refund failed",
			"identity", identity,
			"amount", amt,
			"cause", cause,
			"error", err,
		)
	}
}

// pullFunds moves collateral from the identity into the ledger's account,
// translating token-level failures into caller-facing errors.
func (s *Service) pullFunds(ctx context.Context, identity string, amt amount.Amount) error {
	err := s.token.TransferFrom(ctx, identity, amt)
	if err == nil {
		return nil
	}
	if errors.Is(err, token.ErrInsufficientAllowance) {
		return dErrors.New(dErrors.CodeBadRequest, "insufficient token allowance")
	}
	if errors.Is(err, token.ErrInsufficientBalance) {
		return dErrors.New(dErrors.CodeBadRequest, "insufficient token balance")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "pull collateral")
}

func (s *Service) tierOf(bonded amount.Amount) models.Tier {
	return models.TierFor(bonded, s.cfg.Thresholds)
}

// emitTierChange publishes a tier_changed event when a bonded-amount change
// crosses a threshold. Observable side effect only; never gates logic.
func (s *Service) emitTierChange(ctx context.Context, identity string, before, after amount.Amount) {
	oldTier := s.tierOf(before)
	newTier := s.tierOf(after)
	if oldTier == newTier {
		return
	}
	s.emit(ctx, audit.TopicTierChanged, identity, map[string]any{
		"old_tier": oldTier.String(),
		"new_tier": newTier.String(),
	})
}

func (s *Service) emit(ctx context.Context, topic audit.Topic, identity string, data map[string]any) {
	event := audit.Event{
		Topic:     topic,
		Category:  topic.Category(),
		Identity:  identity,
		Timestamp: s.clock(),
		RequestID: middleware.GetRequestID(ctx),
		Data:      data,
	}
	if err := s.publisher.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "emit event failed",
			"topic", topic,
			"identity", identity,
			"error", err,
		)
	}
}

// now is the per-call clock read in unix seconds. Time is sampled once per
// operation and not re-read mid-call.
func (s *Service) now() uint64 {
	return uint64(s.clock().Unix())
}
