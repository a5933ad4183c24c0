// Package service implements slashing: the direct admin path, the
// governance propose/vote/execute path, and the bounded administrative
// reversal. Both slash paths share one application routine so the cap and
// monotonicity rules cannot diverge.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	bondMetrics "credence/internal/bond/metrics"
	"credence/internal/bond/models"
	"credence/internal/bond/store"
	"credence/internal/governance"
	"credence/internal/platform/middleware"
	"credence/pkg/amount"
	dErrors "credence/pkg/domain-errors"
	"credence/pkg/platform/audit"
	"credence/pkg/platform/sentinel"
)

// Service mutates slashed_amount. The bonded amount itself is never touched:
// slashing only shrinks the available balance, capped at the bonded amount.
type Service struct {
	bonds   store.BondStore
	history store.SlashHistoryStore
	engine  *governance.Engine
	admin   string

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

func New(bonds store.BondStore, history store.SlashHistoryStore, engine *governance.Engine, admin string, opts ...Option) (*Service, error) {
	if bonds == nil {
		return nil, errors.New("bond store is required")
	}
	if history == nil {
		return nil, errors.New("slash history store is required")
	}
	if engine == nil {
		return nil, errors.New("governance engine is required")
	}
	if admin == "" {
		return nil, errors.New("admin address is required")
	}

	s := &Service{
		bonds:     bonds,
		history:   history,
		engine:    engine,
		admin:     admin,
		clock:     time.Now,
		logger:    slog.Default(),
		publisher: audit.NewLogPublisher(slog.Default()),
		tracer:    otel.Tracer("credence/slashing"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Slash applies a direct admin slash.
func (s *Service) Slash(ctx context.Context, caller, identity string, amt amount.Amount, reason string) (*models.IdentityBond, error) {
	if caller != s.admin {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only the admin can slash directly")
	}
	return s.applySlash(ctx, identity, amt, reason, "direct")
}

// Unslash reverses part of a slash for appeals. Admin-only, bounded so the
// slashed amount never goes below zero.
func (s *Service) Unslash(ctx context.Context, caller, identity string, amt amount.Amount, reason string) (*models.IdentityBond, error) {
	if caller != s.admin {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only the admin can unslash")
	}
	if !amt.IsPositive() {
		return nil, dErrors.New(dErrors.CodeValidation, "unslash amount must be positive")
	}

	bond, err := s.activeBond(ctx, identity)
	if err != nil {
		return nil, err
	}

	newSlashed, err := bond.SlashedAmount.Sub(amt)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "unslash exceeds slashed amount")
	}

	bond.SlashedAmount = newSlashed
	if err := s.bonds.Update(ctx, bond); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store bond")
	}

	s.metrics.IncUnslashes()
	s.emit(ctx, audit.TopicBondUnslashed, identity, map[string]any{
		"amount":        amt.String(),
		"total_slashed": newSlashed.String(),
		"reason":        reason,
	})
	return bond.Clone(), nil
}

// ProposeSlash opens a governance proposal. The proposer must be the admin
// or a registered governor.
func (s *Service) ProposeSlash(ctx context.Context, proposer, identity string, amt amount.Amount, reason string) (*governance.Proposal, error) {
	if proposer != s.admin && !s.engine.IsGovernor(proposer) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "proposer must be the admin or a governor")
	}

	proposal, err := s.engine.Propose(ctx, proposer, governance.Action{
		Kind:           governance.ActionSlash,
		TargetIdentity: identity,
		Amount:         amt,
		Reason:         reason,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncProposals()
	s.emit(ctx, audit.TopicSlashProposed, identity, map[string]any{
		"proposal_id": proposal.ID,
		"amount":      amt.String(),
		"proposer":    proposer,
	})
	return proposal, nil
}

// Vote records a governor's vote on a slash proposal.
func (s *Service) Vote(ctx context.Context, voter string, proposalID uint64, approve bool) (*governance.Proposal, error) {
	proposal, err := s.engine.Vote(ctx, voter, proposalID, approve)
	if err != nil {
		return nil, err
	}

	s.metrics.IncVotes()
	s.emit(ctx, audit.TopicSlashVoteCast, proposal.Action.TargetIdentity, map[string]any{
		"proposal_id": proposalID,
		"voter":       voter,
		"approve":     approve,
		"status":      proposal.Status,
	})
	if proposal.Status == governance.StatusRejected {
		s.emit(ctx, audit.TopicSlashProposalRejected, proposal.Action.TargetIdentity, map[string]any{
			"proposal_id": proposalID,
		})
	}
	return proposal, nil
}

// ExecuteProposal applies an approved slash proposal. Only the proposer may
// execute, and a proposal executes at most once.
func (s *Service) ExecuteProposal(ctx context.Context, executor string, proposalID uint64) (*models.IdentityBond, error) {
	proposal, err := s.engine.Execute(ctx, executor, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal.Action.Kind != governance.ActionSlash {
		return nil, dErrors.Newf(dErrors.CodeGovernance, "proposal %d does not carry a slash action", proposalID)
	}

	bond, err := s.applySlash(ctx, proposal.Action.TargetIdentity, proposal.Action.Amount, proposal.Action.Reason, "governance")
	if err != nil {
		return nil, err
	}

	s.emit(ctx, audit.TopicSlashProposalExecuted, proposal.Action.TargetIdentity, map[string]any{
		"proposal_id": proposalID,
		"amount":      proposal.Action.Amount.String(),
		"executor":    executor,
	})
	return bond, nil
}

// Proposal returns a proposal snapshot.
func (s *Service) Proposal(ctx context.Context, proposalID uint64) (*governance.Proposal, error) {
	return s.engine.Get(ctx, proposalID)
}

// Governors lists the addresses eligible to vote on slash proposals.
func (s *Service) Governors() []string {
	return s.engine.Governors()
}

// History returns the append-only slash log for an identity.
func (s *Service) History(ctx context.Context, identity string) ([]models.SlashRecord, error) {
	records, err := s.history.List(ctx, identity)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load slash history")
	}
	return records, nil
}

// applySlash is shared by the direct and governance paths. The new slashed
// amount is the checked sum capped at the bonded amount: over-slash
// saturates, it is not rejected, and the cap makes repeated slashing at the
// ceiling a no-op.
func (s *Service) applySlash(ctx context.Context, identity string, amt amount.Amount, reason, via string) (*models.IdentityBond, error) {
	ctx, span := s.tracer.Start(ctx, "slashing.applySlash",
		trace.WithAttributes(
			attribute.String("identity", identity),
			attribute.String("via", via),
		))
	defer span.End()

	if !amt.IsPositive() {
		return nil, dErrors.New(dErrors.CodeValidation, "slash amount must be positive")
	}

	bond, err := s.activeBond(ctx, identity)
	if err != nil {
		return nil, err
	}

	raised, err := bond.SlashedAmount.Add(amt)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeArithmetic, "slash would overflow")
	}
	capped := raised.Min(bond.BondedAmount)

	applied, err := capped.Sub(bond.SlashedAmount)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "slashed amount decreased")
	}

	bond.SlashedAmount = capped
	if err := s.bonds.Update(ctx, bond); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store bond")
	}

	record := models.SlashRecord{
		Identity:          identity,
		SlashAmount:       applied,
		Reason:            reason,
		Timestamp:         uint64(s.clock().Unix()),
		TotalSlashedAfter: capped,
	}
	if err := s.history.Append(ctx, record); err != nil {
		s.logger.ErrorContext(ctx, "append slash record failed",
			"identity", identity,
			"error", err,
		)
	}

	s.metrics.IncSlashes()
	s.emit(ctx, audit.TopicBondSlashed, identity, map[string]any{
		"requested":     amt.String(),
		"applied":       applied.String(),
		"total_slashed": capped.String(),
		"via":           via,
		"reason":        reason,
	})

	s.logger.InfoContext(ctx, "bond slashed",
		"identity", identity,
		"applied", applied,
		"total_slashed", capped,
		"via", via,
	)
	return bond.Clone(), nil
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
