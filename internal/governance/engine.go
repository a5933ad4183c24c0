package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dErrors "credence/pkg/domain-errors"
	"credence/pkg/platform/sentinel"
)

const quorumDenominator = 10_000

// Store persists proposals. Implementations own id assignment.
type Store interface {
	Create(ctx context.Context, p *Proposal) (uint64, error)
	Get(ctx context.Context, id uint64) (*Proposal, error)
	Update(ctx context.Context, p *Proposal) error
}

// Config fixes the governor set and quorum at initialization. The set is
// read-only for the engine's lifetime; rotating governors means constructing
// a new engine.
type Config struct {
	Governors    []string
	QuorumBps    uint32
	MinGovernors uint32
	VotingPeriod time.Duration
}

// Engine drives proposals from Pending to Executed or Rejected under a
// count-vote quorum rule: approvals / total_governors >= quorum.
type Engine struct {
	store     Store
	cfg       Config
	governors map[string]bool
	clock     func() time.Time
	logger    *slog.Logger
}

type Option func(*Engine)

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func NewEngine(store Store, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("proposal store is required")
	}
	if cfg.QuorumBps == 0 || cfg.QuorumBps > quorumDenominator {
		return nil, fmt.Errorf("quorum bps must be in (0, %d]", quorumDenominator)
	}
	if uint32(len(cfg.Governors)) < cfg.MinGovernors {
		return nil, fmt.Errorf("%d governors configured, %d required", len(cfg.Governors), cfg.MinGovernors)
	}

	governors := make(map[string]bool, len(cfg.Governors))
	for _, g := range cfg.Governors {
		if g == "" {
			return nil, errors.New("governor address cannot be empty")
		}
		if governors[g] {
			return nil, fmt.Errorf("duplicate governor %s", g)
		}
		governors[g] = true
	}

	e := &Engine{
		store:     store,
		cfg:       cfg,
		governors: governors,
		clock:     time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// IsGovernor reports membership in the registered governor set.
func (e *Engine) IsGovernor(addr string) bool {
	return e.governors[addr]
}

// Governors returns the configured governor addresses.
func (e *Engine) Governors() []string {
	out := make([]string, 0, len(e.governors))
	for _, g := range e.cfg.Governors {
		out = append(out, g)
	}
	return out
}

// Propose opens a new Pending proposal. Caller authorization (who may
// propose which action) is the embedding service's concern.
func (e *Engine) Propose(ctx context.Context, proposer string, action Action) (*Proposal, error) {
	if proposer == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "proposer is required")
	}
	if err := validateAction(action); err != nil {
		return nil, err
	}

	now := e.clock()
	p := &Proposal{
		Action:    action,
		Proposer:  proposer,
		Votes:     make(map[string]bool),
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(e.cfg.VotingPeriod),
	}
	id, err := e.store.Create(ctx, p)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create proposal")
	}
	p.ID = id

	e.logger.InfoContext(ctx, "proposal created",
		"proposal_id", id,
		"kind", action.Kind,
		"proposer", proposer,
	)
	return p, nil
}

// Vote records one immutable vote per governor and recomputes the proposal
// status. Quorum is met when approvals/total_governors >= quorum ratio; the
// proposal is rejected early once quorum becomes unreachable.
func (e *Engine) Vote(ctx context.Context, voter string, proposalID uint64, approve bool) (*Proposal, error) {
	if !e.IsGovernor(voter) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "not a registered governor")
	}

	p, err := e.get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if expired, err := e.rejectIfExpired(ctx, p); expired {
		return nil, err
	}
	if p.Status != StatusPending {
		return nil, dErrors.Newf(dErrors.CodeGovernance, "proposal is %s, voting closed", p.Status)
	}
	if _, voted := p.Votes[voter]; voted {
		return nil, dErrors.New(dErrors.CodeGovernance, "governor already voted")
	}

	p.Votes[voter] = approve
	total := len(e.governors)
	if e.quorumMet(p.Approvals(), total) {
		p.Status = StatusApproved
	} else if !e.quorumMet(total-p.Rejections(), total) {
		// Even if every remaining governor approves, quorum cannot be met.
		p.Status = StatusRejected
	}

	if err := e.store.Update(ctx, p); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record vote")
	}

	e.logger.InfoContext(ctx, "vote recorded",
		"proposal_id", proposalID,
		"voter", voter,
		"approve", approve,
		"status", p.Status,
	)
	return p.Clone(), nil
}

// Execute transitions an Approved proposal to Executed and returns it so the
// caller can apply the action. Only the original proposer may execute, and a
// proposal executes at most once.
func (e *Engine) Execute(ctx context.Context, executor string, proposalID uint64) (*Proposal, error) {
	p, err := e.get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Proposer != executor {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only the proposer can execute")
	}
	if p.Status == StatusExecuted || p.Status == StatusRejected {
		return nil, dErrors.Newf(dErrors.CodeGovernance, "proposal already %s", p.Status)
	}
	if expired, err := e.rejectIfExpired(ctx, p); expired {
		return nil, err
	}
	// Re-check quorum at execution time rather than trusting the status
	// recorded when the deciding vote landed.
	if !e.quorumMet(p.Approvals(), len(e.governors)) {
		return nil, dErrors.New(dErrors.CodeGovernance, "quorum not reached")
	}

	p.Status = StatusExecuted
	if err := e.store.Update(ctx, p); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "mark proposal executed")
	}

	e.logger.InfoContext(ctx, "proposal executed",
		"proposal_id", proposalID,
		"kind", p.Action.Kind,
	)
	return p.Clone(), nil
}

// Get returns a proposal snapshot.
func (e *Engine) Get(ctx context.Context, proposalID uint64) (*Proposal, error) {
	p, err := e.get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

func (e *Engine) get(ctx context.Context, proposalID uint64) (*Proposal, error) {
	p, err := e.store.Get(ctx, proposalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "proposal not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load proposal")
	}
	return p, nil
}

// rejectIfExpired lazily transitions a Pending proposal whose voting window
// has passed. Returns (true, error) when the caller must stop.
func (e *Engine) rejectIfExpired(ctx context.Context, p *Proposal) (bool, error) {
	if p.Status != StatusPending && p.Status != StatusApproved {
		return false, nil
	}
	if p.Status == StatusApproved || !e.clock().After(p.ExpiresAt) {
		return false, nil
	}
	p.Status = StatusRejected
	if err := e.store.Update(ctx, p); err != nil {
		return true, dErrors.Wrap(err, dErrors.CodeInternal, "expire proposal")
	}
	return true, dErrors.New(dErrors.CodeGovernance, "proposal voting period expired")
}

func (e *Engine) quorumMet(approvals, total int) bool {
	if total == 0 {
		return false
	}
	return approvals*quorumDenominator >= int(e.cfg.QuorumBps)*total
}

func validateAction(a Action) error {
	switch a.Kind {
	case ActionSlash:
		if a.TargetIdentity == "" {
			return dErrors.New(dErrors.CodeValidation, "slash action requires a target identity")
		}
		if !a.Amount.IsPositive() {
			return dErrors.New(dErrors.CodeValidation, "slash amount must be positive")
		}
	case ActionPause, ActionUnpause:
		// No payload.
	default:
		return dErrors.Newf(dErrors.CodeValidation, "unknown action kind %q", a.Kind)
	}
	return nil
}
