package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"credence/internal/bond/models"
	"credence/pkg/amount"
	dErrors "credence/pkg/domain-errors"
	"credence/pkg/platform/audit"
)

// The four withdrawal paths are mutually exclusive and each re-validates the
// available balance at execution time, so a slash landing between request and
// execution is always observed. State is committed before the external token
// transfer (checks-effects-interactions) and the whole interaction runs under
// the reentrancy guard.

// Withdraw executes the standard path: after expiry for fixed-term bonds, or
// after a requested notice period has elapsed for rolling bonds. Deactivates
// the bond when the bonded amount reaches zero.
func (s *Service) Withdraw(ctx context.Context, identity string, amt amount.Amount) (*models.IdentityBond, error) {
	ctx, span := s.tracer.Start(ctx, "bond.Withdraw",
		trace.WithAttributes(attribute.String("identity", identity)))
	defer span.End()

	if !amt.IsPositive() {
		return nil, dErrors.New(dErrors.CodeValidation, "withdrawal amount must be positive")
	}

	bond, err := s.activeBond(ctx, identity)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if bond.IsRolling {
		if bond.WithdrawalRequestedAt == 0 {
			return nil, dErrors.New(dErrors.CodeBondState, "withdrawal not requested")
		}
		eta, err := amount.AddSeconds(bond.WithdrawalRequestedAt, bond.NoticePeriodDuration)
		if err != nil {
			return nil, dErrors.New(dErrors.CodeArithmetic, "notice deadline would overflow")
		}
		if now < eta {
			return nil, dErrors.New(dErrors.CodeBondState, "notice period has not elapsed")
		}
	} else {
		expiry, err := bond.Expiry()
		if err != nil {
			return nil, dErrors.New(dErrors.CodeArithmetic, "bond expiry would overflow")
		}
		if now < expiry {
			return nil, dErrors.New(dErrors.CodeBondState, "bond has not expired")
		}
	}

	release, err := s.reentrancy.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	// The cooldown request is consumed by this execution; clearing it is
	// part of the same state swap as the balance reduction.
	requestedAt := bond.WithdrawalRequestedAt
	bond.WithdrawalRequestedAt = 0

	bond, err = s.applyWithdrawal(ctx, bond, amt, identity, "standard")
	if err != nil {
		return nil, err
	}

	if bond.IsRolling {
		s.emit(ctx, audit.TopicCooldownExecuted, identity, map[string]any{
			"requested_at": requestedAt,
			"amount":       amt.String(),
		})
	}
	return bond.Clone(), nil
}

// WithdrawEarly exits before expiry against a configured penalty. There is no
// free early exit: a zero penalty rate disables the path.
func (s *Service) WithdrawEarly(ctx context.Context, identity string, amt amount.Amount) (*models.IdentityBond, error) {
	ctx, span := s.tracer.Start(ctx, "bond.WithdrawEarly",
		trace.WithAttributes(attribute.String("identity", identity)))
	defer span.End()

	if !amt.IsPositive() {
		return nil, dErrors.New(dErrors.CodeValidation, "withdrawal amount must be positive")
	}
	if s.cfg.EarlyExitPenaltyBps == 0 {
		return nil, dErrors.New(dErrors.CodeBondState, "early exit penalty is not configured")
	}

	bond, err := s.activeBond(ctx, identity)
	if err != nil {
		return nil, err
	}

	expiry, err := bond.Expiry()
	if err != nil {
		return nil, dErrors.New(dErrors.CodeArithmetic, "bond expiry would overflow")
	}
	if s.now() >= expiry {
		return nil, dErrors.New(dErrors.CodeBondState, "bond has expired, use standard withdrawal")
	}

	available, err := bond.AvailableBalance()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "slashed amount exceeds bonded amount")
	}
	if amt.Cmp(available) > 0 {
		return nil, dErrors.New(dErrors.CodeBondState, "insufficient available balance")
	}

	penalty, err := amt.MulBps(s.cfg.EarlyExitPenaltyBps)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeArithmetic, "penalty calculation")
	}
	net, err := amt.Sub(penalty)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeArithmetic, "penalty exceeds amount")
	}

	release, err := s.reentrancy.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	before := bond.BondedAmount
	newBonded, err := bond.BondedAmount.Sub(amt)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeArithmetic, "withdrawal underflow")
	}
	bond.BondedAmount = newBonded
	if newBonded.IsZero() {
		bond.Active = false
	}
	if err := s.bonds.Update(ctx, bond); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store bond")
	}
	if !bond.Active {
		s.metrics.DecActiveBonds()
	}

	if err := s.token.Transfer(ctx, identity, net); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "transfer net amount")
	}
	if err := s.token.Transfer(ctx, s.cfg.Treasury, penalty); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "transfer penalty to treasury")
	}

	s.metrics.IncWithdrawal("early")
	s.emit(ctx, audit.TopicEarlyExitPenalty, identity, map[string]any{
		"amount":   amt.String(),
		"penalty":  penalty.String(),
		"net":      net.String(),
		"treasury": s.cfg.Treasury,
	})
	s.emitTierChange(ctx, identity, before, newBonded)
	return bond.Clone(), nil
}

// RequestWithdrawal opens the rolling cooldown window. At most one request
// may be pending per identity.
func (s *Service) RequestWithdrawal(ctx context.Context, identity string) (*models.IdentityBond, error) {
	bond, err := s.activeBond(ctx, identity)
	if err != nil {
		return nil, err
	}
	if !bond.IsRolling {
		return nil, dErrors.New(dErrors.CodeBondState, "not a rolling bond")
	}
	if bond.WithdrawalRequestedAt != 0 {
		return nil, dErrors.New(dErrors.CodeConflict, "withdrawal already requested")
	}

	bond.WithdrawalRequestedAt = s.now()
	if err := s.bonds.Update(ctx, bond); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store bond")
	}

	s.emit(ctx, audit.TopicCooldownRequested, identity, map[string]any{
		"requested_at":  bond.WithdrawalRequestedAt,
		"notice_period": bond.NoticePeriodDuration,
	})
	return bond.Clone(), nil
}

// CancelWithdrawal clears a pending cooldown request. Only the identity that
// made the request may cancel it.
func (s *Service) CancelWithdrawal(ctx context.Context, identity, caller string) (*models.IdentityBond, error) {
	if caller != identity {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only the requester can cancel")
	}

	bond, err := s.activeBond(ctx, identity)
	if err != nil {
		return nil, err
	}
	if bond.WithdrawalRequestedAt == 0 {
		return nil, dErrors.New(dErrors.CodeBondState, "no pending withdrawal request")
	}

	bond.WithdrawalRequestedAt = 0
	if err := s.bonds.Update(ctx, bond); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store bond")
	}

	s.emit(ctx, audit.TopicCooldownCancelled, identity, nil)
	return bond.Clone(), nil
}

// EmergencyWithdrawParams carries the dual approval for the emergency path.
// Both principals must exactly match the configured addresses.
type EmergencyWithdrawParams struct {
	Identity   string
	Amount     amount.Amount
	Admin      string
	Governance string
	Reason     string
}

// EmergencyWithdraw bypasses time gating under dual approval and an enabled
// emergency mode. The gross amount leaves the bond; the fee goes to the
// treasury; an immutable record is appended.
func (s *Service) EmergencyWithdraw(ctx context.Context, params EmergencyWithdrawParams) (*models.EmergencyRecord, error) {
	ctx, span := s.tracer.Start(ctx, "bond.EmergencyWithdraw",
		trace.WithAttributes(attribute.String("identity", params.Identity)))
	defer span.End()

	if !s.emergencyEnabled.Load() {
		return nil, dErrors.New(dErrors.CodeBondState, "emergency mode is not enabled")
	}
	if params.Admin != s.cfg.Emergency.Admin || params.Governance != s.cfg.Emergency.Governance {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "emergency approval mismatch")
	}
	if !params.Amount.IsPositive() {
		return nil, dErrors.New(dErrors.CodeValidation, "withdrawal amount must be positive")
	}

	bond, err := s.activeBond(ctx, params.Identity)
	if err != nil {
		return nil, err
	}

	available, err := bond.AvailableBalance()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "slashed amount exceeds bonded amount")
	}
	if params.Amount.Cmp(available) > 0 {
		return nil, dErrors.New(dErrors.CodeBondState, "insufficient available balance")
	}

	fee, err := params.Amount.MulBps(s.cfg.Emergency.FeeBps)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeArithmetic, "fee calculation")
	}
	net, err := params.Amount.Sub(fee)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeArithmetic, "fee exceeds amount")
	}

	release, err := s.reentrancy.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	before := bond.BondedAmount
	newBonded, err := bond.BondedAmount.Sub(params.Amount)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeArithmetic, "withdrawal underflow")
	}
	bond.BondedAmount = newBonded
	if newBonded.IsZero() {
		bond.Active = false
	}
	if err := s.bonds.Update(ctx, bond); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store bond")
	}
	if !bond.Active {
		s.metrics.DecActiveBonds()
	}

	record := &models.EmergencyRecord{
		Identity:           params.Identity,
		GrossAmount:        params.Amount,
		FeeAmount:          fee,
		NetAmount:          net,
		Treasury:           s.cfg.Emergency.Treasury,
		ApprovedAdmin:      params.Admin,
		ApprovedGovernance: params.Governance,
		Reason:             params.Reason,
		Timestamp:          s.now(),
	}
	id, err := s.emergencies.Append(ctx, record)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store emergency record")
	}
	record.ID = id

	if err := s.token.Transfer(ctx, params.Identity, net); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "transfer net amount")
	}
	if err := s.token.Transfer(ctx, s.cfg.Emergency.Treasury, fee); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "transfer fee to treasury")
	}

	s.metrics.IncWithdrawal("emergency")
	s.emit(ctx, audit.TopicEmergencyWithdrawal, params.Identity, map[string]any{
		"record_id": id,
		"gross":     params.Amount.String(),
		"fee":       fee.String(),
		"net":       net.String(),
		"reason":    params.Reason,
	})
	s.emitTierChange(ctx, params.Identity, before, newBonded)

	s.logger.WarnContext(ctx, "emergency withdrawal executed",
		"identity", params.Identity,
		"record_id", id,
		"gross", params.Amount,
	)
	return record, nil
}

// EmergencyRecord returns an immutable emergency withdrawal record by id.
func (s *Service) EmergencyRecord(ctx context.Context, id uint64) (*models.EmergencyRecord, error) {
	record, err := s.emergencies.Get(ctx, id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "emergency record not found")
	}
	return record, nil
}

// LatestEmergencyRecordID reports the id of the most recently appended
// emergency record, 0 when none exist.
func (s *Service) LatestEmergencyRecordID(ctx context.Context) (uint64, error) {
	id, err := s.emergencies.LatestID(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "read latest emergency record id")
	}
	return id, nil
}

// RenewIfRolling rolls a rolling bond's start forward once its period has
// ended, unless a withdrawal request is pending. Not an error when nothing
// needs renewing.
func (s *Service) RenewIfRolling(ctx context.Context, identity string) (*models.IdentityBond, error) {
	bond, err := s.activeBond(ctx, identity)
	if err != nil {
		return nil, err
	}
	if !bond.IsRolling || bond.WithdrawalRequestedAt != 0 {
		return bond.Clone(), nil
	}

	expiry, err := bond.Expiry()
	if err != nil {
		return nil, dErrors.New(dErrors.CodeArithmetic, "bond expiry would overflow")
	}
	now := s.now()
	if now < expiry {
		return bond.Clone(), nil
	}

	bond.BondStart = now
	if _, err := bond.Expiry(); err != nil {
		return nil, dErrors.New(dErrors.CodeArithmetic, "renewed expiry would overflow")
	}
	if err := s.bonds.Update(ctx, bond); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store bond")
	}

	s.emit(ctx, audit.TopicBondRenewed, identity, map[string]any{
		"bond_start": bond.BondStart,
		"duration":   bond.BondDuration,
	})
	return bond.Clone(), nil
}

// applyWithdrawal commits the balance reduction, then performs the external
// transfer. Shared by the standard path; early and emergency paths inline
// their fee splits.
func (s *Service) applyWithdrawal(ctx context.Context, bond *models.IdentityBond, amt amount.Amount, recipient, path string) (*models.IdentityBond, error) {
	available, err := bond.AvailableBalance()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "slashed amount exceeds bonded amount")
	}
	if amt.Cmp(available) > 0 {
		return nil, dErrors.New(dErrors.CodeBondState, "insufficient available balance")
	}

	before := bond.BondedAmount
	newBonded, err := bond.BondedAmount.Sub(amt)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeArithmetic, "withdrawal underflow")
	}
	bond.BondedAmount = newBonded
	if newBonded.IsZero() {
		bond.Active = false
	}
	if err := s.bonds.Update(ctx, bond); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store bond")
	}
	if !bond.Active {
		s.metrics.DecActiveBonds()
	}

	if err := s.token.Transfer(ctx, recipient, amt); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "transfer withdrawal")
	}

	s.metrics.IncWithdrawal(path)
	s.emit(ctx, audit.TopicBondWithdrawn, bond.Identity, map[string]any{
		"amount":     amt.String(),
		"new_bonded": newBonded.String(),
		"path":       path,
		"active":     bond.Active,
	})
	s.emitTierChange(ctx, bond.Identity, before, newBonded)
	return bond, nil
}
