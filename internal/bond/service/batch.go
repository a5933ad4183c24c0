package service

import (
	"context"
	"errors"

	"credence/internal/bond/models"
	"credence/pkg/amount"
	dErrors "credence/pkg/domain-errors"
	"credence/pkg/platform/audit"
	"credence/pkg/platform/sentinel"
)

// ValidateBatch checks every entry without mutating state: amounts positive,
// durations non-zero and overflow-safe, rolling entries carry a notice
// period, and no identity collides within the batch or with an active bond.
func (s *Service) ValidateBatch(ctx context.Context, entries []models.BatchEntry) error {
	if len(entries) == 0 {
		return dErrors.New(dErrors.CodeValidation, "batch cannot be empty")
	}

	now := s.now()
	seen := make(map[string]bool, len(entries))
	for i, entry := range entries {
		if entry.Identity == "" {
			return dErrors.Newf(dErrors.CodeValidation, "batch entry %d: identity is required", i)
		}
		if seen[entry.Identity] {
			return dErrors.Newf(dErrors.CodeValidation, "batch entry %d: duplicate identity %s", i, entry.Identity)
		}
		seen[entry.Identity] = true

		if !entry.Amount.IsPositive() {
			return dErrors.Newf(dErrors.CodeValidation, "batch entry %d: amount must be positive", i)
		}
		if entry.Duration == 0 {
			return dErrors.Newf(dErrors.CodeValidation, "batch entry %d: duration must be non-zero", i)
		}
		if _, err := amount.AddSeconds(now, entry.Duration); err != nil {
			return dErrors.Newf(dErrors.CodeArithmetic, "batch entry %d: bond expiry would overflow", i)
		}
		if entry.IsRolling && entry.NoticePeriodDuration == 0 {
			return dErrors.Newf(dErrors.CodeValidation, "batch entry %d: rolling bond requires a notice period", i)
		}

		existing, err := s.bonds.Get(ctx, entry.Identity)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "load bond")
		}
		if existing != nil && existing.Active {
			return dErrors.Newf(dErrors.CodeConflict, "batch entry %d: active bond exists for %s", i, entry.Identity)
		}
	}
	return nil
}

// CommitBatch creates all bonds or none. Validation runs again at commit
// time; any failure leaves the ledger untouched. One aggregate event is
// emitted on success.
func (s *Service) CommitBatch(ctx context.Context, entries []models.BatchEntry) (*models.BatchResult, error) {
	if err := s.ValidateBatch(ctx, entries); err != nil {
		return nil, err
	}

	now := s.now()
	bonds := make([]*models.IdentityBond, 0, len(entries))
	for _, entry := range entries {
		bonds = append(bonds, &models.IdentityBond{
			Identity:             entry.Identity,
			BondedAmount:         entry.Amount,
			SlashedAmount:        amount.Zero(),
			BondStart:            now,
			BondDuration:         entry.Duration,
			IsRolling:            entry.IsRolling,
			NoticePeriodDuration: entry.NoticePeriodDuration,
			Active:               true,
		})
	}

	if err := s.bonds.CreateAll(ctx, bonds); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "batch collides with an existing active bond")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store batch")
	}

	snapshots := make([]*models.IdentityBond, 0, len(bonds))
	identities := make([]string, 0, len(bonds))
	for _, bond := range bonds {
		snapshots = append(snapshots, bond.Clone())
		identities = append(identities, bond.Identity)
		s.emitTierChange(ctx, bond.Identity, amount.Zero(), bond.BondedAmount)
	}

	s.metrics.IncBondsCreated(len(bonds))
	s.emit(ctx, audit.TopicBatchBondsCreated, "", map[string]any{
		"created_count": len(bonds),
		"identities":    identities,
	})

	s.logger.InfoContext(ctx, "batch bonds created", "count", len(bonds))
	return &models.BatchResult{CreatedCount: len(bonds), Bonds: snapshots}, nil
}

// BatchTotal sums a batch's amounts with checked addition. Pre-flight helper.
func BatchTotal(entries []models.BatchEntry) (amount.Amount, error) {
	total := amount.Zero()
	var err error
	for _, entry := range entries {
		if total, err = total.Add(entry.Amount); err != nil {
			return amount.Zero(), dErrors.New(dErrors.CodeArithmetic, "batch total would overflow")
		}
	}
	return total, nil
}
