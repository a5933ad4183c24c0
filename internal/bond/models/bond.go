// Package models holds the bond ledger's domain records. Storage lives in
// the store layer; invariant-preserving mutation lives in the service layer.
package models

import "credence/pkg/amount"

// IdentityBond is the per-identity collateral record. Exactly one active
// bond exists per identity.
//
// Invariant: 0 <= SlashedAmount <= BondedAmount at all reachable states.
type IdentityBond struct {
	Identity     string        `json:"identity"`
	BondedAmount amount.Amount `json:"bonded_amount"`
	SlashedAmount amount.Amount `json:"slashed_amount"`

	// BondStart and BondDuration are unix seconds; expiry is their checked sum.
	BondStart    uint64 `json:"bond_start"`
	BondDuration uint64 `json:"bond_duration"`

	// Rolling bonds auto-renew at period end unless withdrawal was requested.
	IsRolling             bool   `json:"is_rolling"`
	NoticePeriodDuration  uint64 `json:"notice_period_duration"`
	WithdrawalRequestedAt uint64 `json:"withdrawal_requested_at"` // 0 = no pending request

	// Active is false only after the bonded amount reaches 0 via withdrawal.
	Active bool `json:"active"`
}

// AvailableBalance is the withdrawable remainder: bonded - slashed. The
// invariant keeps this non-negative; a violation here is a corrupted record.
func (b *IdentityBond) AvailableBalance() (amount.Amount, error) {
	return b.BondedAmount.Sub(b.SlashedAmount)
}

// Expiry returns bond_start + bond_duration with overflow checking.
func (b *IdentityBond) Expiry() (uint64, error) {
	return amount.AddSeconds(b.BondStart, b.BondDuration)
}

// Clone returns a copy so store snapshots cannot be mutated by callers.
// Amounts are immutable, so a shallow copy is sufficient.
func (b *IdentityBond) Clone() *IdentityBond {
	cp := *b
	return &cp
}

// SlashRecord is one entry in the append-only per-identity slash history.
type SlashRecord struct {
	Identity           string        `json:"identity"`
	SlashAmount        amount.Amount `json:"slash_amount"`
	Reason             string        `json:"reason"`
	Timestamp          uint64        `json:"timestamp"`
	TotalSlashedAfter  amount.Amount `json:"total_slashed_after"`
}
