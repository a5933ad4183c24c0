package models

import "credence/pkg/amount"

// EmergencyConfig gates the emergency withdrawal path. Both the stored admin
// and governance principals must independently approve each withdrawal.
type EmergencyConfig struct {
	Admin      string
	Governance string
	Treasury   string
	FeeBps     uint32
	Enabled    bool
}

// EmergencyRecord is an immutable audit entry appended on every executed
// emergency withdrawal. Ids increment strictly; records are never mutated.
type EmergencyRecord struct {
	ID                 uint64        `json:"id"`
	Identity           string        `json:"identity"`
	GrossAmount        amount.Amount `json:"gross_amount"`
	FeeAmount          amount.Amount `json:"fee_amount"`
	NetAmount          amount.Amount `json:"net_amount"`
	Treasury           string        `json:"treasury"`
	ApprovedAdmin      string        `json:"approved_admin"`
	ApprovedGovernance string        `json:"approved_governance"`
	Reason             string        `json:"reason"`
	Timestamp          uint64        `json:"timestamp"`
}

// BatchEntry is one bond's creation parameters inside an atomic batch.
type BatchEntry struct {
	Identity             string        `json:"identity"`
	Amount               amount.Amount `json:"amount"`
	Duration             uint64        `json:"duration"`
	IsRolling            bool          `json:"is_rolling"`
	NoticePeriodDuration uint64        `json:"notice_period_duration"`
}

// BatchResult summarizes an all-or-nothing batch commit.
type BatchResult struct {
	CreatedCount int             `json:"created_count"`
	Bonds        []*IdentityBond `json:"bonds"`
}
