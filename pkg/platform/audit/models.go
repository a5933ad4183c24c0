package audit

import "time"

// Topic names a ledger event. Topics are wire-stable and carry enough payload
// for an off-chain indexer to reconstruct state deltas without re-reading
// storage.
type Topic string

const (
	// Bond lifecycle
	TopicBondCreated   Topic = "bond_created"
	TopicBondIncreased Topic = "bond_increased"
	TopicBondWithdrawn Topic = "bond_withdrawn"
	TopicBondRenewed   Topic = "bond_renewed"
	TopicTierChanged   Topic = "tier_changed"

	// Slashing
	TopicBondSlashed   Topic = "bond_slashed"
	TopicBondUnslashed Topic = "bond_unslashed"

	// Rolling-withdrawal cooldown
	TopicCooldownRequested Topic = "cooldown_requested"
	TopicCooldownExecuted  Topic = "cooldown_executed"
	TopicCooldownCancelled Topic = "cooldown_cancelled"

	// Early exit
	TopicEarlyExitPenalty Topic = "early_exit_penalty"

	// Emergency path
	TopicEmergencyMode       Topic = "emergency_mode"
	TopicEmergencyWithdrawal Topic = "emergency_withdrawal"

	// Batch
	TopicBatchBondsCreated Topic = "batch_bonds_created"

	// Governance
	TopicSlashProposed         Topic = "slash_proposed"
	TopicSlashVoteCast         Topic = "slash_vote_cast"
	TopicSlashProposalExecuted Topic = "slash_proposal_executed"
	TopicSlashProposalRejected Topic = "slash_proposal_rejected"
)

// Category classifies events by their primary purpose so sinks can apply
// different retention and routing.
type Category string

const (
	// CategoryLedger covers balance-affecting events. These must be durably
	// stored: they are the authoritative off-chain record of funds movement.
	CategoryLedger Category = "ledger"

	// CategorySecurity covers events relevant to monitoring and forensics
	// (slashing, emergency mode, governance execution).
	CategorySecurity Category = "security"

	// CategoryOperations covers routine activity that can be sampled.
	CategoryOperations Category = "operations"
)

var topicCategories = map[Topic]Category{
	TopicBondCreated:         CategoryLedger,
	TopicBondIncreased:       CategoryLedger,
	TopicBondWithdrawn:       CategoryLedger,
	TopicBatchBondsCreated:   CategoryLedger,
	TopicEarlyExitPenalty:    CategoryLedger,
	TopicEmergencyWithdrawal: CategoryLedger,

	TopicBondSlashed:           CategorySecurity,
	TopicBondUnslashed:         CategorySecurity,
	TopicEmergencyMode:         CategorySecurity,
	TopicSlashProposed:         CategorySecurity,
	TopicSlashProposalExecuted: CategorySecurity,
	TopicSlashProposalRejected: CategorySecurity,

	TopicBondRenewed:       CategoryOperations,
	TopicTierChanged:       CategoryOperations,
	TopicCooldownRequested: CategoryOperations,
	TopicCooldownExecuted:  CategoryOperations,
	TopicCooldownCancelled: CategoryOperations,
	TopicSlashVoteCast:     CategoryOperations,
}

// Category returns the category for this topic. Unknown topics default to
// operations.
func (t Topic) Category() Category {
	if c, ok := topicCategories[t]; ok {
		return c
	}
	return CategoryOperations
}

// Event is emitted from domain logic to capture a ledger action. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	Topic     Topic          `json:"topic"`
	Category  Category       `json:"category"`
	Identity  string         `json:"identity,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"request_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}
