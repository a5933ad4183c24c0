// Package governance implements a generic proposal / vote / quorum state
// machine. Actions are tagged variants so the same machinery serves
// slash execution and pause toggles without duplicated logic.
package governance

import (
	"time"

	"credence/pkg/amount"
)

// ActionKind tags the payload a proposal carries.
type ActionKind string

const (
	ActionSlash   ActionKind = "slash"
	ActionPause   ActionKind = "pause"
	ActionUnpause ActionKind = "unpause"
)

// Action is the payload executed once a proposal reaches quorum. Slash
// actions carry a target and amount; pause toggles carry neither.
type Action struct {
	Kind           ActionKind    `json:"kind"`
	TargetIdentity string        `json:"target_identity,omitempty"`
	Amount         amount.Amount `json:"amount,omitzero"`
	Reason         string        `json:"reason,omitempty"`
}

// Status is the proposal lifecycle state. Proposals are created once, voted
// on, and terminate in Executed or Rejected; they are never reused.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusExecuted Status = "executed"
	StatusRejected Status = "rejected"
)

// Proposal records one governance action and its votes. Votes are immutable
// once cast: one entry per governor, no overwrites.
type Proposal struct {
	ID        uint64          `json:"id"`
	Action    Action          `json:"action"`
	Proposer  string          `json:"proposer"`
	Votes     map[string]bool `json:"votes"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Approvals counts affirmative votes.
func (p *Proposal) Approvals() int {
	n := 0
	for _, approve := range p.Votes {
		if approve {
			n++
		}
	}
	return n
}

// Rejections counts negative votes.
func (p *Proposal) Rejections() int {
	return len(p.Votes) - p.Approvals()
}

// Clone returns a deep copy so store snapshots cannot be mutated by callers.
func (p *Proposal) Clone() *Proposal {
	cp := *p
	cp.Votes = make(map[string]bool, len(p.Votes))
	for k, v := range p.Votes {
		cp.Votes[k] = v
	}
	return &cp
}
