// Package token defines the external token collaborator that moves collateral
// in and out of the ledger. The ledger itself never holds balances; it only
// instructs this collaborator.
package token

import (
	"context"
	"errors"

	"credence/pkg/amount"
)

// Store-level facts surfaced by implementations. Services translate these
// into coded domain errors at the boundary.
var (
	ErrInsufficientAllowance = errors.New("insufficient token allowance")
	ErrInsufficientBalance   = errors.New("insufficient token balance")
)

// Token is the transfer surface the ledger depends on. A transfer of amount 0
// is a no-op that performs no external call on any implementation.
type Token interface {
	// TransferFrom pulls funds from owner into the ledger's account. The
	// owner must have approved at least amount beforehand; an insufficient
	// allowance rejects the whole call, never a partial transfer.
	TransferFrom(ctx context.Context, owner string, amt amount.Amount) error

	// Transfer pushes funds from the ledger's account to recipient.
	Transfer(ctx context.Context, recipient string, amt amount.Amount) error
}
