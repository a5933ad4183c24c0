package token

import (
	"context"
	"sync"

	"credence/pkg/amount"
)

// ledgerAccount is the synthetic account holding all bonded collateral.
const ledgerAccount = "__ledger__"

// InMemoryToken is a minimal ERC-20-style balance/allowance book used in
// tests and dev mode. The ledger is the only spender.
type InMemoryToken struct {
	mu         sync.Mutex
	balances   map[string]amount.Amount
	allowances map[string]amount.Amount
}

func NewInMemoryToken() *InMemoryToken {
	return &InMemoryToken{
		balances:   make(map[string]amount.Amount),
		allowances: make(map[string]amount.Amount),
	}
}

// Mint credits an account. Test setup helper.
func (t *InMemoryToken) Mint(account string, amt amount.Amount) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sum, _ := t.balances[account].Add(amt)
	t.balances[account] = sum
}

// Approve lets the ledger spend up to amt from owner.
func (t *InMemoryToken) Approve(owner string, amt amount.Amount) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances[owner] = amt
}

// BalanceOf returns the current balance of an account.
func (t *InMemoryToken) BalanceOf(account string) amount.Amount {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[account]
}

func (t *InMemoryToken) TransferFrom(_ context.Context, owner string, amt amount.Amount) error {
	if amt.IsZero() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.allowances[owner].Cmp(amt) < 0 {
		return ErrInsufficientAllowance
	}
	newBalance, err := t.balances[owner].Sub(amt)
	if err != nil {
		return ErrInsufficientBalance
	}
	newAllowance, _ := t.allowances[owner].Sub(amt)
	ledgerBalance, err := t.balances[ledgerAccount].Add(amt)
	if err != nil {
		return err
	}

	t.balances[owner] = newBalance
	t.allowances[owner] = newAllowance
	t.balances[ledgerAccount] = ledgerBalance
	return nil
}

func (t *InMemoryToken) Transfer(_ context.Context, recipient string, amt amount.Amount) error {
	if amt.IsZero() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	newLedger, err := t.balances[ledgerAccount].Sub(amt)
	if err != nil {
		return ErrInsufficientBalance
	}
	newRecipient, err := t.balances[recipient].Add(amt)
	if err != nil {
		return err
	}

	t.balances[ledgerAccount] = newLedger
	t.balances[recipient] = newRecipient
	return nil
}
