package guard

import (
	"sync/atomic"

	dErrors "credence/pkg/domain-errors"
)

// ReentrancyGuard is a single boolean lock protecting operations that perform
// an external value transfer after mutating ledger state. Re-entry while held
// is a reported error, never a silent no-op.
//
// State mutation must be committed before the external transfer is made
// (checks-effects-interactions), so the guard is the second line of defense,
// not the first.
type ReentrancyGuard struct {
	locked atomic.Bool
}

func NewReentrancyGuard() *ReentrancyGuard {
	return &ReentrancyGuard{}
}

// Enter acquires the lock and returns a release function that must run on
// every exit path:
//
//	release, err := g.Enter()
//	if err != nil { return err }
//	defer release()
func (g *ReentrancyGuard) Enter() (func(), error) {
	if !g.locked.CompareAndSwap(false, true) {
		return nil, dErrors.New(dErrors.CodeReentrancy, "reentrant call detected")
	}
	return func() { g.locked.Store(false) }, nil
}

// IsLocked reports whether a guarded operation is in flight.
func (g *ReentrancyGuard) IsLocked() bool {
	return g.locked.Load()
}
