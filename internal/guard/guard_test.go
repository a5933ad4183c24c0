package guard

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	dErrors "credence/pkg/domain-errors"
)

// =============================================================================
// Nonce Guard Test Suite
// =============================================================================

type NonceGuardSuite struct {
	suite.Suite
	guard *NonceGuard
}

func TestNonceGuardSuite(t *testing.T) {
	suite.Run(t, new(NonceGuardSuite))
}

func (s *NonceGuardSuite) SetupTest() {
	var err error
	s.guard, err = NewNonceGuard(NewInMemoryNonceStore(), slog.Default())
	s.Require().NoError(err)
}

func (s *NonceGuardSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := NewNonceGuard(nil, slog.Default())
		s.Error(err)
	})
}

func (s *NonceGuardSuite) TestConsume() {
	ctx := context.Background()

	s.Run("counter starts at zero", func() {
		current, err := s.guard.Current(ctx, "alice")
		s.NoError(err)
		s.Equal(uint64(0), current)
	})

	s.Run("same value succeeds once and is rejected on replay", func() {
		s.NoError(s.guard.Consume(ctx, "bob", 0))

		err := s.guard.Consume(ctx, "bob", 0)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeReplay))
	})

	s.Run("out-of-order future value is rejected uniformly", func() {
		err := s.guard.Consume(ctx, "carol", 5)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeReplay))
	})

	s.Run("counter never decreases", func() {
		for i := uint64(0); i < 5; i++ {
			s.NoError(s.guard.Consume(ctx, "dave", i))
		}
		current, err := s.guard.Current(ctx, "dave")
		s.NoError(err)
		s.Equal(uint64(5), current)

		s.Error(s.guard.Consume(ctx, "dave", 3))
	})

	s.Run("identities have independent counters", func() {
		s.NoError(s.guard.Consume(ctx, "erin", 0))
		s.NoError(s.guard.Consume(ctx, "frank", 0))
	})

	s.Run("empty identity is a validation error", func() {
		err := s.guard.Consume(ctx, "", 0)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *NonceGuardSuite) TestCheck() {
	ctx := context.Background()

	s.Run("matching value passes without advancing the counter", func() {
		s.NoError(s.guard.Check(ctx, "alice", 0))
		s.NoError(s.guard.Check(ctx, "alice", 0))

		current, err := s.guard.Current(ctx, "alice")
		s.NoError(err)
		s.Equal(uint64(0), current)
	})

	s.Run("stale and future values are rejected as replay", func() {
		s.NoError(s.guard.Consume(ctx, "bob", 0))

		s.True(dErrors.HasCode(s.guard.Check(ctx, "bob", 0), dErrors.CodeReplay))
		s.True(dErrors.HasCode(s.guard.Check(ctx, "bob", 9), dErrors.CodeReplay))
		s.NoError(s.guard.Check(ctx, "bob", 1))
	})

	s.Run("empty identity is a validation error", func() {
		err := s.guard.Check(ctx, "", 0)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// =============================================================================
// Reentrancy Guard Tests
// =============================================================================

func TestReentrancyGuard(t *testing.T) {
	t.Run("re-entry while held is a reported error", func(t *testing.T) {
		g := NewReentrancyGuard()

		release, err := g.Enter()
		if err != nil {
			t.Fatalf("first entry: %v", err)
		}
		if !g.IsLocked() {
			t.Fatal("guard should be locked")
		}

		if _, err := g.Enter(); !dErrors.HasCode(err, dErrors.CodeReentrancy) {
			t.Fatalf("expected reentrancy error, got %v", err)
		}

		release()
		if g.IsLocked() {
			t.Fatal("guard should be released")
		}
	})

	t.Run("release reopens the guard on every exit path", func(t *testing.T) {
		g := NewReentrancyGuard()
		for i := 0; i < 3; i++ {
			release, err := g.Enter()
			if err != nil {
				t.Fatalf("entry %d: %v", i, err)
			}
			release()
		}
	})
}
