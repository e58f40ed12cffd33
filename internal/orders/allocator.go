package orders

import (
	"context"
	"math/rand"
	"strconv"
)

const DefaultAllocatorAttempts = 20

// Allocator draws short numeric order numbers. The space is small on
// purpose, so collisions are expected and retried up to MaxAttempts.
type Allocator struct {
	Min, Max    int
	MaxAttempts int
	// Draw returns a candidate in [Min, Max]; nil uses math/rand.
	Draw func(min, max int) int
}

func NewAllocator() *Allocator {
	return &Allocator{Min: 1000, Max: 9999, MaxAttempts: DefaultAllocatorAttempts}
}

// Allocate must run inside the same transaction that inserts the order; the
// unique constraint on the number column catches whatever the pre-check
// cannot see.
func (a *Allocator) Allocate(ctx context.Context, store OrderStore) (string, error) {
	attempts := a.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultAllocatorAttempts
	}
	for i := 0; i < attempts; i++ {
		number := strconv.Itoa(a.draw())
		existing, err := store.FindByNumber(ctx, number)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return number, nil
		}
	}
	return "", ErrAllocatorExhausted
}

func (a *Allocator) draw() int {
	if a.Draw != nil {
		return a.Draw(a.Min, a.Max)
	}
	return a.Min + rand.Intn(a.Max-a.Min+1)
}
