package generation

import (
	"context"
	"sync"
	"time"
)

// AssetGuard is the at-most-once latch for generation work. Acquire returns
// true only for the single caller that should run the generation; everyone
// else observes the work as in flight until Release or TTL expiry. The TTL is
// the safety net for a holder that crashes without releasing.
type AssetGuard interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

var _ AssetGuard = (*MemoryGuard)(nil)

// MemoryGuard is an in-process AssetGuard. Only safe when a single server
// instance runs the generation pipeline.
type MemoryGuard struct {
	mu      sync.Mutex
	ttl     time.Duration
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryGuard creates a guard whose entries expire after ttl.
func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{
		ttl:     ttl,
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if deadline, held := g.expires[key]; held && now.Before(deadline) {
		return false, nil
	}
	g.expires[key] = now.Add(g.ttl)
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.expires, key)
	return nil
}
