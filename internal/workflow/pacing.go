package workflow

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ibeckermayer/unrepost/internal/config"
)

// Pacing draws the randomized delays between actions.
type Pacing struct {
	cfg config.PacingConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPacing returns a Pacing drawing from src, or from a randomly seeded
// source when src is nil.
func NewPacing(cfg config.PacingConfig, src rand.Source) *Pacing {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Pacing{cfg: cfg, rng: rand.New(src)}
}

// Settle is the fixed wait after navigation clicks.
func (p *Pacing) Settle() time.Duration {
	return p.cfg.SettleDelay.Duration
}

// RemovalDelay follows a confirmed removal.
func (p *Pacing) RemovalDelay() time.Duration {
	return p.between(p.cfg.RemovalDelayMin.Duration, p.cfg.RemovalDelayMax.Duration)
}

// ItemDelay follows a move to the next item.
func (p *Pacing) ItemDelay() time.Duration {
	return p.between(p.cfg.ItemDelayMin.Duration, p.cfg.ItemDelayMax.Duration)
}

// between returns a uniform duration in [lo, hi].
func (p *Pacing) between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return lo + time.Duration(p.rng.Int64N(int64(hi-lo)+1))
}
