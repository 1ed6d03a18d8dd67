package mission

import (
	"sync"
	"time"

	"github.com/MichaelTJones/pcg"
)

const pcgStream = 0xda3e39cb94b95bdb

// Rand is a goroutine-safe PCG source shared by the clock increments and
// the random scanner.
type Rand struct {
	mu sync.Mutex
	r  *pcg.PCG32
}

// NewRand returns a generator seeded with seed, or with the current time
// when seed is zero.
func NewRand(seed int64) *Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	r := pcg.NewPCG32()
	r.Seed(uint64(seed), pcgStream)
	return &Rand{r: r}
}

// Float64 returns a value in [0,1]
func (r *Rand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return float64(r.r.Random()) / (1<<32 - 1)
}

// Increments yields the per-tick progress step
type Increments interface {
	Next() float64
}

// UniformIncrements draws steps uniformly from [Min, Max]
type UniformIncrements struct {
	Rand     *Rand
	Min, Max float64
}

func (u UniformIncrements) Next() float64 {
	return u.Min + (u.Max-u.Min)*u.Rand.Float64()
}

// FixedIncrement always steps by the same amount
type FixedIncrement float64

func (f FixedIncrement) Next() float64 { return float64(f) }
